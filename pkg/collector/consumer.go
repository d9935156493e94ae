package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/config"
)

// Consumer runs the consumer-group read loops for the transcription and
// speaker-event streams. On startup it reclaims entries left pending by
// crashed peers.
type Consumer struct {
	bus       bus.Bus
	processor *Processor
	cfg       config.BusConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a stream consumer.
func NewConsumer(b bus.Bus, processor *Processor, cfg config.BusConfig) *Consumer {
	return &Consumer{bus: b, processor: processor, cfg: cfg}
}

// Start creates the consumer groups, reclaims stale pending entries, and
// launches one read loop per stream.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cancel != nil {
		return nil
	}
	if err := c.bus.EnsureGroup(ctx, c.cfg.TranscriptionStream, c.cfg.TranscriptionGroup); err != nil {
		return err
	}
	if err := c.bus.EnsureGroup(ctx, c.cfg.SpeakerStream, c.cfg.SpeakerGroup); err != nil {
		return err
	}

	c.reclaimStale(ctx, c.cfg.TranscriptionStream, c.cfg.TranscriptionGroup, c.processor.ProcessTranscription)
	c.reclaimStale(ctx, c.cfg.SpeakerStream, c.cfg.SpeakerGroup, c.processor.ProcessSpeakerEvent)

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.readLoop(ctx, c.cfg.TranscriptionStream, c.cfg.TranscriptionGroup, c.processor.ProcessTranscription)
	go c.readLoop(ctx, c.cfg.SpeakerStream, c.cfg.SpeakerGroup, c.processor.ProcessSpeakerEvent)

	slog.Info("Stream consumer started",
		"transcription_stream", c.cfg.TranscriptionStream,
		"speaker_stream", c.cfg.SpeakerStream,
		"consumer", c.cfg.ConsumerName)
	return nil
}

// Stop signals the read loops to exit and waits for them to finish.
func (c *Consumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	slog.Info("Stream consumer stopped")
}

type handlerFunc func(ctx context.Context, msg bus.StreamMessage) error

// reclaimStale absorbs pending entries whose previous consumer went away.
func (c *Consumer) reclaimStale(ctx context.Context, stream, group string, handle handlerFunc) {
	msgs, err := c.bus.ClaimStale(ctx, stream, group, c.cfg.ConsumerName, c.cfg.PendingMsgTimeout, c.cfg.StreamReadCount)
	if err != nil {
		slog.Error("Failed to claim stale stream entries", "stream", stream, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	slog.Info("Reclaimed stale stream entries", "stream", stream, "count", len(msgs))
	c.handleBatch(ctx, stream, group, msgs, handle)
}

func (c *Consumer) readLoop(ctx context.Context, stream, group string, handle handlerFunc) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.bus.ReadGroup(ctx, stream, group, c.cfg.ConsumerName, c.cfg.StreamReadCount, c.cfg.StreamBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Stream read failed", "stream", stream, "error", err)
			continue
		}
		c.handleBatch(ctx, stream, group, msgs, handle)
	}
}

// handleBatch processes messages in delivery order. Successful and
// permanently-failed messages are acked; retryable failures stay pending.
func (c *Consumer) handleBatch(ctx context.Context, stream, group string, msgs []bus.StreamMessage, handle handlerFunc) {
	for _, msg := range msgs {
		err := handle(ctx, msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrRetryable):
			slog.Warn("Leaving stream entry pending after retryable failure",
				"stream", stream, "message_id", msg.ID, "error", err)
			continue
		default:
			slog.Warn("Acking stream entry after unrecoverable failure",
				"stream", stream, "message_id", msg.ID, "error", err)
		}
		if err := c.bus.Ack(ctx, stream, group, msg.ID); err != nil {
			slog.Error("Failed to ack stream entry",
				"stream", stream, "message_id", msg.ID, "error", err)
		}
	}
}
