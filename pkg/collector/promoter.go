package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/config"
	"github.com/vexa-ai/vexa/pkg/models"
)

// TranscriptInserter persists promoted segments.
type TranscriptInserter interface {
	InsertBatch(ctx context.Context, segments []models.Transcription) (int64, error)
}

// Promoter periodically moves settled segments from the bus keyspace into
// the relational store. A segment is settled once its updated_at is older
// than the immutability threshold; the recognizer no longer revises it.
type Promoter struct {
	bus         bus.Bus
	transcripts TranscriptInserter
	filter      *Filter
	cfg         config.CollectorConfig

	cancel context.CancelFunc
	done   chan struct{}

	// now is the promotion clock. Tests override it.
	now func() time.Time
}

// NewPromoter creates a segment promoter.
func NewPromoter(b bus.Bus, transcripts TranscriptInserter, filter *Filter, cfg config.CollectorConfig) *Promoter {
	return &Promoter{
		bus:         b,
		transcripts: transcripts,
		filter:      filter,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Start launches the background promotion loop.
func (p *Promoter) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.run(ctx)

	slog.Info("Segment promoter started",
		"interval", p.cfg.PromoterInterval,
		"immutability_threshold", p.cfg.ImmutabilityThreshold)
}

// Stop signals the promotion loop to exit and waits for it to finish.
func (p *Promoter) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	slog.Info("Segment promoter stopped")
}

func (p *Promoter) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PromoterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs one promotion pass over every active meeting.
func (p *Promoter) RunOnce(ctx context.Context) {
	meetingIDs, err := p.bus.SMembers(ctx, bus.ActiveMeetingsKey)
	if err != nil {
		slog.Error("Promoter: failed to list active meetings", "error", err)
		return
	}
	for _, idStr := range meetingIDs {
		meetingID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			slog.Warn("Promoter: dropping unparseable active meeting id", "member", idStr)
			_ = p.bus.SRem(ctx, bus.ActiveMeetingsKey, idStr)
			continue
		}
		p.promoteMeeting(ctx, meetingID, idStr)
	}
}

func (p *Promoter) promoteMeeting(ctx context.Context, meetingID int64, member string) {
	hashKey := bus.SegmentsHashKey(meetingID)
	fields, err := p.bus.HGetAll(ctx, hashKey)
	if err != nil {
		slog.Error("Promoter: failed to read segment hash", "meeting_id", meetingID, "error", err)
		return
	}
	if len(fields) == 0 {
		if err := p.bus.SRem(ctx, bus.ActiveMeetingsKey, member); err != nil {
			slog.Error("Promoter: failed to retire empty meeting", "meeting_id", meetingID, "error", err)
		}
		return
	}

	cutoff := p.now().UTC().Add(-p.cfg.ImmutabilityThreshold)
	now := p.now().UTC()

	var batch []models.Transcription
	var processed []string
	for key, raw := range fields {
		var seg models.BufferedSegment
		if err := json.Unmarshal([]byte(raw), &seg); err != nil {
			slog.Warn("Promoter: dropping undecodable buffered segment",
				"meeting_id", meetingID, "field", key, "error", err)
			processed = append(processed, key)
			continue
		}
		updatedAt, err := parseISOTimestamp(seg.UpdatedAt)
		if err != nil {
			slog.Warn("Promoter: dropping buffered segment with bad updated_at",
				"meeting_id", meetingID, "field", key, "error", err)
			processed = append(processed, key)
			continue
		}
		if !updatedAt.Before(cutoff) {
			continue
		}

		// Settled. Rejected segments are dropped, not stored.
		processed = append(processed, key)
		language := ""
		if seg.Language != nil {
			language = *seg.Language
		}
		if !p.filter.Keep(seg.Text, language) {
			continue
		}
		startTime, err := strconv.ParseFloat(key, 64)
		if err != nil {
			slog.Warn("Promoter: dropping segment with unparseable start key",
				"meeting_id", meetingID, "field", key)
			continue
		}
		batch = append(batch, models.Transcription{
			MeetingID:  meetingID,
			SessionUID: seg.SessionUID,
			StartTime:  startTime,
			EndTime:    seg.EndTime,
			Text:       seg.Text,
			Language:   seg.Language,
			CreatedAt:  now,
		})
	}

	if len(batch) > 0 {
		inserted, err := p.transcripts.InsertBatch(ctx, batch)
		if err != nil {
			slog.Error("Promoter: failed to store segment batch",
				"meeting_id", meetingID, "count", len(batch), "error", err)
			return
		}
		slog.Info("Promoter: stored settled segments",
			"meeting_id", meetingID, "inserted", inserted, "processed", len(processed))
	}
	if len(processed) > 0 {
		if err := p.bus.HDel(ctx, hashKey, processed...); err != nil {
			slog.Error("Promoter: failed to clear promoted segments",
				"meeting_id", meetingID, "error", err)
		}
	}
}
