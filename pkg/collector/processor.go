package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/config"
	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
)

// ErrRetryable marks failures worth retrying: bus or store outages. The
// consumer leaves such messages pending so they are reclaimed later.
// Everything else (malformed payloads, unknown tokens, unknown meetings) is
// acked, because redelivery would fail identically forever.
var ErrRetryable = errors.New("retryable processing error")

// UserResolver resolves API tokens to users.
type UserResolver interface {
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
}

// MeetingFinder locates the newest meeting for a (user, platform, native id)
// tuple.
type MeetingFinder interface {
	FindLatestMeeting(ctx context.Context, userID int64, platform models.Platform, nativeID string, statuses []models.MeetingStatus) (*models.Meeting, error)
}

// SessionRecorder upserts session start anchors.
type SessionRecorder interface {
	RecordSessionStart(ctx context.Context, meetingID int64, sessionUID string, startTime time.Time) (*models.MeetingSession, error)
}

// Processor handles individual stream messages. It is shared by the live
// consumer loops and the startup reclaim pass.
type Processor struct {
	users    UserResolver
	meetings MeetingFinder
	sessions SessionRecorder
	bus      bus.Bus
	cfg      config.BusConfig

	// now is the clock for segment updated_at stamps. Tests override it.
	now func() time.Time
}

// NewProcessor creates a stream message processor.
func NewProcessor(users UserResolver, meetings MeetingFinder, sessions SessionRecorder, b bus.Bus, cfg config.BusConfig) *Processor {
	return &Processor{
		users:    users,
		meetings: meetings,
		sessions: sessions,
		bus:      b,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ProcessTranscription handles one entry from the transcription stream. A nil
// return or a non-retryable error means the message should be acked.
func (p *Processor) ProcessTranscription(ctx context.Context, msg bus.StreamMessage) error {
	payload, ok := msg.Values["payload"]
	if !ok {
		return fmt.Errorf("message %s missing payload field", msg.ID)
	}

	var envelope models.StreamEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return fmt.Errorf("message %s has malformed payload: %w", msg.ID, err)
	}
	if envelope.Type == "" {
		envelope.Type = models.StreamTypeTranscription
	}
	if envelope.Token == "" || envelope.Platform == "" || envelope.NativeMeetingID == "" {
		return fmt.Errorf("message %s missing token, platform or meeting_id", msg.ID)
	}

	user, err := p.users.GetUserByToken(ctx, envelope.Token)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("message %s carries unknown token", msg.ID)
		}
		return fmt.Errorf("%w: token lookup: %v", ErrRetryable, err)
	}

	meeting, err := p.meetings.FindLatestMeeting(ctx, user.ID, models.Platform(envelope.Platform), envelope.NativeMeetingID, nil)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("message %s references unknown meeting %s/%s for user %d",
				msg.ID, envelope.Platform, envelope.NativeMeetingID, user.ID)
		}
		return fmt.Errorf("%w: meeting lookup: %v", ErrRetryable, err)
	}

	switch envelope.Type {
	case models.StreamTypeSessionStart:
		return p.processSessionStart(ctx, msg.ID, payload, meeting)
	case models.StreamTypeSessionEnd:
		return p.processSessionEnd(ctx, envelope.UID)
	case models.StreamTypeTranscription:
		return p.processSegments(ctx, msg.ID, payload, meeting)
	default:
		slog.Warn("Skipping stream message with unknown type",
			"message_id", msg.ID, "type", envelope.Type)
		return nil
	}
}

func (p *Processor) processSessionStart(ctx context.Context, msgID, payload string, meeting *models.Meeting) error {
	var msg models.SessionStartMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("session_start %s has malformed payload: %w", msgID, err)
	}
	if msg.UID == "" || msg.StartTimestamp == "" {
		return fmt.Errorf("session_start %s missing uid or start_timestamp", msgID)
	}
	startTime, err := parseISOTimestamp(msg.StartTimestamp)
	if err != nil {
		return fmt.Errorf("session_start %s has invalid start_timestamp %q: %w", msgID, msg.StartTimestamp, err)
	}
	if _, err := p.sessions.RecordSessionStart(ctx, meeting.ID, msg.UID, startTime); err != nil {
		return fmt.Errorf("%w: record session start: %v", ErrRetryable, err)
	}
	slog.Info("Recorded session start",
		"meeting_id", meeting.ID, "session_uid", msg.UID, "start_time", startTime)
	return nil
}

func (p *Processor) processSessionEnd(ctx context.Context, sessionUID string) error {
	if sessionUID == "" {
		return nil
	}
	if err := p.bus.Del(ctx, bus.SpeakerEventsKey(sessionUID)); err != nil {
		return fmt.Errorf("%w: delete speaker events: %v", ErrRetryable, err)
	}
	slog.Info("Session ended, dropped speaker events", "session_uid", sessionUID)
	return nil
}

func (p *Processor) processSegments(ctx context.Context, msgID, payload string, meeting *models.Meeting) error {
	var msg models.TranscriptionMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("transcription %s has malformed payload: %w", msgID, err)
	}

	updatedAt := p.now().UTC().Format(time.RFC3339Nano)
	fields := make(map[string]string, len(msg.Segments))
	for i, seg := range msg.Segments {
		buffered, err := json.Marshal(models.BufferedSegment{
			Text:       seg.Text,
			EndTime:    seg.End,
			Language:   seg.Language,
			UpdatedAt:  updatedAt,
			SessionUID: msg.UID,
		})
		if err != nil {
			slog.Warn("Skipping unencodable segment",
				"message_id", msgID, "meeting_id", meeting.ID, "index", i)
			continue
		}
		fields[bus.FormatSegmentKey(seg.Start)] = string(buffered)
	}
	if len(fields) == 0 {
		slog.Info("Transcription message carried no storable segments",
			"message_id", msgID, "meeting_id", meeting.ID)
		return nil
	}

	hashKey := bus.SegmentsHashKey(meeting.ID)
	if err := p.bus.HSet(ctx, hashKey, fields); err != nil {
		return fmt.Errorf("%w: buffer segments: %v", ErrRetryable, err)
	}
	if err := p.bus.SAdd(ctx, bus.ActiveMeetingsKey, strconv.FormatInt(meeting.ID, 10)); err != nil {
		return fmt.Errorf("%w: mark meeting active: %v", ErrRetryable, err)
	}
	if err := p.bus.Expire(ctx, hashKey, p.cfg.SegmentTTL); err != nil {
		return fmt.Errorf("%w: refresh segment ttl: %v", ErrRetryable, err)
	}
	slog.Debug("Buffered segments",
		"message_id", msgID, "meeting_id", meeting.ID, "count", len(fields))
	return nil
}

// ProcessSpeakerEvent handles one entry from the speaker events stream. The
// entry's fields are flat, not wrapped in a payload envelope.
func (p *Processor) ProcessSpeakerEvent(ctx context.Context, msg bus.StreamMessage) error {
	uid := msg.Values["uid"]
	eventType := msg.Values["event_type"]
	if uid == "" || eventType == "" {
		return fmt.Errorf("speaker event %s missing uid or event_type", msg.ID)
	}
	ts, err := strconv.ParseFloat(msg.Values["relative_client_timestamp_ms"], 64)
	if err != nil {
		return fmt.Errorf("speaker event %s has invalid relative_client_timestamp_ms: %w", msg.ID, err)
	}

	event := models.SpeakerEvent{
		UID:                       uid,
		RelativeClientTimestampMS: ts,
		EventType:                 eventType,
		ParticipantName:           msg.Values["participant_name"],
		ParticipantID:             msg.Values["participant_id"],
	}
	member, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("speaker event %s not encodable: %w", msg.ID, err)
	}

	key := bus.SpeakerEventsKey(uid)
	if err := p.bus.ZAdd(ctx, key, ts, string(member)); err != nil {
		return fmt.Errorf("%w: store speaker event: %v", ErrRetryable, err)
	}
	if err := p.bus.Expire(ctx, key, p.cfg.SpeakerEventTTL); err != nil {
		return fmt.Errorf("%w: refresh speaker event ttl: %v", ErrRetryable, err)
	}
	return nil
}

// parseISOTimestamp accepts RFC3339 and zone-less ISO-8601 strings; the
// latter are taken as UTC.
func parseISOTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
