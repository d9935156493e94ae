package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/models"
)

// MeetingFinder locates the newest meeting for a (user, platform, native id)
// tuple.
type MeetingFinder interface {
	FindLatestMeeting(ctx context.Context, userID int64, platform models.Platform, nativeID string, statuses []models.MeetingStatus) (*models.Meeting, error)
}

// SessionLister returns a meeting's sessions.
type SessionLister interface {
	ListByMeeting(ctx context.Context, meetingID int64) ([]*models.MeetingSession, error)
}

// TranscriptLister returns a meeting's persisted segments.
type TranscriptLister interface {
	ListByMeeting(ctx context.Context, meetingID int64) ([]*models.Transcription, error)
}

// Transcript is an assembled transcript: the meeting plus its segments in
// absolute chronological order.
type Transcript struct {
	Meeting  *models.Meeting
	Segments []models.AssembledSegment
}

// Assembler merges persisted and still-buffered segments into one transcript.
// Buffered entries override persisted rows with the same start key because
// they carry the most recent revision.
type Assembler struct {
	meetings    MeetingFinder
	sessions    SessionLister
	transcripts TranscriptLister
	bus         bus.Bus
}

// NewAssembler creates a transcript assembler.
func NewAssembler(meetings MeetingFinder, sessions SessionLister, transcripts TranscriptLister, b bus.Bus) *Assembler {
	return &Assembler{
		meetings:    meetings,
		sessions:    sessions,
		transcripts: transcripts,
		bus:         b,
	}
}

// GetTranscript assembles the transcript of the user's newest meeting for
// (platform, native id). Unknown meetings surface the store's not-found
// error.
func (a *Assembler) GetTranscript(ctx context.Context, userID int64, platform models.Platform, nativeID string) (*Transcript, error) {
	meeting, err := a.meetings.FindLatestMeeting(ctx, userID, platform, nativeID, nil)
	if err != nil {
		return nil, err
	}

	sessions, err := a.sessions.ListByMeeting(ctx, meeting.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	sessionStarts := make(map[string]time.Time, len(sessions))
	for _, sess := range sessions {
		sessionStarts[sess.SessionUID] = sess.SessionStartTime
	}

	persisted, err := a.transcripts.ListByMeeting(ctx, meeting.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcriptions: %w", err)
	}

	buffered, err := a.bus.HGetAll(ctx, bus.SegmentsHashKey(meeting.ID))
	if err != nil {
		// Persisted rows alone still make a useful transcript.
		slog.Error("Failed to fetch buffered segments, serving persisted rows only",
			"meeting_id", meeting.ID, "error", err)
		buffered = nil
	}

	merged := make(map[string]models.AssembledSegment, len(persisted)+len(buffered))

	for _, row := range persisted {
		sessionStart, ok := sessionStarts[models.StripSessionUIDPrefix(row.SessionUID)]
		if !ok {
			slog.Warn("Dropping persisted segment without session anchor",
				"meeting_id", meeting.ID, "session_uid", row.SessionUID, "start", row.StartTime)
			continue
		}
		createdAt := row.CreatedAt
		merged[bus.FormatSegmentKey(row.StartTime)] = models.AssembledSegment{
			StartTime:         row.StartTime,
			EndTime:           row.EndTime,
			Text:              row.Text,
			Language:          row.Language,
			Speaker:           row.Speaker,
			CreatedAt:         &createdAt,
			AbsoluteStartTime: absoluteTime(sessionStart, row.StartTime),
			AbsoluteEndTime:   absoluteTime(sessionStart, row.EndTime),
		}
	}

	for key, raw := range buffered {
		segment, ok := a.assembleBuffered(ctx, meeting.ID, key, raw, sessionStarts)
		if ok {
			merged[key] = segment
		}
	}

	segments := make([]models.AssembledSegment, 0, len(merged))
	for _, segment := range merged {
		segments = append(segments, segment)
	}
	sort.Slice(segments, func(i, j int) bool {
		if !segments[i].AbsoluteStartTime.Equal(segments[j].AbsoluteStartTime) {
			return segments[i].AbsoluteStartTime.Before(segments[j].AbsoluteStartTime)
		}
		return segments[i].StartTime < segments[j].StartTime
	})

	return &Transcript{Meeting: meeting, Segments: segments}, nil
}

func (a *Assembler) assembleBuffered(ctx context.Context, meetingID int64, key, raw string, sessionStarts map[string]time.Time) (models.AssembledSegment, bool) {
	var seg models.BufferedSegment
	if err := json.Unmarshal([]byte(raw), &seg); err != nil {
		slog.Warn("Dropping undecodable buffered segment",
			"meeting_id", meetingID, "field", key, "error", err)
		return models.AssembledSegment{}, false
	}
	if seg.SessionUID == "" {
		slog.Warn("Dropping buffered segment without session uid",
			"meeting_id", meetingID, "field", key)
		return models.AssembledSegment{}, false
	}

	lookupUID := models.StripSessionUIDPrefix(seg.SessionUID)
	sessionStart, ok := sessionStarts[lookupUID]
	if !ok {
		slog.Warn("Dropping buffered segment without session anchor",
			"meeting_id", meetingID, "field", key, "session_uid", seg.SessionUID)
		return models.AssembledSegment{}, false
	}

	var startTime float64
	if _, err := fmt.Sscanf(key, "%f", &startTime); err != nil {
		slog.Warn("Dropping buffered segment with unparseable start key",
			"meeting_id", meetingID, "field", key)
		return models.AssembledSegment{}, false
	}

	segment := models.AssembledSegment{
		StartTime:         startTime,
		EndTime:           seg.EndTime,
		Text:              seg.Text,
		Language:          seg.Language,
		AbsoluteStartTime: absoluteTime(sessionStart, startTime),
		AbsoluteEndTime:   absoluteTime(sessionStart, seg.EndTime),
	}

	// Buffered segments have not been through speaker attribution yet; map
	// them live from the session's speaker events.
	events, err := a.bus.ZRangeByScore(ctx, bus.SpeakerEventsKey(lookupUID), math.Inf(-1), math.Inf(1))
	if err == nil && len(events) > 0 {
		mapping := MapSpeaker(startTime*1000, seg.EndTime*1000, events)
		if mapping.Status == MappingMapped || mapping.Status == MappingMultiple {
			segment.Speaker = &mapping.Name
		}
	}
	return segment, true
}

func absoluteTime(sessionStart time.Time, relativeSeconds float64) time.Time {
	return sessionStart.UTC().Add(time.Duration(relativeSeconds * float64(time.Second)))
}
