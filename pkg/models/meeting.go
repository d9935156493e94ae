package models

import (
	"time"
)

// MeetingStatus is the lifecycle state of a meeting's bot.
type MeetingStatus string

const (
	MeetingStatusRequested MeetingStatus = "requested"
	MeetingStatusActive    MeetingStatus = "active"
	MeetingStatusStopping  MeetingStatus = "stopping"
	MeetingStatusCompleted MeetingStatus = "completed"
	MeetingStatusFailed    MeetingStatus = "failed"
	MeetingStatusError     MeetingStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s MeetingStatus) IsTerminal() bool {
	switch s {
	case MeetingStatusCompleted, MeetingStatusFailed, MeetingStatusError:
		return true
	}
	return false
}

// validTransitions encodes the meeting state machine:
// requested → active → {stopping, completed, failed, error}.
var validTransitions = map[MeetingStatus][]MeetingStatus{
	MeetingStatusRequested: {MeetingStatusActive, MeetingStatusFailed, MeetingStatusError},
	MeetingStatusActive:    {MeetingStatusStopping, MeetingStatusCompleted, MeetingStatusFailed, MeetingStatusError},
	MeetingStatusStopping:  {MeetingStatusCompleted, MeetingStatusFailed},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to MeetingStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Meeting is one bot engagement with a platform meeting. A user may
// accumulate many rows for the same (platform, native id); the newest row is
// the authoritative one.
type Meeting struct {
	ID              int64          `json:"id"`
	UserID          int64          `json:"user_id"`
	Platform        Platform       `json:"platform"`
	NativeMeetingID string         `json:"native_meeting_id"`
	Status          MeetingStatus  `json:"status"`
	BotContainerID  *string        `json:"bot_container_id"`
	StartTime       *time.Time     `json:"start_time"`
	EndTime         *time.Time     `json:"end_time"`
	Data            map[string]any `json:"data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ConstructedURL returns the meeting URL derived from platform and native id,
// or nil when none can be built.
func (m *Meeting) ConstructedURL() *string {
	if url := ConstructMeetingURL(m.Platform, m.NativeMeetingID); url != "" {
		return &url
	}
	return nil
}

// MeetingSession is one bot connection to a meeting. Reconnects produce
// additional sessions; session_start_time is the authoritative anchor for
// converting segment-relative times to absolute times.
type MeetingSession struct {
	ID               int64     `json:"id"`
	MeetingID        int64     `json:"meeting_id"`
	SessionUID       string    `json:"session_uid"`
	SessionStartTime time.Time `json:"session_start_time"`
	CreatedAt        time.Time `json:"created_at"`
}
