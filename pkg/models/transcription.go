package models

import "time"

// Transcription is a finalized transcript segment. Rows are append-only:
// the promoter inserts them once a segment has aged past the immutability
// threshold, and they are never updated afterwards.
type Transcription struct {
	ID         int64     `json:"id"`
	MeetingID  int64     `json:"meeting_id"`
	SessionUID string    `json:"session_uid"`
	StartTime  float64   `json:"start_time"`
	EndTime    float64   `json:"end_time"`
	Text       string    `json:"text"`
	Language   *string   `json:"language"`
	Speaker    *string   `json:"speaker"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssembledSegment is a transcript segment as served to API clients, with
// both session-relative and absolute timestamps.
type AssembledSegment struct {
	StartTime         float64    `json:"start_time"`
	EndTime           float64    `json:"end_time"`
	Text              string     `json:"text"`
	Language          *string    `json:"language"`
	Speaker           *string    `json:"speaker,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	AbsoluteStartTime time.Time  `json:"absolute_start_time"`
	AbsoluteEndTime   time.Time  `json:"absolute_end_time"`
}
