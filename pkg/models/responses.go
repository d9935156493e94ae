package models

import "time"

// MeetingResponse is the externally visible rendering of a meeting. It is
// shared between the REST API and the post-meeting webhook payload so both
// surfaces stay in sync.
type MeetingResponse struct {
	ID                    int64          `json:"id"`
	UserID                int64          `json:"user_id"`
	Platform              Platform       `json:"platform"`
	NativeMeetingID       string         `json:"native_meeting_id"`
	ConstructedMeetingURL *string        `json:"constructed_meeting_url"`
	Status                MeetingStatus  `json:"status"`
	BotContainerID        *string        `json:"bot_container_id"`
	StartTime             *time.Time     `json:"start_time"`
	EndTime               *time.Time     `json:"end_time"`
	Data                  map[string]any `json:"data,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// NewMeetingResponse renders a meeting.
func NewMeetingResponse(m *Meeting) MeetingResponse {
	return MeetingResponse{
		ID:                    m.ID,
		UserID:                m.UserID,
		Platform:              m.Platform,
		NativeMeetingID:       m.NativeMeetingID,
		ConstructedMeetingURL: m.ConstructedURL(),
		Status:                m.Status,
		BotContainerID:        m.BotContainerID,
		StartTime:             m.StartTime,
		EndTime:               m.EndTime,
		Data:                  m.Data,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}
