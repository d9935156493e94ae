package api

import (
	"time"

	"github.com/vexa-ai/vexa/pkg/models"
)

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// MeetingListResponse wraps GET /meetings.
type MeetingListResponse struct {
	Meetings []models.MeetingResponse `json:"meetings"`
}

// TranscriptResponse is the meeting rendering plus its ordered segments.
type TranscriptResponse struct {
	models.MeetingResponse
	Segments []models.AssembledSegment `json:"segments"`
}

// RunningBot is one entry of GET /bots/status.
type RunningBot struct {
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	Labels        map[string]string `json:"labels"`
	Status        string            `json:"status"`
	CreatedAt     string            `json:"created_at"`
}

// RunningBotsResponse wraps GET /bots/status.
type RunningBotsResponse struct {
	RunningBots []RunningBot `json:"running_bots"`
}

// UserResponse is the admin rendering of a user.
type UserResponse struct {
	ID                int64          `json:"id"`
	Email             string         `json:"email"`
	Name              *string        `json:"name"`
	ImageURL          *string        `json:"image_url"`
	MaxConcurrentBots int            `json:"max_concurrent_bots"`
	Data              map[string]any `json:"data,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

// TokenResponse is the admin rendering of an API token.
type TokenResponse struct {
	ID        int64  `json:"id"`
	Token     string `json:"token"`
	UserID    int64  `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

func newUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:                u.ID,
		Email:             u.Email,
		Name:              u.Name,
		ImageURL:          u.ImageURL,
		MaxConcurrentBots: u.MaxConcurrentBots,
		Data:              u.Data,
		CreatedAt:         u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newTokenResponse(t *models.APIToken) TokenResponse {
	return TokenResponse{
		ID:        t.ID,
		Token:     t.Token,
		UserID:    t.UserID,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
}
