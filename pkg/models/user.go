package models

import "time"

// User is an API tenant. Data is an open mapping; known keys (webhook_url)
// are validated when read, everything else is passed through untouched.
type User struct {
	ID                int64          `json:"id"`
	Email             string         `json:"email"`
	Name              *string        `json:"name"`
	ImageURL          *string        `json:"image_url"`
	MaxConcurrentBots int            `json:"max_concurrent_bots"`
	Data              map[string]any `json:"data,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// WebhookURL returns the user's configured webhook URL, or "" when absent or
// not a string.
func (u *User) WebhookURL() string {
	if u.Data == nil {
		return ""
	}
	if url, ok := u.Data["webhook_url"].(string); ok {
		return url
	}
	return ""
}

// APIToken is an opaque bearer credential for a user. Authorization is a
// plain equality check on the token value.
type APIToken struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
