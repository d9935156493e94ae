package api

// RequestBotRequest is the body of POST /bots.
type RequestBotRequest struct {
	Platform        string `json:"platform" binding:"required"`
	NativeMeetingID string `json:"native_meeting_id" binding:"required"`
	BotName         string `json:"bot_name"`
	Language        string `json:"language"`
	Task            string `json:"task"`
}

// ReconfigureRequest is the body of PUT /bots/{platform}/{id}/config.
type ReconfigureRequest struct {
	Language string `json:"language"`
	Task     string `json:"task"`
}

// ExitCallbackRequest is the body bots POST when their process exits.
type ExitCallbackRequest struct {
	ConnectionID string `json:"connection_id" binding:"required"`
	ExitCode     *int   `json:"exit_code" binding:"required"`
	Reason       string `json:"reason"`
}

// CreateUserRequest is the admin body for provisioning a user.
type CreateUserRequest struct {
	Email             string  `json:"email" binding:"required"`
	Name              *string `json:"name"`
	ImageURL          *string `json:"image_url"`
	MaxConcurrentBots *int    `json:"max_concurrent_bots"`
}

// UpdateUserRequest is the admin body for patching a user. Absent fields are
// left untouched.
type UpdateUserRequest struct {
	Name              *string `json:"name"`
	ImageURL          *string `json:"image_url"`
	MaxConcurrentBots *int    `json:"max_concurrent_bots"`
	WebhookURL        *string `json:"webhook_url"`
}
