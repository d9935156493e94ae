package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vexa-ai/vexa/pkg/models"
)

const webhookTimeout = 15 * time.Second

// UserLoader fetches a user by id.
type UserLoader interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
}

// WebhookTask POSTs the finished meeting to the owner's configured webhook
// URL. Users without a webhook URL are skipped. Failed deliveries are logged,
// not retried.
type WebhookTask struct {
	users  UserLoader
	client *http.Client
}

// NewWebhookTask creates the webhook delivery task.
func NewWebhookTask(users UserLoader) *WebhookTask {
	return &WebhookTask{
		users:  users,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

func (t *WebhookTask) Name() string { return "send_webhook" }

func (t *WebhookTask) Run(ctx context.Context, meeting *models.Meeting) error {
	user, err := t.users.GetUser(ctx, meeting.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", meeting.UserID, err)
	}

	webhookURL := user.WebhookURL()
	if webhookURL == "" {
		slog.Info("No webhook URL configured, skipping",
			"user_id", user.ID, "meeting_id", meeting.ID)
		return nil
	}

	payload, err := json.Marshal(models.NewMeetingResponse(meeting))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery to %s failed: %w", webhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook delivery to %s returned %d: %s", webhookURL, resp.StatusCode, body)
	}

	slog.Info("Webhook delivered",
		"meeting_id", meeting.ID, "user_id", user.ID, "status", resp.StatusCode)
	return nil
}
