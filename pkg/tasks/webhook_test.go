package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
)

type fakeUsers struct {
	user *models.User
}

func (f *fakeUsers) GetUser(_ context.Context, _ int64) (*models.User, error) {
	if f.user == nil {
		return nil, services.ErrNotFound
	}
	return f.user, nil
}

func TestWebhookTaskDeliversMeetingPayload(t *testing.T) {
	var received models.MeetingResponse
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	task := NewWebhookTask(&fakeUsers{user: &models.User{
		ID:   7,
		Data: map[string]any{"webhook_url": server.URL},
	}})

	meeting := &models.Meeting{
		ID: 42, UserID: 7,
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "abc-defg-hij",
		Status:          models.MeetingStatusCompleted,
	}
	require.NoError(t, task.Run(context.Background(), meeting))

	assert.Equal(t, int64(42), received.ID)
	assert.Equal(t, models.MeetingStatusCompleted, received.Status)
	require.NotNil(t, received.ConstructedMeetingURL)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", *received.ConstructedMeetingURL)
}

func TestWebhookTaskSkipsWhenNotConfigured(t *testing.T) {
	task := NewWebhookTask(&fakeUsers{user: &models.User{ID: 7}})

	err := task.Run(context.Background(), &models.Meeting{ID: 42, UserID: 7})
	assert.NoError(t, err)
}

func TestWebhookTaskReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	task := NewWebhookTask(&fakeUsers{user: &models.User{
		ID: 7, Data: map[string]any{"webhook_url": server.URL},
	}})

	err := task.Run(context.Background(), &models.Meeting{ID: 42, UserID: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookTaskUnknownUser(t *testing.T) {
	task := NewWebhookTask(&fakeUsers{})

	err := task.Run(context.Background(), &models.Meeting{ID: 42, UserID: 7})
	assert.ErrorIs(t, err, services.ErrNotFound)
}
