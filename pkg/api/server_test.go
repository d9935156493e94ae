package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/vexa/pkg/bots"
	"github.com/vexa-ai/vexa/pkg/docker"
	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
	"github.com/vexa-ai/vexa/pkg/transcripts"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testToken    = "valid-token"
	testAdminKey = "admin-secret"
)

type fakeUserStore struct {
	usersByToken map[string]*models.User
	usersByID    map[int64]*models.User
	tokens       map[int64][]*models.APIToken

	createErr error
	deleted   []int64
}

func newFakeUserStore() *fakeUserStore {
	u := &models.User{ID: 7, Email: "owner@example.com", MaxConcurrentBots: 2, CreatedAt: time.Now().UTC()}
	return &fakeUserStore{
		usersByToken: map[string]*models.User{testToken: u},
		usersByID:    map[int64]*models.User{u.ID: u},
		tokens:       map[int64][]*models.APIToken{},
	}
}

func (f *fakeUserStore) GetUserByToken(_ context.Context, token string) (*models.User, error) {
	if u, ok := f.usersByToken[token]; ok {
		return u, nil
	}
	return nil, services.ErrNotFound
}

func (f *fakeUserStore) CreateUser(_ context.Context, input services.CreateUserInput) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	u := &models.User{ID: int64(len(f.usersByID) + 1), Email: input.Email, Name: input.Name, MaxConcurrentBots: 1, CreatedAt: time.Now().UTC()}
	if input.MaxConcurrentBots != nil {
		u.MaxConcurrentBots = *input.MaxConcurrentBots
	}
	f.usersByID[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetUser(_ context.Context, userID int64) (*models.User, error) {
	if u, ok := f.usersByID[userID]; ok {
		return u, nil
	}
	return nil, services.ErrNotFound
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range f.usersByID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, services.ErrNotFound
}

func (f *fakeUserStore) ListUsers(_ context.Context, _, _ int) ([]*models.User, error) {
	out := make([]*models.User, 0, len(f.usersByID))
	for _, u := range f.usersByID {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUserStore) UpdateUser(_ context.Context, userID int64, input services.UpdateUserInput) (*models.User, error) {
	u, ok := f.usersByID[userID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if input.Name != nil {
		u.Name = input.Name
	}
	if input.MaxConcurrentBots != nil {
		u.MaxConcurrentBots = *input.MaxConcurrentBots
	}
	return u, nil
}

func (f *fakeUserStore) CreateToken(_ context.Context, userID int64) (*models.APIToken, error) {
	if _, ok := f.usersByID[userID]; !ok {
		return nil, services.ErrNotFound
	}
	t := &models.APIToken{ID: int64(len(f.tokens[userID]) + 1), Token: "tok", UserID: userID, CreatedAt: time.Now().UTC()}
	f.tokens[userID] = append(f.tokens[userID], t)
	return t, nil
}

func (f *fakeUserStore) ListTokens(_ context.Context, userID int64) ([]*models.APIToken, error) {
	return f.tokens[userID], nil
}

func (f *fakeUserStore) DeleteToken(_ context.Context, _, tokenID int64) error {
	f.deleted = append(f.deleted, tokenID)
	return nil
}

type botCall struct {
	method   string
	platform models.Platform
	nativeID string
	language string
	task     string
}

type fakeBotManager struct {
	requestErr     error
	stopErr        error
	reconfigureErr error
	exitErr        error

	calls    []botCall
	lastUser *models.User
	exits    []string
	infos    []docker.ContainerInfo
}

func (f *fakeBotManager) RequestBot(_ context.Context, user *models.User, input bots.RequestBotInput) (*models.Meeting, error) {
	f.lastUser = user
	f.calls = append(f.calls, botCall{method: "request", platform: input.Platform, nativeID: input.NativeMeetingID})
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return &models.Meeting{
		ID:              42,
		UserID:          user.ID,
		Platform:        input.Platform,
		NativeMeetingID: input.NativeMeetingID,
		Status:          models.MeetingStatusRequested,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}, nil
}

func (f *fakeBotManager) StopBot(_ context.Context, _ int64, platform models.Platform, nativeID string) error {
	f.calls = append(f.calls, botCall{method: "stop", platform: platform, nativeID: nativeID})
	return f.stopErr
}

func (f *fakeBotManager) Reconfigure(_ context.Context, _ int64, platform models.Platform, nativeID, language, task string) error {
	f.calls = append(f.calls, botCall{method: "reconfigure", platform: platform, nativeID: nativeID, language: language, task: task})
	return f.reconfigureErr
}

func (f *fakeBotManager) Status(_ context.Context) ([]docker.ContainerInfo, error) {
	return f.infos, nil
}

func (f *fakeBotManager) HandleExit(_ context.Context, connectionID string, _ int, _ string) error {
	f.exits = append(f.exits, connectionID)
	return f.exitErr
}

type fakeTranscriptReader struct {
	transcript *transcripts.Transcript
	err        error
}

func (f *fakeTranscriptReader) GetTranscript(_ context.Context, _ int64, _ models.Platform, _ string) (*transcripts.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.transcript, nil
}

type fakeMeetingLister struct {
	meetings []*models.Meeting
}

func (f *fakeMeetingLister) ListMeetings(_ context.Context, _ int64) ([]*models.Meeting, error) {
	return f.meetings, nil
}

type fixture struct {
	users  *fakeUserStore
	bots   *fakeBotManager
	reader *fakeTranscriptReader
	lister *fakeMeetingLister
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:  newFakeUserStore(),
		bots:   &fakeBotManager{},
		reader: &fakeTranscriptReader{},
		lister: &fakeMeetingLister{},
	}
	srv := NewServer(f.users, f.bots, f.reader, f.lister, nil, nil, testAdminKey)
	f.router = srv.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func authed() map[string]string {
	return map[string]string{headerAPIKey: testToken}
}

func admin() map[string]string {
	return map[string]string{headerAdminAPIKey: testAdminKey}
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Detail
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t)

	t.Run("missing key", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/meetings", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, detail(t, rec), "X-API-Key")
	})

	t.Run("unknown key", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/meetings", nil, map[string]string{headerAPIKey: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid API key", detail(t, rec))
	})

	t.Run("valid key", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/meetings", nil, authed())
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAdminMiddleware(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/users", nil, map[string]string{headerAdminAPIKey: "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/users", nil, admin())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestBotEndpoint(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/bots", RequestBotRequest{
			Platform:        "google_meet",
			NativeMeetingID: "abc-defg-hij",
		}, authed())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp models.MeetingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(42), resp.ID)
		assert.Equal(t, models.MeetingStatusRequested, resp.Status)
		assert.Equal(t, int64(7), f.bots.lastUser.ID)
	})

	t.Run("missing native id", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/bots", RequestBotRequest{Platform: "google_meet"}, authed())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.bots.calls)
	})

	t.Run("invalid platform", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/bots", RequestBotRequest{
			Platform:        "skype",
			NativeMeetingID: "x",
		}, authed())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, detail(t, rec), "invalid platform")
	})

	t.Run("duplicate bot references the meeting", func(t *testing.T) {
		f := newFixture(t)
		f.bots.requestErr = fmt.Errorf("%w: meeting %d", bots.ErrDuplicateBot, 42)
		rec := f.do(t, http.MethodPost, "/bots", RequestBotRequest{
			Platform:        "google_meet",
			NativeMeetingID: "abc-defg-hij",
		}, authed())
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, detail(t, rec), "meeting 42")
	})

	t.Run("bot limit", func(t *testing.T) {
		f := newFixture(t)
		f.bots.requestErr = fmt.Errorf("%w (%d)", bots.ErrBotLimit, 1)
		rec := f.do(t, http.MethodPost, "/bots", RequestBotRequest{
			Platform:        "google_meet",
			NativeMeetingID: "abc-defg-hij",
		}, authed())
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, detail(t, rec), "maximum concurrent bot limit (1)")
	})

	t.Run("validation error", func(t *testing.T) {
		f := newFixture(t)
		f.bots.requestErr = services.NewValidationError("native_meeting_id", "does not match the platform format")
		rec := f.do(t, http.MethodPost, "/bots", RequestBotRequest{
			Platform:        "google_meet",
			NativeMeetingID: "bogus",
		}, authed())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, detail(t, rec), "native_meeting_id")
	})
}

func TestStopBotEndpoint(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodDelete, "/bots/google_meet/abc-defg-hij", nil, authed())
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, f.bots.calls, 1)
		assert.Equal(t, "stop", f.bots.calls[0].method)
		assert.Equal(t, "abc-defg-hij", f.bots.calls[0].nativeID)
	})

	t.Run("no active meeting", func(t *testing.T) {
		f := newFixture(t)
		f.bots.stopErr = bots.ErrNoActiveMeeting
		rec := f.do(t, http.MethodDelete, "/bots/google_meet/abc-defg-hij", nil, authed())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing container", func(t *testing.T) {
		f := newFixture(t)
		f.bots.stopErr = bots.ErrMissingContainer
		rec := f.do(t, http.MethodDelete, "/bots/google_meet/abc-defg-hij", nil, authed())
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestReconfigureEndpoint(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPut, "/bots/google_meet/abc-defg-hij/config", ReconfigureRequest{
			Language: "es",
			Task:     "translate",
		}, authed())
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, f.bots.calls, 1)
		assert.Equal(t, "es", f.bots.calls[0].language)
		assert.Equal(t, "translate", f.bots.calls[0].task)
	})

	t.Run("bus unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.bots.reconfigureErr = bots.ErrBusUnavailable
		rec := f.do(t, http.MethodPut, "/bots/google_meet/abc-defg-hij/config", ReconfigureRequest{}, authed())
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestBotStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.bots.infos = []docker.ContainerInfo{{
		ID:        "c1",
		Name:      "vexa-bot-42-deadbeef",
		Labels:    map[string]string{"vexa-bot": "true", "user_id": "7"},
		Status:    "running",
		CreatedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}}

	rec := f.do(t, http.MethodGet, "/bots/status", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunningBotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.RunningBots, 1)
	assert.Equal(t, "c1", resp.RunningBots[0].ContainerID)
	assert.Equal(t, "2026-08-25T10:00:00Z", resp.RunningBots[0].CreatedAt)
}

func TestExitCallbackEndpoint(t *testing.T) {
	exitCode := 0

	t.Run("recorded", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/bots/internal/callback/exited", ExitCallbackRequest{
			ConnectionID: "conn-1",
			ExitCode:     &exitCode,
		}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"conn-1"}, f.bots.exits)
	})

	t.Run("missing exit code", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/bots/internal/callback/exited", map[string]any{
			"connection_id": "conn-1",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.bots.exits)
	})

	t.Run("unknown connection", func(t *testing.T) {
		f := newFixture(t)
		f.bots.exitErr = bots.ErrUnknownSession
		rec := f.do(t, http.MethodPost, "/bots/internal/callback/exited", ExitCallbackRequest{
			ConnectionID: "ghost",
			ExitCode:     &exitCode,
		}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetTranscriptEndpoint(t *testing.T) {
	f := newFixture(t)
	lang := "en"
	speaker := "Alice"
	f.reader.transcript = &transcripts.Transcript{
		Meeting: &models.Meeting{
			ID:              42,
			UserID:          7,
			Platform:        models.PlatformGoogleMeet,
			NativeMeetingID: "abc-defg-hij",
			Status:          models.MeetingStatusActive,
		},
		Segments: []models.AssembledSegment{{
			StartTime:         1.5,
			EndTime:           3.0,
			Text:              "hello there",
			Language:          &lang,
			Speaker:           &speaker,
			AbsoluteStartTime: time.Date(2026, 8, 25, 10, 0, 1, 0, time.UTC),
			AbsoluteEndTime:   time.Date(2026, 8, 25, 10, 0, 3, 0, time.UTC),
		}},
	}

	rec := f.do(t, http.MethodGet, "/transcripts/google_meet/abc-defg-hij", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TranscriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.ID)
	require.Len(t, resp.Segments, 1)
	assert.Equal(t, "hello there", resp.Segments[0].Text)
	assert.Equal(t, "Alice", *resp.Segments[0].Speaker)

	t.Run("not found", func(t *testing.T) {
		f.reader.err = services.ErrNotFound
		rec := f.do(t, http.MethodGet, "/transcripts/google_meet/abc-defg-hij", nil, authed())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListMeetingsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.lister.meetings = []*models.Meeting{
		{ID: 2, UserID: 7, Platform: models.PlatformGoogleMeet, NativeMeetingID: "abc-defg-hij", Status: models.MeetingStatusActive},
		{ID: 1, UserID: 7, Platform: models.PlatformZoom, NativeMeetingID: "123456789", Status: models.MeetingStatusCompleted},
	}

	rec := f.do(t, http.MethodGet, "/meetings", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MeetingListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Meetings, 2)
	assert.Equal(t, int64(2), resp.Meetings[0].ID)
}

func TestAdminUserEndpoints(t *testing.T) {
	f := newFixture(t)

	t.Run("create", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/admin/users", CreateUserRequest{Email: "new@example.com"}, admin())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp UserResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "new@example.com", resp.Email)
	})

	t.Run("create conflict", func(t *testing.T) {
		f.users.createErr = services.ErrAlreadyExists
		rec := f.do(t, http.MethodPost, "/admin/users", CreateUserRequest{Email: "new@example.com"}, admin())
		assert.Equal(t, http.StatusConflict, rec.Code)
		f.users.createErr = nil
	})

	t.Run("get by id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/admin/users/7", nil, admin())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get unknown id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/admin/users/999", nil, admin())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/admin/users/abc", nil, admin())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update", func(t *testing.T) {
		name := "Renamed"
		rec := f.do(t, http.MethodPatch, "/admin/users/7", UpdateUserRequest{Name: &name}, admin())
		require.Equal(t, http.StatusOK, rec.Code)

		var resp UserResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Name)
		assert.Equal(t, "Renamed", *resp.Name)
	})

	t.Run("tokens", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/admin/users/7/tokens", nil, admin())
		require.Equal(t, http.StatusCreated, rec.Code)

		var tok TokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
		assert.Equal(t, int64(7), tok.UserID)

		rec = f.do(t, http.MethodGet, "/admin/users/7/tokens", nil, admin())
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodDelete, "/admin/users/7/tokens/1", nil, admin())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []int64{1}, f.users.deleted)
	})
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
