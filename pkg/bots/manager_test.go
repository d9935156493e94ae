package bots

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/config"
	"github.com/vexa-ai/vexa/pkg/docker"
	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
)

type fakeMeetingStore struct {
	mu       sync.Mutex
	nextID   int64
	meetings map[int64]*models.Meeting
}

func newFakeMeetingStore() *fakeMeetingStore {
	return &fakeMeetingStore{meetings: make(map[int64]*models.Meeting)}
}

func (s *fakeMeetingStore) CreateMeeting(_ context.Context, userID int64, platform models.Platform, nativeID string, data map[string]any) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := &models.Meeting{
		ID: s.nextID, UserID: userID, Platform: platform, NativeMeetingID: nativeID,
		Status: models.MeetingStatusRequested, Data: data,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	s.meetings[m.ID] = m
	copied := *m
	return &copied, nil
}

func (s *fakeMeetingStore) FindLatestMeeting(_ context.Context, userID int64, platform models.Platform, nativeID string, statuses []models.MeetingStatus) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Meeting
	for _, m := range s.meetings {
		if m.UserID != userID || m.Platform != platform || m.NativeMeetingID != nativeID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if m.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if latest == nil || m.ID > latest.ID {
			latest = m
		}
	}
	if latest == nil {
		return nil, services.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeMeetingStore) GetMeeting(_ context.Context, meetingID int64) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, services.ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *fakeMeetingStore) UpdateStatus(_ context.Context, meetingID int64, to models.MeetingStatus) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if m.Status != to && !models.CanTransition(m.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", services.ErrInvalidTransition, m.Status, to)
	}
	m.Status = to
	now := time.Now().UTC()
	if to == models.MeetingStatusActive && m.StartTime == nil {
		m.StartTime = &now
	}
	if to.IsTerminal() && m.EndTime == nil {
		m.EndTime = &now
	}
	copied := *m
	return &copied, nil
}

func (s *fakeMeetingStore) SetContainer(_ context.Context, meetingID int64, containerID string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, services.ErrNotFound
	}
	m.BotContainerID = &containerID
	copied := *m
	return &copied, nil
}

func (s *fakeMeetingStore) MergeData(_ context.Context, meetingID int64, patch map[string]any) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if m.Data == nil {
		m.Data = make(map[string]any)
	}
	for k, v := range patch {
		m.Data[k] = v
	}
	copied := *m
	return &copied, nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[string]*models.MeetingSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*models.MeetingSession)}
}

func (s *fakeSessionStore) RecordSessionStart(_ context.Context, meetingID int64, sessionUID string, startTime time.Time) (*models.MeetingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionUID]; ok {
		existing.SessionStartTime = startTime
		copied := *existing
		return &copied, nil
	}
	s.nextID++
	sess := &models.MeetingSession{
		ID: s.nextID, MeetingID: meetingID, SessionUID: sessionUID, SessionStartTime: startTime,
	}
	s.sessions[sessionUID] = sess
	copied := *sess
	return &copied, nil
}

func (s *fakeSessionStore) EarliestSession(_ context.Context, meetingID int64) (*models.MeetingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest *models.MeetingSession
	for _, sess := range s.sessions {
		if sess.MeetingID != meetingID {
			continue
		}
		if earliest == nil || sess.SessionStartTime.Before(earliest.SessionStartTime) {
			earliest = sess
		}
	}
	if earliest == nil {
		return nil, services.ErrNotFound
	}
	copied := *earliest
	return &copied, nil
}

func (s *fakeSessionStore) FindByUID(_ context.Context, sessionUID string) (*models.MeetingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionUID]
	if !ok {
		return nil, services.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

type fakeScheduler struct {
	mu   sync.Mutex
	runs []int64
}

func (f *fakeScheduler) RunAsync(meetingID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, meetingID)
}

func (f *fakeScheduler) Runs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.runs))
	copy(out, f.runs)
	return out
}

type fixture struct {
	manager   *Manager
	meetings  *fakeMeetingStore
	sessions  *fakeSessionStore
	driver    *docker.StubDriver
	mem       *bus.MemoryBus
	scheduler *fakeScheduler
	user      *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	meetings := newFakeMeetingStore()
	sessions := newFakeSessionStore()
	driver := docker.NewStubDriver()
	mem := bus.NewMemoryBus()
	scheduler := &fakeScheduler{}
	cfg := config.BotsConfig{
		BotImage:              "vexa-bot:latest",
		DockerNetwork:         "vexa_default",
		CallbackURL:           "http://bot-manager:8080/bots/internal/callback/exited",
		WaitingRoomTimeoutMS:  300000,
		NoOneJoinedTimeoutMS:  300000,
		EveryoneLeftTimeoutMS: 300000,
		DelayedStopAfter:      30 * time.Second,
		StopTimeout:           time.Second,
	}
	m := NewManager(meetings, sessions, driver, mem, scheduler, cfg, "redis://redis:6379/0")
	m.delayedStopAfter = 0
	return &fixture{
		manager: m, meetings: meetings, sessions: sessions,
		driver: driver, mem: mem, scheduler: scheduler,
		user: &models.User{ID: 7, Email: "owner@example.com", MaxConcurrentBots: 2},
	}
}

func (f *fixture) requestBot(t *testing.T) *models.Meeting {
	t.Helper()
	meeting, err := f.manager.RequestBot(context.Background(), f.user, RequestBotInput{
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "abc-defg-hij",
		Token:           "user-token",
	})
	require.NoError(t, err)
	f.manager.Wait()
	return meeting
}

func TestRequestBotLaunchesContainer(t *testing.T) {
	f := newFixture(t)

	meeting := f.requestBot(t)

	assert.Equal(t, models.MeetingStatusActive, meeting.Status)
	require.NotNil(t, meeting.BotContainerID)
	assert.NotNil(t, meeting.StartTime)

	infos, err := f.driver.ListRunning(context.Background(), map[string]string{LabelBot: "true"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "7", infos[0].Labels[LabelUserID])
	assert.Equal(t, "1", infos[0].Labels[LabelMeetingID])
	assert.Contains(t, infos[0].Name, "vexa-bot-1-")
}

func TestRequestBotRecordsPlaceholderSession(t *testing.T) {
	f := newFixture(t)

	meeting := f.requestBot(t)

	session, err := f.sessions.EarliestSession(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionUID)
	assert.WithinDuration(t, time.Now().UTC(), session.SessionStartTime, 5*time.Second)
}

func TestRequestBotDuplicateRunning(t *testing.T) {
	f := newFixture(t)
	existing := f.requestBot(t)

	_, err := f.manager.RequestBot(context.Background(), f.user, RequestBotInput{
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "abc-defg-hij",
		Token:           "user-token",
	})
	require.ErrorIs(t, err, ErrDuplicateBot)
	assert.Contains(t, err.Error(), fmt.Sprintf("meeting %d", existing.ID))
}

func TestRequestBotReconcilesDeadDuplicate(t *testing.T) {
	f := newFixture(t)
	first := f.requestBot(t)

	// The container died without an exit callback.
	f.driver.Kill(*first.BotContainerID)

	second := f.requestBot(t)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.MeetingStatusActive, second.Status)

	stale, err := f.meetings.GetMeeting(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusFailed, stale.Status)
}

func TestRequestBotEnforcesConcurrentLimit(t *testing.T) {
	f := newFixture(t)
	f.user.MaxConcurrentBots = 1
	f.requestBot(t)

	_, err := f.manager.RequestBot(context.Background(), f.user, RequestBotInput{
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "xyz-abcd-pqr",
		Token:           "user-token",
	})
	require.ErrorIs(t, err, ErrBotLimit)
	assert.Contains(t, err.Error(), "maximum concurrent bot limit (1)")
}

func TestRequestBotLimitIgnoresDatabase(t *testing.T) {
	f := newFixture(t)
	f.user.MaxConcurrentBots = 1
	first := f.requestBot(t)

	// The meeting row still says active, but the container is gone. The
	// driver is the ground truth for admission.
	f.driver.Kill(*first.BotContainerID)

	meeting, err := f.manager.RequestBot(context.Background(), f.user, RequestBotInput{
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "xyz-abcd-pqr",
		Token:           "user-token",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusActive, meeting.Status)
}

func TestRequestBotLaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.driver.CreateErr = docker.ErrImageMissing

	_, err := f.manager.RequestBot(context.Background(), f.user, RequestBotInput{
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "abc-defg-hij",
		Token:           "user-token",
	})
	require.ErrorIs(t, err, docker.ErrImageMissing)

	meeting, err := f.meetings.GetMeeting(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusError, meeting.Status)
}

func TestRequestBotConfigEnv(t *testing.T) {
	f := newFixture(t)
	meeting := f.requestBot(t)

	require.Len(t, f.driver.Specs, 1)
	spec := f.driver.Specs[0]
	assert.Equal(t, "vexa-bot:latest", spec.Image)
	assert.Equal(t, "vexa_default", spec.Network)
	assert.True(t, spec.AutoRemove)

	var raw string
	for _, env := range spec.Env {
		if v, ok := strings.CutPrefix(env, "BOT_CONFIG="); ok {
			raw = v
		}
	}
	require.NotEmpty(t, raw, "BOT_CONFIG must be set")

	var cfg struct {
		MeetingID       int64   `json:"meeting_id"`
		Platform        string  `json:"platform"`
		MeetingURL      *string `json:"meetingUrl"`
		BotName         string  `json:"botName"`
		Token           string  `json:"token"`
		NativeMeetingID string  `json:"nativeMeetingId"`
		ConnectionID    string  `json:"connectionId"`
		AutomaticLeave  struct {
			WaitingRoomTimeout  int `json:"waitingRoomTimeout"`
			NoOneJoinedTimeout  int `json:"noOneJoinedTimeout"`
			EveryoneLeftTimeout int `json:"everyoneLeftTimeout"`
		} `json:"automaticLeave"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	assert.Equal(t, meeting.ID, cfg.MeetingID)
	assert.Equal(t, "google_meet", cfg.Platform)
	require.NotNil(t, cfg.MeetingURL)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", *cfg.MeetingURL)
	assert.Equal(t, "user-token", cfg.Token)
	assert.Equal(t, "abc-defg-hij", cfg.NativeMeetingID)
	assert.NotEmpty(t, cfg.ConnectionID)
	assert.Contains(t, cfg.BotName, "VexaBot-")
	assert.Equal(t, 300000, cfg.AutomaticLeave.WaitingRoomTimeout)
}

func TestStopBot(t *testing.T) {
	f := newFixture(t)
	meeting := f.requestBot(t)

	session, err := f.sessions.EarliestSession(context.Background(), meeting.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.StopBot(context.Background(), f.user.ID, models.PlatformGoogleMeet, "abc-defg-hij"))
	f.manager.Wait()

	// Leave command published on the session channel.
	published := f.mem.Published(bus.BotCommandsChannel(session.SessionUID))
	require.Len(t, published, 1)
	var command models.BotCommand
	require.NoError(t, json.Unmarshal(published[0], &command))
	assert.Equal(t, models.BotActionLeave, command.Action)

	// Status moved to stopping and the force-stop ran.
	updated, err := f.meetings.GetMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusStopping, updated.Status)
	assert.Contains(t, f.driver.Stopped, *meeting.BotContainerID)
}

func TestStopBotNoActiveMeeting(t *testing.T) {
	f := newFixture(t)

	err := f.manager.StopBot(context.Background(), f.user.ID, models.PlatformGoogleMeet, "abc-defg-hij")
	assert.ErrorIs(t, err, ErrNoActiveMeeting)
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t)
	meeting := f.requestBot(t)
	session, err := f.sessions.EarliestSession(context.Background(), meeting.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.Reconfigure(context.Background(), f.user.ID, models.PlatformGoogleMeet, "abc-defg-hij", "fr", "translate"))

	published := f.mem.Published(bus.BotCommandsChannel(session.SessionUID))
	require.Len(t, published, 1)
	var command models.BotCommand
	require.NoError(t, json.Unmarshal(published[0], &command))
	assert.Equal(t, models.BotActionReconfigure, command.Action)
	assert.Equal(t, session.SessionUID, command.UID)
	assert.Equal(t, "fr", command.Language)
	assert.Equal(t, "translate", command.Task)
}

func TestHandleExitCleanExit(t *testing.T) {
	f := newFixture(t)
	meeting := f.requestBot(t)
	session, err := f.sessions.EarliestSession(context.Background(), meeting.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.HandleExit(context.Background(), session.SessionUID, 0, ""))
	f.manager.Wait()

	updated, err := f.meetings.GetMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCompleted, updated.Status)
	assert.NotNil(t, updated.EndTime)
	assert.Equal(t, []int64{meeting.ID}, f.scheduler.Runs())
	assert.Empty(t, f.driver.Stopped, "clean exits need no force stop")
}

func TestHandleExitFailure(t *testing.T) {
	f := newFixture(t)
	meeting := f.requestBot(t)
	session, err := f.sessions.EarliestSession(context.Background(), meeting.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.HandleExit(context.Background(), session.SessionUID, 1, "crash"))
	f.manager.Wait()

	updated, err := f.meetings.GetMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusFailed, updated.Status)
	assert.Equal(t, "crash", updated.Data["completion_reason"])
	assert.Equal(t, []int64{meeting.ID}, f.scheduler.Runs())
	assert.Contains(t, f.driver.Stopped, *meeting.BotContainerID, "failed exits schedule a force stop")
}

func TestHandleExitTerminalMeetingStillRunsTasks(t *testing.T) {
	f := newFixture(t)
	meeting := f.requestBot(t)
	session, err := f.sessions.EarliestSession(context.Background(), meeting.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.HandleExit(context.Background(), session.SessionUID, 0, ""))
	require.NoError(t, f.manager.HandleExit(context.Background(), session.SessionUID, 0, ""))
	f.manager.Wait()

	updated, err := f.meetings.GetMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCompleted, updated.Status)
	assert.Equal(t, []int64{meeting.ID, meeting.ID}, f.scheduler.Runs())
}

func TestHandleExitUnknownConnection(t *testing.T) {
	f := newFixture(t)

	err := f.manager.HandleExit(context.Background(), "never-issued", 0, "")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestStatusListsRunningBots(t *testing.T) {
	f := newFixture(t)
	f.requestBot(t)

	infos, err := f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
