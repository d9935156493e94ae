// Package bots manages the lifecycle of meeting bot containers: launch,
// control commands, delayed force-stop, and exit handling.
package bots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/config"
	"github.com/vexa-ai/vexa/pkg/docker"
	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
)

// Container labels applied to every bot.
const (
	LabelBot       = "vexa-bot"
	LabelUserID    = "user_id"
	LabelMeetingID = "meeting_id"
)

// MeetingStore is the slice of the meeting service the manager needs.
type MeetingStore interface {
	CreateMeeting(ctx context.Context, userID int64, platform models.Platform, nativeID string, data map[string]any) (*models.Meeting, error)
	FindLatestMeeting(ctx context.Context, userID int64, platform models.Platform, nativeID string, statuses []models.MeetingStatus) (*models.Meeting, error)
	GetMeeting(ctx context.Context, meetingID int64) (*models.Meeting, error)
	UpdateStatus(ctx context.Context, meetingID int64, to models.MeetingStatus) (*models.Meeting, error)
	SetContainer(ctx context.Context, meetingID int64, containerID string) (*models.Meeting, error)
	MergeData(ctx context.Context, meetingID int64, patch map[string]any) (*models.Meeting, error)
}

// SessionStore is the slice of the session service the manager needs.
type SessionStore interface {
	RecordSessionStart(ctx context.Context, meetingID int64, sessionUID string, startTime time.Time) (*models.MeetingSession, error)
	EarliestSession(ctx context.Context, meetingID int64) (*models.MeetingSession, error)
	FindByUID(ctx context.Context, sessionUID string) (*models.MeetingSession, error)
}

// TaskScheduler runs the post-meeting tasks for a meeting in the background.
type TaskScheduler interface {
	RunAsync(meetingID int64)
}

// RequestBotInput is the domain-level bot request, already authenticated.
type RequestBotInput struct {
	Platform        models.Platform
	NativeMeetingID string
	BotName         string
	Language        string
	Task            string

	// Token is the caller's API token; the bot uses it to publish on the
	// transcription stream under the right identity.
	Token string
}

// botConfig is the serialized configuration handed to the bot via the
// BOT_CONFIG environment variable.
type botConfig struct {
	MeetingID       int64          `json:"meeting_id"`
	Platform        string         `json:"platform"`
	MeetingURL      *string        `json:"meetingUrl"`
	BotName         string         `json:"botName"`
	Token           string         `json:"token"`
	NativeMeetingID string         `json:"nativeMeetingId"`
	ConnectionID    string         `json:"connectionId"`
	Language        string         `json:"language,omitempty"`
	Task            string         `json:"task,omitempty"`
	AutomaticLeave  automaticLeave `json:"automaticLeave"`
}

type automaticLeave struct {
	WaitingRoomTimeout  int `json:"waitingRoomTimeout"`
	NoOneJoinedTimeout  int `json:"noOneJoinedTimeout"`
	EveryoneLeftTimeout int `json:"everyoneLeftTimeout"`
}

// Manager implements the bot lifecycle operations.
type Manager struct {
	meetings MeetingStore
	sessions SessionStore
	driver   docker.Driver
	bus      bus.Bus
	tasks    TaskScheduler
	cfg      config.BotsConfig
	redisURL string

	// wg tracks background work (session placeholders, delayed stops) so
	// shutdown and tests can wait for it.
	wg sync.WaitGroup

	// delayedStopAfter is split from cfg so tests can shorten it.
	delayedStopAfter time.Duration
}

// NewManager creates a bot lifecycle manager.
func NewManager(meetings MeetingStore, sessions SessionStore, driver docker.Driver, b bus.Bus, tasks TaskScheduler, cfg config.BotsConfig, redisURL string) *Manager {
	return &Manager{
		meetings:         meetings,
		sessions:         sessions,
		driver:           driver,
		bus:              b,
		tasks:            tasks,
		cfg:              cfg,
		redisURL:         redisURL,
		delayedStopAfter: cfg.DelayedStopAfter,
	}
}

// Wait blocks until all background work has finished. Called on shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// RequestBot launches a bot for the user's meeting and returns the new
// meeting row in active status.
func (m *Manager) RequestBot(ctx context.Context, user *models.User, input RequestBotInput) (*models.Meeting, error) {
	meetingURL := models.ConstructMeetingURL(input.Platform, input.NativeMeetingID)

	if err := m.reconcileDuplicate(ctx, user.ID, input.Platform, input.NativeMeetingID); err != nil {
		return nil, err
	}

	running, err := m.driver.ListRunning(ctx, map[string]string{
		LabelUserID: strconv.FormatInt(user.ID, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("admission check failed: %w", err)
	}
	if len(running) >= user.MaxConcurrentBots {
		return nil, fmt.Errorf("%w (%d)", ErrBotLimit, user.MaxConcurrentBots)
	}

	meeting, err := m.meetings.CreateMeeting(ctx, user.ID, input.Platform, input.NativeMeetingID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}

	connectionID := uuid.New().String()
	botName := input.BotName
	if botName == "" {
		botName = "VexaBot-" + shortHex(6)
	}

	var urlPtr *string
	if meetingURL != "" {
		urlPtr = &meetingURL
	}
	configJSON, err := json.Marshal(botConfig{
		MeetingID:       meeting.ID,
		Platform:        string(input.Platform),
		MeetingURL:      urlPtr,
		BotName:         botName,
		Token:           input.Token,
		NativeMeetingID: input.NativeMeetingID,
		ConnectionID:    connectionID,
		Language:        input.Language,
		Task:            input.Task,
		AutomaticLeave: automaticLeave{
			WaitingRoomTimeout:  m.cfg.WaitingRoomTimeoutMS,
			NoOneJoinedTimeout:  m.cfg.NoOneJoinedTimeoutMS,
			EveryoneLeftTimeout: m.cfg.EveryoneLeftTimeoutMS,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode bot config: %w", err)
	}

	spec := docker.ContainerSpec{
		Name:  fmt.Sprintf("vexa-bot-%d-%s", meeting.ID, shortHex(8)),
		Image: m.cfg.BotImage,
		Env: []string{
			"BOT_CONFIG=" + string(configJSON),
			"BOT_MANAGER_CALLBACK_URL=" + m.cfg.CallbackURL,
			"REDIS_URL=" + m.redisURL,
		},
		Labels: map[string]string{
			LabelBot:       "true",
			LabelUserID:    strconv.FormatInt(user.ID, 10),
			LabelMeetingID: strconv.FormatInt(meeting.ID, 10),
		},
		Network:    m.cfg.DockerNetwork,
		AutoRemove: true,
	}

	containerID, err := m.driver.CreateAndStart(ctx, spec)
	if err != nil {
		if _, statusErr := m.meetings.UpdateStatus(ctx, meeting.ID, models.MeetingStatusError); statusErr != nil {
			slog.Error("Failed to mark meeting errored after launch failure",
				"meeting_id", meeting.ID, "error", statusErr)
		}
		return nil, fmt.Errorf("failed to launch bot: %w", err)
	}

	// Placeholder session row keyed by the connection id. The bot's own
	// session_start event overwrites the start time with the real anchor.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		placeholderCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := m.sessions.RecordSessionStart(placeholderCtx, meeting.ID, connectionID, time.Now().UTC()); err != nil {
			slog.Error("Failed to record placeholder session",
				"meeting_id", meeting.ID, "connection_id", connectionID, "error", err)
		}
	}()

	if _, err := m.meetings.SetContainer(ctx, meeting.ID, containerID); err != nil {
		return nil, fmt.Errorf("failed to record container: %w", err)
	}
	meeting, err = m.meetings.UpdateStatus(ctx, meeting.ID, models.MeetingStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to activate meeting: %w", err)
	}

	slog.Info("Bot launched",
		"meeting_id", meeting.ID, "user_id", user.ID,
		"platform", input.Platform, "container_id", containerID,
		"connection_id", connectionID)
	return meeting, nil
}

// reconcileDuplicate enforces one live bot per meeting tuple. A stale row
// whose container is gone is marked failed so a new bot can proceed.
func (m *Manager) reconcileDuplicate(ctx context.Context, userID int64, platform models.Platform, nativeID string) error {
	existing, err := m.meetings.FindLatestMeeting(ctx, userID, platform, nativeID, []models.MeetingStatus{
		models.MeetingStatusRequested, models.MeetingStatusActive, models.MeetingStatusStopping,
	})
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("duplicate lookup failed: %w", err)
	}

	if existing.BotContainerID != nil {
		running, err := m.driver.Inspect(ctx, *existing.BotContainerID)
		if err != nil {
			return fmt.Errorf("duplicate container check failed: %w", err)
		}
		if running {
			return fmt.Errorf("%w: meeting %d", ErrDuplicateBot, existing.ID)
		}
	}

	slog.Info("Reconciling stale meeting row",
		"meeting_id", existing.ID, "status", existing.Status)
	if _, err := m.meetings.UpdateStatus(ctx, existing.ID, models.MeetingStatusFailed); err != nil {
		return fmt.Errorf("failed to retire stale meeting %d: %w", existing.ID, err)
	}
	return nil
}

// StopBot asks the bot to leave and schedules a force-stop safety net.
func (m *Manager) StopBot(ctx context.Context, userID int64, platform models.Platform, nativeID string) error {
	meeting, err := m.findActiveMeeting(ctx, userID, platform, nativeID)
	if err != nil {
		return err
	}

	session, err := m.sessions.EarliestSession(ctx, meeting.ID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("session lookup failed: %w", err)
	}
	if session != nil {
		m.publishCommand(ctx, session.SessionUID, models.BotCommand{Action: models.BotActionLeave})
	} else {
		slog.Warn("No session for meeting, skipping leave command", "meeting_id", meeting.ID)
	}

	if _, err := m.meetings.UpdateStatus(ctx, meeting.ID, models.MeetingStatusStopping); err != nil {
		return fmt.Errorf("failed to mark meeting stopping: %w", err)
	}

	m.scheduleDelayedStop(*meeting.BotContainerID)
	slog.Info("Bot stop requested",
		"meeting_id", meeting.ID, "container_id", *meeting.BotContainerID)
	return nil
}

// Reconfigure sends new language/task settings to the running bot.
func (m *Manager) Reconfigure(ctx context.Context, userID int64, platform models.Platform, nativeID, language, task string) error {
	meeting, err := m.findActiveMeeting(ctx, userID, platform, nativeID)
	if err != nil {
		return err
	}

	session, err := m.sessions.EarliestSession(ctx, meeting.ID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("%w: meeting %d has no session", ErrMissingContainer, meeting.ID)
		}
		return fmt.Errorf("session lookup failed: %w", err)
	}

	command := models.BotCommand{
		Action:   models.BotActionReconfigure,
		UID:      session.SessionUID,
		Language: language,
		Task:     task,
	}
	payload, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	if _, err := m.bus.Publish(ctx, bus.BotCommandsChannel(session.SessionUID), payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	slog.Info("Bot reconfigure requested",
		"meeting_id", meeting.ID, "language", language, "task", task)
	return nil
}

// Status lists the currently running bot containers.
func (m *Manager) Status(ctx context.Context) ([]docker.ContainerInfo, error) {
	return m.driver.ListRunning(ctx, map[string]string{LabelBot: "true"})
}

// HandleExit processes a bot's exit callback. The connection id is the
// placeholder session uid issued at launch.
func (m *Manager) HandleExit(ctx context.Context, connectionID string, exitCode int, reason string) error {
	session, err := m.sessions.FindByUID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, connectionID)
		}
		return fmt.Errorf("session lookup failed: %w", err)
	}

	meeting, err := m.meetings.GetMeeting(ctx, session.MeetingID)
	if err != nil {
		return fmt.Errorf("meeting lookup failed: %w", err)
	}

	if !meeting.Status.IsTerminal() {
		target := models.MeetingStatusCompleted
		if exitCode != 0 {
			target = models.MeetingStatusFailed
		}
		if _, err := m.meetings.UpdateStatus(ctx, meeting.ID, target); err != nil {
			slog.Error("Failed to finalize meeting status",
				"meeting_id", meeting.ID, "target", target, "error", err)
		}
	}

	if reason != "" {
		if _, err := m.meetings.MergeData(ctx, meeting.ID, map[string]any{"completion_reason": reason}); err != nil {
			slog.Error("Failed to record completion reason", "meeting_id", meeting.ID, "error", err)
		}
	}

	m.tasks.RunAsync(meeting.ID)

	if exitCode != 0 && meeting.BotContainerID != nil {
		m.scheduleDelayedStop(*meeting.BotContainerID)
	}

	slog.Info("Bot exit handled",
		"meeting_id", meeting.ID, "connection_id", connectionID,
		"exit_code", exitCode, "reason", reason)
	return nil
}

func (m *Manager) findActiveMeeting(ctx context.Context, userID int64, platform models.Platform, nativeID string) (*models.Meeting, error) {
	meeting, err := m.meetings.FindLatestMeeting(ctx, userID, platform, nativeID,
		[]models.MeetingStatus{models.MeetingStatusActive})
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoActiveMeeting, platform, nativeID)
		}
		return nil, fmt.Errorf("meeting lookup failed: %w", err)
	}
	if meeting.BotContainerID == nil {
		return nil, fmt.Errorf("%w: meeting %d", ErrMissingContainer, meeting.ID)
	}
	return meeting, nil
}

// publishCommand is fire-and-forget: a bot that misses the command is caught
// by the delayed force-stop.
func (m *Manager) publishCommand(ctx context.Context, sessionUID string, command models.BotCommand) {
	payload, err := json.Marshal(command)
	if err != nil {
		slog.Error("Failed to encode bot command", "session_uid", sessionUID, "error", err)
		return
	}
	if _, err := m.bus.Publish(ctx, bus.BotCommandsChannel(sessionUID), payload); err != nil {
		slog.Error("Failed to publish bot command",
			"session_uid", sessionUID, "action", command.Action, "error", err)
	}
}

// scheduleDelayedStop force-stops the container after the grace period,
// detached from the request context.
func (m *Manager) scheduleDelayedStop(containerID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(m.delayedStopAfter)
		stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout+10*time.Second)
		defer cancel()
		if err := m.driver.Stop(stopCtx, containerID, m.cfg.StopTimeout); err != nil {
			slog.Error("Delayed container stop failed", "container_id", containerID, "error", err)
			return
		}
		slog.Info("Delayed container stop completed", "container_id", containerID)
	}()
}

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}
