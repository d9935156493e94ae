package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vexa-ai/vexa/pkg/models"
)

const meetingColumns = `id, user_id, platform, platform_specific_id, status,
	bot_container_id, start_time, end_time, data, created_at, updated_at`

// MeetingService manages meeting rows and enforces the lifecycle state
// machine on every status change.
type MeetingService struct {
	pool *pgxpool.Pool
}

// NewMeetingService creates a new MeetingService.
func NewMeetingService(pool *pgxpool.Pool) *MeetingService {
	if pool == nil {
		panic("NewMeetingService: pool must not be nil")
	}
	return &MeetingService{pool: pool}
}

// CreateMeeting inserts a new meeting in requested status.
func (s *MeetingService) CreateMeeting(ctx context.Context, userID int64, platform models.Platform, nativeID string, data map[string]any) (*models.Meeting, error) {
	if data == nil {
		data = map[string]any{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO meetings (user_id, platform, platform_specific_id, status, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+meetingColumns,
		userID, string(platform), nativeID, string(models.MeetingStatusRequested), data)
	return scanMeeting(row)
}

// FindLatestMeeting returns the newest meeting for (user, platform, native id)
// whose status is in statuses. An empty statuses slice matches any status.
// No match returns ErrNotFound.
func (s *MeetingService) FindLatestMeeting(ctx context.Context, userID int64, platform models.Platform, nativeID string, statuses []models.MeetingStatus) (*models.Meeting, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+meetingColumns+`
		FROM meetings
		WHERE user_id = $1 AND platform = $2 AND platform_specific_id = $3
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4::text[]))
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID, string(platform), nativeID, statusStrs)
	return scanMeeting(row)
}

// GetMeeting fetches a meeting by id.
func (s *MeetingService) GetMeeting(ctx context.Context, meetingID int64) (*models.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, meetingID)
	return scanMeeting(row)
}

// ListMeetings returns a user's meetings, newest first.
func (s *MeetingService) ListMeetings(ctx context.Context, userID int64) ([]*models.Meeting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+meetingColumns+`
		FROM meetings WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// UpdateStatus moves a meeting to a new status under a row lock, rejecting
// transitions the state machine does not permit. Entering active stamps
// start_time; entering a terminal status stamps end_time.
func (s *MeetingService) UpdateStatus(ctx context.Context, meetingID int64, to models.MeetingStatus) (*models.Meeting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM meetings WHERE id = $1 FOR UPDATE`, meetingID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock meeting: %w", err)
	}

	from := models.MeetingStatus(current)
	if from != to && !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	var startTime, endTime *time.Time
	if to == models.MeetingStatusActive {
		startTime = &now
	}
	if to.IsTerminal() {
		endTime = &now
	}

	row := tx.QueryRow(ctx, `
		UPDATE meetings SET
			status = $2,
			start_time = COALESCE(start_time, $3),
			end_time = COALESCE(end_time, $4),
			updated_at = now()
		WHERE id = $1
		RETURNING `+meetingColumns,
		meetingID, string(to), startTime, endTime)
	meeting, err := scanMeeting(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return meeting, nil
}

// SetContainer records the launched bot container on a meeting.
func (s *MeetingService) SetContainer(ctx context.Context, meetingID int64, containerID string) (*models.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE meetings SET bot_container_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+meetingColumns, meetingID, containerID)
	return scanMeeting(row)
}

// MergeData shallow-merges patch into the meeting's data mapping.
func (s *MeetingService) MergeData(ctx context.Context, meetingID int64, patch map[string]any) (*models.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE meetings SET data = data || $2, updated_at = now()
		WHERE id = $1
		RETURNING `+meetingColumns, meetingID, patch)
	return scanMeeting(row)
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	m := &models.Meeting{}
	var platform, status string
	err := row.Scan(&m.ID, &m.UserID, &platform, &m.NativeMeetingID, &status,
		&m.BotContainerID, &m.StartTime, &m.EndTime, &m.Data, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan meeting: %w", err)
	}
	m.Platform = models.Platform(platform)
	m.Status = models.MeetingStatus(status)
	return m, nil
}
