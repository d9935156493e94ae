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

// SessionService tracks bot connection sessions. Each session anchors the
// relative segment timestamps recorded under its uid.
type SessionService struct {
	pool *pgxpool.Pool
}

// NewSessionService creates a new SessionService.
func NewSessionService(pool *pgxpool.Pool) *SessionService {
	if pool == nil {
		panic("NewSessionService: pool must not be nil")
	}
	return &SessionService{pool: pool}
}

// RecordSessionStart stores the start time for a session uid. A repeated
// announcement for the same uid overwrites the start time; the latest
// announcement is the authoritative anchor.
func (s *SessionService) RecordSessionStart(ctx context.Context, meetingID int64, sessionUID string, startTime time.Time) (*models.MeetingSession, error) {
	if sessionUID == "" {
		return nil, NewValidationError("session_uid", "session uid is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO meeting_sessions (meeting_id, session_uid, session_start_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_uid) DO UPDATE SET session_start_time = EXCLUDED.session_start_time`,
		meetingID, sessionUID, startTime.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to record session start: %w", err)
	}
	return s.FindByUID(ctx, sessionUID)
}

// FindByUID fetches a session by its uid.
func (s *SessionService) FindByUID(ctx context.Context, sessionUID string) (*models.MeetingSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, meeting_id, session_uid, session_start_time, created_at
		FROM meeting_sessions WHERE session_uid = $1`, sessionUID)
	return scanSession(row)
}

// ListByMeeting returns a meeting's sessions ordered by start time.
func (s *SessionService) ListByMeeting(ctx context.Context, meetingID int64) ([]*models.MeetingSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, meeting_id, session_uid, session_start_time, created_at
		FROM meeting_sessions WHERE meeting_id = $1
		ORDER BY session_start_time ASC, id ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.MeetingSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// EarliestSession returns the meeting's first session, or ErrNotFound when
// the bot never announced one.
func (s *SessionService) EarliestSession(ctx context.Context, meetingID int64) (*models.MeetingSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, meeting_id, session_uid, session_start_time, created_at
		FROM meeting_sessions WHERE meeting_id = $1
		ORDER BY session_start_time ASC, id ASC
		LIMIT 1`, meetingID)
	return scanSession(row)
}

func scanSession(row pgx.Row) (*models.MeetingSession, error) {
	sess := &models.MeetingSession{}
	err := row.Scan(&sess.ID, &sess.MeetingID, &sess.SessionUID,
		&sess.SessionStartTime, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return sess, nil
}
