package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vexa-ai/vexa/pkg/models"
)

// TranscriptService persists finalized transcript segments.
type TranscriptService struct {
	pool *pgxpool.Pool
}

// NewTranscriptService creates a new TranscriptService.
func NewTranscriptService(pool *pgxpool.Pool) *TranscriptService {
	if pool == nil {
		panic("NewTranscriptService: pool must not be nil")
	}
	return &TranscriptService{pool: pool}
}

// InsertBatch inserts segments, skipping rows that collide with an existing
// (meeting, start time, session uid) key. Returns the number inserted.
func (s *TranscriptService) InsertBatch(ctx context.Context, segments []models.Transcription) (int64, error) {
	if len(segments) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, seg := range segments {
		batch.Queue(`
			INSERT INTO transcriptions (meeting_id, session_uid, start_time, end_time, text, language, speaker)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (meeting_id, start_time, session_uid) DO NOTHING`,
			seg.MeetingID, seg.SessionUID, seg.StartTime, seg.EndTime,
			seg.Text, seg.Language, seg.Speaker)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range segments {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transcription batch: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListByMeeting returns a meeting's stored segments ordered by start time.
func (s *TranscriptService) ListByMeeting(ctx context.Context, meetingID int64) ([]*models.Transcription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, meeting_id, session_uid, start_time, end_time, text, language, speaker, created_at
		FROM transcriptions WHERE meeting_id = $1
		ORDER BY start_time ASC, id ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcriptions: %w", err)
	}
	defer rows.Close()

	var segments []*models.Transcription
	for rows.Next() {
		t := &models.Transcription{}
		err := rows.Scan(&t.ID, &t.MeetingID, &t.SessionUID, &t.StartTime,
			&t.EndTime, &t.Text, &t.Language, &t.Speaker, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		segments = append(segments, t)
	}
	return segments, rows.Err()
}
