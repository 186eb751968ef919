package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, user_id, plan_id, state, created_at, started_at, ended_at,
	duration_seconds, total_pause_seconds, total_sets, total_volume, emergency_reason`

// UpsertSession inserts or replaces a session summary. Redelivery of the same
// summary leaves the row unchanged.
func (db *DB) UpsertSession(ctx context.Context, s models.SessionSummary) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO workout_sessions (`+sessionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			state = EXCLUDED.state,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			total_pause_seconds = EXCLUDED.total_pause_seconds,
			total_sets = EXCLUDED.total_sets,
			total_volume = EXCLUDED.total_volume,
			emergency_reason = EXCLUDED.emergency_reason,
			updated_at = NOW()
		 WHERE workout_sessions.user_id = EXCLUDED.user_id`,
		s.ID, s.UserID, s.PlanID, string(s.State), s.CreatedAt, s.StartedAt, s.EndedAt,
		s.DurationSeconds, s.TotalPauseSeconds, s.TotalSets, s.TotalVolume, s.EmergencyReason)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// ListSessions returns a user's sessions created in [start, end), newest first.
func (db *DB) ListSessions(ctx context.Context, userID string, start, end time.Time, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM workout_sessions
		 WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at DESC
		 LIMIT $4`,
		userID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []models.SessionSummary
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// GetSession retrieves a session with its sets and metrics.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID, userID string) (*models.SessionDetail, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM workout_sessions WHERE id = $1 AND user_id = $2`,
		id, userID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	detail := &models.SessionDetail{SessionSummary: s}

	setRows, err := db.Pool.Query(ctx,
		`SELECT `+setColumns+` FROM work_sets
		 WHERE session_id = $1 AND user_id = $2
		 ORDER BY completed_at ASC`,
		id, userID)
	if err != nil {
		return nil, fmt.Errorf("querying session sets: %w", err)
	}
	defer setRows.Close()
	for setRows.Next() {
		set, err := scanSet(setRows)
		if err != nil {
			return nil, err
		}
		detail.Sets = append(detail.Sets, set)
	}
	if err := setRows.Err(); err != nil {
		return nil, err
	}

	rec, err := db.GetMetrics(ctx, id, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		detail.Metrics = rec
	}
	return detail, nil
}

func scanSession(row pgx.Row) (models.SessionSummary, error) {
	var (
		s     models.SessionSummary
		state string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &state, &s.CreatedAt, &s.StartedAt, &s.EndedAt,
		&s.DurationSeconds, &s.TotalPauseSeconds, &s.TotalSets, &s.TotalVolume, &s.EmergencyReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("scanning session: %w", err)
	}
	s.State = models.State(state)
	return s, nil
}
