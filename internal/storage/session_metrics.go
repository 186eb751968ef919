package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/claude/repsession/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertMetrics stores a session's metrics snapshot. An older snapshot never
// replaces a newer one.
func (db *DB) UpsertMetrics(ctx context.Context, rec models.MetricsRecord) error {
	data, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}
	_, err = db.Pool.Exec(ctx,
		`INSERT INTO session_metrics (session_id, user_id, computed_at, metrics)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET
			computed_at = EXCLUDED.computed_at,
			metrics = EXCLUDED.metrics
		 WHERE session_metrics.user_id = EXCLUDED.user_id
		   AND session_metrics.computed_at <= EXCLUDED.computed_at`,
		rec.SessionID, rec.UserID, rec.ComputedAt, data)
	if err != nil {
		return fmt.Errorf("upserting session metrics: %w", err)
	}
	return nil
}

// GetMetrics returns the latest metrics snapshot of a session.
func (db *DB) GetMetrics(ctx context.Context, sessionID uuid.UUID, userID string) (*models.MetricsRecord, error) {
	rec := &models.MetricsRecord{}
	var data []byte
	err := db.Pool.QueryRow(ctx,
		`SELECT session_id, user_id, computed_at, metrics
		 FROM session_metrics WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID,
	).Scan(&rec.SessionID, &rec.UserID, &rec.ComputedAt, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session metrics: %w", err)
	}
	if err := json.Unmarshal(data, &rec.Metrics); err != nil {
		return nil, fmt.Errorf("decoding session metrics: %w", err)
	}
	return rec, nil
}
