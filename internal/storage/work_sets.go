package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const setColumns = `id, session_id, user_id, exercise_id, movement, muscle_groups, set_number,
	weight_kg, reps, effort, tempo, notes, completed, completed_at`

// UpsertSet inserts a work set. Sets are immutable once recorded, so a
// redelivered set only refreshes received_at.
func (db *DB) UpsertSet(ctx context.Context, w models.WorkSet) error {
	groups := w.MuscleGroups
	if groups == nil {
		groups = []string{}
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO work_sets (`+setColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET received_at = NOW()
		 WHERE work_sets.user_id = EXCLUDED.user_id`,
		w.ID, nullableUUID(w.SessionID), w.UserID, w.ExerciseID, string(w.Movement), groups,
		w.SetNumber, w.WeightKg, w.Reps, w.Effort, w.Tempo, w.Notes, w.Completed, w.CompletedAt)
	if err != nil {
		return fmt.Errorf("upserting work set: %w", err)
	}
	return nil
}

// QuerySets retrieves a user's sets completed in [start, end), optionally
// filtered by exercise id.
func (db *DB) QuerySets(ctx context.Context, userID string, start, end time.Time, exercise string) ([]models.WorkSet, error) {
	query := `SELECT ` + setColumns + ` FROM work_sets
		 WHERE user_id = $1 AND completed_at >= $2 AND completed_at < $3`
	args := []any{userID, start, end}
	if exercise != "" {
		query += ` AND exercise_id = $4`
		args = append(args, exercise)
	}
	query += ` ORDER BY completed_at ASC`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying work sets: %w", err)
	}
	defer rows.Close()

	var result []models.WorkSet
	for rows.Next() {
		w, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func scanSet(row pgx.Row) (models.WorkSet, error) {
	var (
		w         models.WorkSet
		sessionID *uuid.UUID
		movement  string
	)
	if err := row.Scan(&w.ID, &sessionID, &w.UserID, &w.ExerciseID, &movement, &w.MuscleGroups,
		&w.SetNumber, &w.WeightKg, &w.Reps, &w.Effort, &w.Tempo, &w.Notes, &w.Completed, &w.CompletedAt); err != nil {
		return w, fmt.Errorf("scanning work set: %w", err)
	}
	if sessionID != nil {
		w.SessionID = *sessionID
	}
	w.Movement = models.MovementType(movement)
	return w, nil
}
