package storage

import (
	"context"
	"fmt"

	"github.com/claude/repsession/internal/models"
)

// GetUserStats returns aggregate statistics for a user's synced data.
func (db *DB) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	stats := &models.UserStats{}

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at)
		 FROM workout_sessions WHERE user_id = $1`, userID,
	).Scan(&stats.TotalSessions, &stats.FirstSession, &stats.LastSession)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(weight_kg * reps), 0)
		 FROM work_sets WHERE user_id = $1`, userID,
	).Scan(&stats.TotalSets, &stats.TotalVolume)
	if err != nil {
		return nil, fmt.Errorf("counting sets: %w", err)
	}

	// Unreported effort (0) is excluded from the average
	rows, err := db.Pool.Query(ctx,
		`SELECT exercise_id, COUNT(*), COALESCE(SUM(reps), 0),
		        COALESCE(SUM(weight_kg * reps), 0), COALESCE(MAX(weight_kg), 0),
		        COALESCE(AVG(NULLIF(effort, 0)), 0)
		 FROM work_sets
		 WHERE user_id = $1
		 GROUP BY exercise_id
		 ORDER BY COUNT(*) DESC, exercise_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying exercise stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ExerciseStat
		if err := rows.Scan(&s.ExerciseID, &s.Sets, &s.Reps, &s.Volume, &s.MaxWeightKg, &s.AverageEffort); err != nil {
			return nil, fmt.Errorf("scanning exercise stat: %w", err)
		}
		stats.Exercises = append(stats.Exercises, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
