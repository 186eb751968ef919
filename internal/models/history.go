package models

import "time"

// SessionDetail is a synced session with its sets and latest metrics.
type SessionDetail struct {
	SessionSummary
	Sets    []WorkSet      `json:"sets"`
	Metrics *MetricsRecord `json:"metrics,omitempty"`
}

// UserStats are aggregate counts over everything a user has synced.
type UserStats struct {
	TotalSessions int64          `json:"total_sessions"`
	TotalSets     int64          `json:"total_sets"`
	TotalVolume   float64        `json:"total_volume"`
	FirstSession  *time.Time     `json:"first_session,omitempty"`
	LastSession   *time.Time     `json:"last_session,omitempty"`
	Exercises     []ExerciseStat `json:"exercises"`
}

// ExerciseStat summarizes one exercise across all synced sets.
type ExerciseStat struct {
	ExerciseID    string  `json:"exercise_id"`
	Sets          int64   `json:"sets"`
	Reps          int64   `json:"reps"`
	Volume        float64 `json:"volume"`
	MaxWeightKg   float64 `json:"max_weight_kg"`
	AverageEffort float64 `json:"average_effort"`
}
