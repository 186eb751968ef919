package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultEffort is assumed for a set whose effort score was not reported.
const DefaultEffort = 7.0

// WorkSet is one completed, immutable unit of work (a set).
// A correction is a new WorkSet; a synced one is never edited in place.
type WorkSet struct {
	ID           uuid.UUID    `json:"id" validate:"required"`
	SessionID    uuid.UUID    `json:"session_id"`
	UserID       string       `json:"user_id" validate:"required"`
	ExerciseID   string       `json:"exercise_id" validate:"required"`
	Movement     MovementType `json:"movement,omitempty"`
	MuscleGroups []string     `json:"muscle_groups,omitempty"`
	SetNumber    int          `json:"set_number" validate:"gte=1"`
	WeightKg     float64      `json:"weight_kg" validate:"gte=0"`
	Reps         int          `json:"reps" validate:"gte=0"`
	Effort       float64      `json:"effort" validate:"gte=0,lte=10"`
	Tempo        string       `json:"tempo,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	CompletedAt  time.Time    `json:"completed_at" validate:"required"`
	Completed    bool         `json:"completed"`
}

// Volume is weight × repetitions.
func (w WorkSet) Volume() float64 {
	return w.WeightKg * float64(w.Reps)
}

// EffectiveEffort returns the reported effort, or DefaultEffort when none was reported.
func (w WorkSet) EffectiveEffort() float64 {
	if w.Effort <= 0 {
		return DefaultEffort
	}
	return w.Effort
}

// Clone returns a copy that shares no slices with w.
func (w WorkSet) Clone() WorkSet {
	c := w
	c.MuscleGroups = cloneStrings(w.MuscleGroups)
	return c
}

// SetInput is the caller-supplied data for a completed set.
type SetInput struct {
	ExerciseID string  `json:"exercise_id,omitempty" yaml:"exercise_id"`
	WeightKg   float64 `json:"weight_kg" yaml:"weight_kg"`
	Reps       int     `json:"reps" yaml:"reps"`
	Effort     float64 `json:"effort,omitempty" yaml:"effort"`
	Tempo      string  `json:"tempo,omitempty" yaml:"tempo"`
	Notes      string  `json:"notes,omitempty" yaml:"notes"`
}
