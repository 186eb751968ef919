package models

// MovementType classifies an exercise for rest prediction.
type MovementType string

const (
	MovementStrength    MovementType = "strength"
	MovementCardio      MovementType = "cardio"
	MovementPower       MovementType = "power"
	MovementEndurance   MovementType = "endurance"
	MovementFlexibility MovementType = "flexibility"
)

// ExerciseContext describes the exercise a set belongs to. It comes from the
// exercise catalog and is read-only here.
type ExerciseContext struct {
	ExerciseID         string       `json:"exercise_id" yaml:"id" validate:"required"`
	Name               string       `json:"name,omitempty" yaml:"name"`
	Movement           MovementType `json:"movement" yaml:"movement" validate:"required,oneof=strength cardio power endurance flexibility"`
	MuscleGroups       []string     `json:"muscle_groups,omitempty" yaml:"muscle_groups" validate:"dive,required"`
	Intensity          int          `json:"intensity" yaml:"intensity" validate:"gte=1,lte=10"`
	SetIndex           int          `json:"set_index" yaml:"-"`
	TotalSets          int          `json:"total_sets" yaml:"sets" validate:"gte=1"`
	TargetReps         int          `json:"target_reps,omitempty" yaml:"target_reps" validate:"gte=0"`
	TargetEffort       *float64     `json:"target_effort,omitempty" yaml:"target_effort" validate:"omitempty,gte=1,lte=10"`
	DefaultRestSeconds int          `json:"default_rest_seconds,omitempty" yaml:"rest_seconds" validate:"gte=0"`
}

// Clone returns a copy that shares no slices or pointers with e.
func (e ExerciseContext) Clone() ExerciseContext {
	c := e
	c.MuscleGroups = cloneStrings(e.MuscleGroups)
	if e.TargetEffort != nil {
		v := *e.TargetEffort
		c.TargetEffort = &v
	}
	return c
}
