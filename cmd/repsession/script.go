package main

import (
	"fmt"
	"os"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/session"
	"gopkg.in/yaml.v3"
)

// scriptStep is one line of a workout script. A step either dispatches an
// event or, with only Wait set, lets the session clock run.
type scriptStep struct {
	Event string        `yaml:"event"`
	Wait  time.Duration `yaml:"wait"`

	Plan      string                   `yaml:"plan"`
	Exercises []models.ExerciseContext `yaml:"exercises"`
	Exercise  string                   `yaml:"exercise"`
	Set       models.SetInput          `yaml:"set"`
	Rest      bool                     `yaml:"rest"`
	Seconds   int                      `yaml:"seconds"`
	Reason    string                   `yaml:"reason"`
	HeartRate float64                  `yaml:"heart_rate"`
	Hydration float64                  `yaml:"hydration"`
}

type script struct {
	Steps []scriptStep `yaml:"steps"`
}

// action is a parsed step: ev is nil for a pure wait.
type action struct {
	ev   session.Event
	wait time.Duration
}

func loadScript(path string) ([]action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return parseScript(data)
}

func parseScript(data []byte) ([]action, error) {
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	actions := make([]action, 0, len(s.Steps))
	for i, st := range s.Steps {
		if st.Event == "" {
			if st.Wait <= 0 {
				return nil, fmt.Errorf("step %d: needs an event or a wait", i+1)
			}
			actions = append(actions, action{wait: st.Wait})
			continue
		}
		ev, err := st.event()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		actions = append(actions, action{ev: ev, wait: st.Wait})
	}
	return actions, nil
}

func (st scriptStep) event() (session.Event, error) {
	switch st.Event {
	case "start_warmup":
		return session.StartWarmup{PlanID: st.Plan, Exercises: st.Exercises}, nil
	case "begin_exercise":
		return session.BeginExercise{ExerciseID: st.Exercise}, nil
	case "complete_set":
		set := st.Set
		if set.ExerciseID == "" {
			set.ExerciseID = st.Exercise
		}
		return session.CompleteSet{Set: set, StartRest: st.Rest, RestSeconds: st.Seconds}, nil
	case "start_rest":
		return session.StartRest{Seconds: st.Seconds}, nil
	case "skip_rest":
		return session.SkipRest{}, nil
	case "extend_rest":
		return session.ExtendRest{Seconds: st.Seconds}, nil
	case "next_exercise":
		return session.NextExercise{}, nil
	case "pause_workout":
		return session.PauseWorkout{}, nil
	case "resume_workout":
		return session.ResumeWorkout{}, nil
	case "complete_workout":
		return session.CompleteWorkout{}, nil
	case "emergency_stop":
		return session.EmergencyStop{Reason: st.Reason}, nil
	case "report_vitals":
		return session.ReportVitals{HeartRate: st.HeartRate, Hydration: st.Hydration}, nil
	case "archive":
		return session.Archive{}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", st.Event)
	}
}
