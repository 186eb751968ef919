// Package rest proposes rest durations between sets.
//
// The model is a weighted heuristic over six normalized factors (fatigue,
// heart rate, recent performance, exercise intensity, time of day and
// hydration) applied to a per-movement base duration. Its output is advisory:
// the session controller may accept it, override it, extend it or skip it.
package rest

import (
	"math"
	"time"

	"github.com/claude/repsession/internal/models"
)

// Defaults used when a signal is not available.
const (
	DefaultHeartRateRatio = 0.5
	DefaultPerformance    = 0.7
	DefaultHydration      = 0.8
	DefaultRestSeconds    = 120

	maxHistorySamples = 4
)

// DefaultPreferredRest is the base rest per movement type, in seconds.
var DefaultPreferredRest = map[models.MovementType]int{
	models.MovementStrength:    180,
	models.MovementCardio:      60,
	models.MovementPower:       300,
	models.MovementEndurance:   45,
	models.MovementFlexibility: 30,
}

// Config tunes the predictor for a user.
type Config struct {
	PreferredRest    map[models.MovementType]int `yaml:"preferred_rest"`
	RestingHeartRate float64                     `yaml:"resting_heart_rate"`
	MaxHeartRate     float64                     `yaml:"max_heart_rate"`
}

// DefaultConfig returns the stock preferences.
func DefaultConfig() Config {
	pref := make(map[models.MovementType]int, len(DefaultPreferredRest))
	for k, v := range DefaultPreferredRest {
		pref[k] = v
	}
	return Config{
		PreferredRest:    pref,
		RestingHeartRate: 65,
		MaxHeartRate:     190,
	}
}

// Signals are the auxiliary inputs beyond exercise context and metrics.
// Zero values mean "not available".
type Signals struct {
	HeartRate     float64
	Now           time.Time
	Hydration     float64
	PreviousRests []int
	CurrentEffort float64
}

// Predictor computes rest recommendations. The zero value is not usable; use New.
type Predictor struct {
	cfg Config
}

// New creates a Predictor. Missing preferences fall back to DefaultConfig.
func New(cfg Config) *Predictor {
	def := DefaultConfig()
	if cfg.PreferredRest == nil {
		cfg.PreferredRest = def.PreferredRest
	} else {
		for k, v := range def.PreferredRest {
			if _, ok := cfg.PreferredRest[k]; !ok {
				cfg.PreferredRest[k] = v
			}
		}
	}
	if cfg.RestingHeartRate <= 0 {
		cfg.RestingHeartRate = def.RestingHeartRate
	}
	if cfg.MaxHeartRate <= cfg.RestingHeartRate {
		cfg.MaxHeartRate = def.MaxHeartRate
	}
	return &Predictor{cfg: cfg}
}

// Base returns the preferred rest for a movement type.
func (p *Predictor) Base(movement models.MovementType) int {
	if v, ok := p.cfg.PreferredRest[movement]; ok && v > 0 {
		return v
	}
	return DefaultRestSeconds
}

// Predict proposes a rest duration for the exercise just performed.
// When no current effort is signalled, the session's average effort stands in.
func (p *Predictor) Predict(ex models.ExerciseContext, m models.Metrics, sig Signals) models.RestRecommendation {
	effort := sig.CurrentEffort
	if effort <= 0 && m.TotalSets > 0 {
		effort = m.AverageEffort
	}

	f := models.RestFactors{
		Fatigue:        fatigue(ex.SetIndex, ex.TotalSets),
		HeartRateRatio: DefaultHeartRateRatio,
		Performance:    DefaultPerformance,
		Intensity:      clamp(float64(ex.Intensity)/10, 0, 1),
		TimeOfDay:      TimeOfDayFactor(sig.Now),
		Hydration:      DefaultHydration,
	}
	hrKnown := sig.HeartRate > 0
	if hrKnown {
		f.HeartRateRatio = clamp((sig.HeartRate-p.cfg.RestingHeartRate)/(p.cfg.MaxHeartRate-p.cfg.RestingHeartRate), 0, 1)
	}
	if ex.TargetEffort != nil && effort > 0 {
		f.Performance = clamp(1-(effort-*ex.TargetEffort)/10, 0, 1)
	}
	if sig.Hydration > 0 {
		f.Hydration = clamp(sig.Hydration, 0, 1)
	}

	return Recommend(p.Base(ex.Movement), f, hrKnown, len(sig.PreviousRests))
}

// Recommend applies the weighting to already-normalized factors.
func Recommend(base int, f models.RestFactors, heartRateKnown bool, historySamples int) models.RestRecommendation {
	adjustment := (1+
		f.Fatigue*0.4+
		f.HeartRateRatio*0.3+
		(1-f.Performance)*0.3+
		f.Intensity*0.2)*f.TimeOfDay +
		(1-f.Hydration)*0.1

	suggested := int(math.Round(float64(base) * adjustment))

	confidence := 0.6 + 0.05*float64(min(historySamples, maxHistorySamples))
	if heartRateKnown {
		confidence += 0.2
	}
	if f.Performance > 0.5 {
		confidence += 0.1
	}

	return models.RestRecommendation{
		Suggested:  suggested,
		Minimum:    int(math.Round(float64(suggested) * 0.6)),
		Maximum:    int(math.Round(float64(suggested) * 1.5)),
		Confidence: math.Min(1, confidence),
		Reasoning:  reasoning(f),
		Factors:    f,
	}
}

// TimeOfDayFactor maps the local hour to an energy multiplier.
func TimeOfDayFactor(now time.Time) float64 {
	h := now.Hour()
	switch {
	case h >= 6 && h <= 10:
		return 0.9
	case h >= 14 && h <= 18:
		return 1.0
	case h >= 19 && h <= 22:
		return 0.8
	default:
		return 0.6
	}
}

func reasoning(f models.RestFactors) []string {
	var out []string
	if f.Fatigue > 0.7 {
		out = append(out, "fatigue building up: longer rest")
	}
	if f.HeartRateRatio > 0.8 {
		out = append(out, "heart rate elevated: cardiovascular recovery")
	}
	if f.Intensity > 0.8 {
		out = append(out, "high-intensity exercise: maximal rest")
	}
	if f.Performance < 0.5 {
		out = append(out, "performance dropping")
	}
	if f.TimeOfDay < 0.7 {
		out = append(out, "off-peak time of day: compensating")
	}
	return out
}

func fatigue(setIndex, totalSets int) float64 {
	if totalSets <= 0 {
		return 0
	}
	return clamp(float64(setIndex)/float64(totalSets), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
