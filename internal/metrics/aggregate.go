// Package metrics derives running session totals from completed sets.
package metrics

import (
	"math"

	"github.com/claude/repsession/internal/models"
)

// caloriesPerVolume is the rough kcal-per-kg·rep factor used for the calorie estimate.
const caloriesPerVolume = 0.1

// Aggregate recomputes all metrics over sets from scratch.
// Sets without an effort score count as models.DefaultEffort.
func Aggregate(sets []models.WorkSet) models.Metrics {
	m := models.Metrics{TotalSets: len(sets)}
	if len(sets) == 0 {
		return m
	}

	m.MuscleVolume = make(map[string]float64)
	m.MuscleIntensity = make(map[string]float64)

	var effortSum float64
	for _, s := range sets {
		vol := s.Volume()
		effort := s.EffectiveEffort()

		m.TotalVolume += vol
		m.VolumeLoad += vol * effort
		m.TotalReps += s.Reps
		effortSum += effort

		for _, muscle := range s.MuscleGroups {
			m.MuscleVolume[muscle] += vol
			if effort > m.MuscleIntensity[muscle] {
				m.MuscleIntensity[muscle] = effort
			}
		}
	}

	m.AverageEffort = effortSum / float64(len(sets))
	m.FatigueIndex = clamp((m.AverageEffort-5)*2+m.TotalVolume/10000, 0, 10)
	m.EstimatedCalories = math.Round(m.TotalVolume * caloriesPerVolume)

	first, second := split(sets)
	m.VolumeTrend = trend(totalVolume(first), totalVolume(second))
	m.IntensityTrend = trend(averageEffort(first), averageEffort(second))

	return m
}

// split returns the first and second halves of sets. With an odd count the
// extra set lands in the second half.
func split(sets []models.WorkSet) ([]models.WorkSet, []models.WorkSet) {
	mid := len(sets) / 2
	return sets[:mid], sets[mid:]
}

// trend is the relative change from before to after, clamped to [-1, 1].
// It is 0 when there is no baseline.
func trend(before, after float64) float64 {
	if before <= 0 {
		return 0
	}
	return clamp((after-before)/before, -1, 1)
}

func totalVolume(sets []models.WorkSet) float64 {
	var v float64
	for _, s := range sets {
		v += s.Volume()
	}
	return v
}

func averageEffort(sets []models.WorkSet) float64 {
	if len(sets) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sets {
		sum += s.EffectiveEffort()
	}
	return sum / float64(len(sets))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
