package models

import (
	"time"

	"github.com/google/uuid"
)

// Metrics holds the running totals derived from a session's sets.
type Metrics struct {
	TotalVolume       float64            `json:"total_volume"`
	VolumeLoad        float64            `json:"volume_load"`
	TotalSets         int                `json:"total_sets"`
	TotalReps         int                `json:"total_reps"`
	AverageEffort     float64            `json:"average_effort"`
	FatigueIndex      float64            `json:"fatigue_index"`
	EstimatedCalories float64            `json:"estimated_calories"`
	MuscleVolume      map[string]float64 `json:"muscle_volume,omitempty"`
	MuscleIntensity   map[string]float64 `json:"muscle_intensity,omitempty"`
	VolumeTrend       float64            `json:"volume_trend"`
	IntensityTrend    float64            `json:"intensity_trend"`
}

// Clone returns a copy that shares no maps with m.
func (m Metrics) Clone() Metrics {
	c := m
	c.MuscleVolume = cloneFloatMap(m.MuscleVolume)
	c.MuscleIntensity = cloneFloatMap(m.MuscleIntensity)
	return c
}

// MetricsRecord is the metrics snapshot upserted to the remote data service.
// It is keyed by session id.
type MetricsRecord struct {
	SessionID  uuid.UUID `json:"session_id" validate:"required"`
	UserID     string    `json:"user_id" validate:"required"`
	ComputedAt time.Time `json:"computed_at" validate:"required"`
	Metrics    Metrics   `json:"metrics"`
}

// RestFactors are the normalized inputs the rest predictor weighed.
type RestFactors struct {
	Fatigue        float64 `json:"fatigue"`
	HeartRateRatio float64 `json:"heart_rate_ratio"`
	Performance    float64 `json:"performance"`
	Intensity      float64 `json:"intensity"`
	TimeOfDay      float64 `json:"time_of_day"`
	Hydration      float64 `json:"hydration"`
}

// RestRecommendation is an advisory rest duration between sets.
type RestRecommendation struct {
	Suggested  int         `json:"suggested"`
	Minimum    int         `json:"minimum"`
	Maximum    int         `json:"maximum"`
	Confidence float64     `json:"confidence"`
	Reasoning  []string    `json:"reasoning,omitempty"`
	Factors    RestFactors `json:"factors"`
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
