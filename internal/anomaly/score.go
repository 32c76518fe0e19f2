package anomaly

import (
	"math"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// Weights maps a category to its contribution to the anomaly score.
type Weights map[model.AnomalyCategory]float64

// DefaultWeights ranks categories by how directly they indicate misuse of client funds.
func DefaultWeights() Weights {
	return Weights{
		model.AnomalyNegativeBalance: 1.0,
		model.AnomalyStructuring:     0.8,
		model.AnomalyLargeAmount:     0.7,
		model.AnomalyDuplicate:       0.6,
		model.AnomalyOffHours:        0.4,
	}
}

// Severity cut-offs on the score.
const (
	criticalAt = 0.8
	highAt     = 0.6
	mediumAt   = 0.35
)

// Score is weight x confidence, rounded to two places. Unknown categories weigh 0.5.
func (w Weights) Score(cat model.AnomalyCategory, confidence float64) float64 {
	weight, ok := w[cat]
	if !ok {
		weight = 0.5
	}
	return math.Round(weight*confidence*100) / 100
}

// SeverityFor grades a score.
func SeverityFor(score float64) model.Severity {
	switch {
	case score >= criticalAt:
		return model.SeverityCritical
	case score >= highAt:
		return model.SeverityHigh
	case score >= mediumAt:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
