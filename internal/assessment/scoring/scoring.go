// Package scoring normalizes raw indicator answers to 0-100 scores and decides
// whether evidence is required and present.
package scoring

import (
	"math"

	"assessment-sync/internal/models"
	"assessment-sync/pkg/catalog"
)

// Lookup is the catalog surface scoring depends on.
type Lookup interface {
	MeasurementUnit(id string) (catalog.Unit, bool)
	MaxScore(id string) (float64, bool)
	EvidenceRequired(id string, normalizedScore float64) bool
}

// Scorer applies the catalog's scoring and evidence rules to raw answers.
type Scorer struct {
	lookup Lookup
}

// NewScorer creates a Scorer backed by lookup.
func NewScorer(lookup Lookup) *Scorer {
	return &Scorer{lookup: lookup}
}

// NormalizeScore maps a raw value to [0,100]. Unanswered values, unknown
// indicators and unparseable text all score 0.
func (s *Scorer) NormalizeScore(indicatorID string, value models.IndicatorValue) float64 {
	if !value.IsSet() {
		return 0
	}
	raw, ok := value.Float()
	if !ok {
		return 0
	}
	unit, ok := s.lookup.MeasurementUnit(indicatorID)
	if !ok {
		return 0
	}

	var score float64
	switch unit {
	case catalog.UnitScore, catalog.UnitNumber:
		max, _ := s.lookup.MaxScore(indicatorID)
		if max <= 0 {
			return 0
		}
		score = math.Min(raw/max, 1) * 100
	case catalog.UnitPercentage:
		score = math.Min(raw, 100)
	case catalog.UnitBinary:
		if raw != 0 {
			score = 100
		}
	default:
		return 0
	}
	return clamp(score)
}

// IsEvidenceRequired evaluates the catalog rule against the normalized score.
func (s *Scorer) IsEvidenceRequired(indicatorID string, value models.IndicatorValue) bool {
	return s.lookup.EvidenceRequired(indicatorID, s.NormalizeScore(indicatorID, value))
}

// IsAnswered reports whether the indicator counts as answered.
func IsAnswered(value models.IndicatorValue) bool {
	return value.IsSet()
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
