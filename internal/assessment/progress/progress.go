// Package progress derives completion and score figures from an application
// snapshot. Cached figures on the snapshot are never read back for decisions;
// every call recomputes from the indicator data.
package progress

import (
	"time"

	"assessment-sync/internal/assessment/scoring"
	"assessment-sync/internal/models"
)

// Catalog is the lookup surface progress needs on top of scoring.
type Catalog interface {
	scoring.Lookup
	PillarIndicators(pillarID string) []string
	PillarIDs() []string
}

// Progress is the completion and average score of one pillar.
type Progress struct {
	Completion float64
	Score      float64
	Answered   int
	Completed  int
	Total      int
}

// IndicatorStatus is the evaluated state of a single indicator.
type IndicatorStatus struct {
	Answered         bool
	Score            float64
	EvidenceRequired bool
	EvidenceProvided bool
	Complete         bool
}

// EvaluateIndicator applies the value and evidence rules to one indicator.
// A nil data pointer is an indicator nobody has touched yet.
func EvaluateIndicator(s *scoring.Scorer, id string, data *models.IndicatorData) IndicatorStatus {
	if data == nil {
		return IndicatorStatus{}
	}
	st := IndicatorStatus{Answered: scoring.IsAnswered(data.Value)}
	if !st.Answered {
		return st
	}
	st.Score = s.NormalizeScore(id, data.Value)
	st.EvidenceRequired = s.IsEvidenceRequired(id, data.Value)
	st.EvidenceProvided = scoring.ValidateEvidence(&data.Evidence)
	st.Complete = !st.EvidenceRequired || st.EvidenceProvided
	return st
}

// ComputePillarProgress walks the canonical indicator list, so indicators with
// no data still count toward the completion denominator. The score averages
// answered indicators only.
func ComputePillarProgress(s *scoring.Scorer, pd *models.PillarData, indicatorIDs []string) Progress {
	p := Progress{Total: len(indicatorIDs)}
	if p.Total == 0 {
		return p
	}

	var scoreSum float64
	for _, id := range indicatorIDs {
		var data *models.IndicatorData
		if pd != nil {
			data = pd.Indicators[id]
		}
		st := EvaluateIndicator(s, id, data)
		if !st.Answered {
			continue
		}
		p.Answered++
		scoreSum += st.Score
		if st.Complete {
			p.Completed++
		}
	}

	p.Completion = float64(p.Completed) / float64(p.Total) * 100
	if p.Answered > 0 {
		p.Score = scoreSum / float64(p.Answered)
	}
	return p
}

// Calculator derives pillar progress, overall scores and step gating.
type Calculator struct {
	catalog Catalog
	scorer  *scoring.Scorer
}

// NewCalculator creates a Calculator over catalog c.
func NewCalculator(c Catalog) *Calculator {
	return &Calculator{catalog: c, scorer: scoring.NewScorer(c)}
}

func (c *Calculator) Scorer() *scoring.Scorer {
	return c.scorer
}

func (c *Calculator) Catalog() Catalog {
	return c.catalog
}

// Pillar computes progress for one pillar of app.
func (c *Calculator) Pillar(app *models.Application, pillarID string) Progress {
	var pd *models.PillarData
	if app != nil {
		pd = app.PillarData[pillarID]
	}
	return ComputePillarProgress(c.scorer, pd, c.catalog.PillarIndicators(pillarID))
}

// Refresh recomputes one pillar and writes the display caches back.
func (c *Calculator) Refresh(app *models.Application, pillarID string) Progress {
	p := c.Pillar(app, pillarID)
	if pd, ok := app.PillarData[pillarID]; ok && pd != nil {
		pd.Completion = p.Completion
		pd.Score = p.Score
	}
	return p
}

// RefreshAll recomputes every pillar cache and the scores summary.
func (c *Calculator) RefreshAll(app *models.Application, now time.Time) {
	app.EnsurePillars()
	for _, pid := range c.catalog.PillarIDs() {
		c.Refresh(app, pid)
	}
	scores := c.Summary(app, now)
	app.Scores = &scores
}
