package progress

import (
	"time"

	"assessment-sync/internal/models"
)

// Summary builds the scores block. Overall completion counts completed
// indicators over all catalog indicators; the overall score averages pillar
// scores of pillars with at least one answer.
func (c *Calculator) Summary(app *models.Application, now time.Time) models.Scores {
	s := models.Scores{
		Pillars:    make(map[string]models.PillarScore, models.PillarCount),
		ComputedAt: now,
	}

	var (
		completed, total int
		scoreSum         float64
		scored           int
	)
	for _, pid := range c.catalog.PillarIDs() {
		p := c.Pillar(app, pid)
		s.Pillars[pid] = models.PillarScore{
			Completion: p.Completion,
			Score:      p.Score,
			Answered:   p.Answered,
			Completed:  p.Completed,
			Total:      p.Total,
		}
		completed += p.Completed
		total += p.Total
		if p.Answered > 0 {
			scoreSum += p.Score
			scored++
		}
	}

	if total > 0 {
		s.Completion = float64(completed) / float64(total) * 100
	}
	if scored > 0 {
		s.Overall = scoreSum / float64(scored)
	}
	return s
}

// IndicatorResponses flattens every indicator that has data, in catalog order.
func (c *Calculator) IndicatorResponses(app *models.Application) []models.IndicatorResponse {
	var out []models.IndicatorResponse
	for _, pid := range c.catalog.PillarIDs() {
		pd := app.PillarData[pid]
		if pd == nil {
			continue
		}
		for _, id := range c.catalog.PillarIndicators(pid) {
			data, ok := pd.Indicators[id]
			if !ok || data == nil {
				continue
			}
			st := EvaluateIndicator(c.scorer, id, data)
			out = append(out, models.IndicatorResponse{
				PillarID:         pid,
				IndicatorID:      id,
				Value:            data.Value,
				NormalizedScore:  st.Score,
				EvidenceRequired: st.EvidenceRequired,
				EvidenceProvided: st.EvidenceProvided,
				Complete:         st.Answered && st.Complete,
			})
		}
	}
	return out
}
