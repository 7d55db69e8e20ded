package progress

import (
	"fmt"

	"assessment-sync/internal/models"
)

// StepComplete reports whether a single step is fully satisfied.
func (c *Calculator) StepComplete(app *models.Application, step int) bool {
	switch {
	case step == models.InstitutionStep:
		return InstitutionComplete(app.InstitutionData)
	case step >= 1 && step <= models.PillarCount:
		return c.Pillar(app, models.PillarKey(step)).Completion >= 100
	default:
		return false
	}
}

// CanNavigateToStep: step 0 is always open; pillar k needs the institution
// data and every pillar before k complete.
func (c *Calculator) CanNavigateToStep(app *models.Application, step int) bool {
	if step < models.InstitutionStep || step > models.LastStep {
		return false
	}
	if step == models.InstitutionStep {
		return true
	}
	if !InstitutionComplete(app.InstitutionData) {
		return false
	}
	for k := 1; k < step; k++ {
		if !c.StepComplete(app, k) {
			return false
		}
	}
	return true
}

// NextIncompleteStep scans from institution setup through pillar 6 and returns
// the first incomplete step, or the last step when everything is complete.
func (c *Calculator) NextIncompleteStep(app *models.Application) int {
	for step := models.InstitutionStep; step <= models.LastStep; step++ {
		if !c.StepComplete(app, step) {
			return step
		}
	}
	return models.LastStep
}

// AllComplete reports whether every step is satisfied.
func (c *Calculator) AllComplete(app *models.Application) bool {
	for step := models.InstitutionStep; step <= models.LastStep; step++ {
		if !c.StepComplete(app, step) {
			return false
		}
	}
	return true
}

// ValidateStep lists what is missing for a step.
func (c *Calculator) ValidateStep(app *models.Application, step int) models.StepValidation {
	v := models.StepValidation{Step: step, MissingItems: []string{}}

	switch {
	case step == models.InstitutionStep:
		v.MissingItems = append(v.MissingItems, InstitutionMissing(app.InstitutionData)...)
	case step >= 1 && step <= models.PillarCount:
		pillarID := models.PillarKey(step)
		var pd *models.PillarData
		if app != nil {
			pd = app.PillarData[pillarID]
		}
		for _, id := range c.catalog.PillarIndicators(pillarID) {
			var data *models.IndicatorData
			if pd != nil {
				data = pd.Indicators[id]
			}
			st := EvaluateIndicator(c.scorer, id, data)
			switch {
			case !st.Answered:
				v.MissingItems = append(v.MissingItems, fmt.Sprintf("%s/%s: value", pillarID, id))
			case !st.Complete:
				v.MissingItems = append(v.MissingItems, fmt.Sprintf("%s/%s: evidence", pillarID, id))
			}
		}
	default:
		v.MissingItems = append(v.MissingItems, fmt.Sprintf("step %d does not exist", step))
	}

	v.IsValid = len(v.MissingItems) == 0
	return v
}

// ValidateAll collects missing items across every step.
func (c *Calculator) ValidateAll(app *models.Application) []string {
	var missing []string
	for step := models.InstitutionStep; step <= models.LastStep; step++ {
		missing = append(missing, c.ValidateStep(app, step).MissingItems...)
	}
	return missing
}
