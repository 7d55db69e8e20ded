package models

import (
	"fmt"
	"time"
)

// Step 0 is institution setup, steps 1..PillarCount index the pillars.
const (
	InstitutionStep = 0
	PillarCount     = 6
	LastStep        = PillarCount
)

type Application struct {
	ID              string                 `json:"id"`
	OwnerID         string                 `json:"ownerId"`
	InstitutionData InstitutionData        `json:"institutionData"`
	PillarData      map[string]*PillarData `json:"pillarData"`
	Scores          *Scores                `json:"scores"`
	Status          Status                 `json:"status"`
	SubmittedAt     *time.Time             `json:"submittedAt"`
	LastSaved       *time.Time             `json:"lastSaved"`
	LastModified    time.Time              `json:"lastModified"`
	CurrentStep     int                    `json:"currentStep"`
	CreatedAt       time.Time              `json:"createdAt"`
}

type InstitutionData struct {
	Name             string `json:"name"`
	Industry         string `json:"industry"`
	OrganizationSize string `json:"organizationSize"`
	Country          string `json:"country"`
	ContactEmail     string `json:"contactEmail"`
	ContactName      string `json:"contactName,omitempty"`
	Website          string `json:"website,omitempty"`
	Description      string `json:"description,omitempty"`
}

type PillarData struct {
	Indicators   map[string]*IndicatorData `json:"indicators"`
	LastModified time.Time                 `json:"lastModified"`
	Completion   float64                   `json:"completion"`
	Score        float64                   `json:"score"`
}

type IndicatorData struct {
	ID           string         `json:"id"`
	Value        IndicatorValue `json:"value"`
	Evidence     EvidenceData   `json:"evidence"`
	LastModified time.Time      `json:"lastModified"`
}

type Scores struct {
	Overall    float64                `json:"overall"`
	Completion float64                `json:"completion"`
	Pillars    map[string]PillarScore `json:"pillars"`
	ComputedAt time.Time              `json:"computedAt"`
}

type PillarScore struct {
	Completion float64 `json:"completion"`
	Score      float64 `json:"score"`
	Answered   int     `json:"answered"`
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
}

// IndicatorResponse is the flattened per-indicator row sent with a full save.
type IndicatorResponse struct {
	PillarID         string         `json:"pillarId"`
	IndicatorID      string         `json:"indicatorId"`
	Value            IndicatorValue `json:"value"`
	NormalizedScore  float64        `json:"normalizedScore"`
	EvidenceRequired bool           `json:"evidenceRequired"`
	EvidenceProvided bool           `json:"evidenceProvided"`
	Complete         bool           `json:"complete"`
}

type StepValidation struct {
	Step         int      `json:"step"`
	IsValid      bool     `json:"isValid"`
	MissingItems []string `json:"missingItems"`
}

// PillarKey returns the pillar key for a 1-based step.
func PillarKey(step int) string {
	return fmt.Sprintf("pillar_%d", step)
}

// PillarStep is the inverse of PillarKey. It returns false for keys outside pillar_1..pillar_6.
func PillarStep(key string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(key, "pillar_%d", &n); err != nil {
		return 0, false
	}
	if n < 1 || n > PillarCount || PillarKey(n) != key {
		return 0, false
	}
	return n, true
}

// NewApplication returns a draft with all six pillars present and empty.
func NewApplication(id, ownerID string, now time.Time) *Application {
	app := &Application{
		ID:           id,
		OwnerID:      ownerID,
		PillarData:   make(map[string]*PillarData, PillarCount),
		Status:       StatusDraft,
		LastModified: now,
		CreatedAt:    now,
	}
	app.EnsurePillars()
	return app
}

// EnsurePillars fills in any missing pillar entries and nil indicator maps.
func (a *Application) EnsurePillars() {
	if a.PillarData == nil {
		a.PillarData = make(map[string]*PillarData, PillarCount)
	}
	for step := 1; step <= PillarCount; step++ {
		key := PillarKey(step)
		pd, ok := a.PillarData[key]
		if !ok || pd == nil {
			pd = &PillarData{}
			a.PillarData[key] = pd
		}
		if pd.Indicators == nil {
			pd.Indicators = make(map[string]*IndicatorData)
		}
	}
}

// Indicator returns the indicator data if it exists.
func (a *Application) Indicator(pillarID, indicatorID string) (*IndicatorData, bool) {
	pd, ok := a.PillarData[pillarID]
	if !ok || pd == nil {
		return nil, false
	}
	ind, ok := pd.Indicators[indicatorID]
	return ind, ok && ind != nil
}

func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	out := *a
	out.SubmittedAt = cloneTime(a.SubmittedAt)
	out.LastSaved = cloneTime(a.LastSaved)
	if a.Scores != nil {
		s := a.Scores.Clone()
		out.Scores = &s
	}
	out.PillarData = make(map[string]*PillarData, len(a.PillarData))
	for k, pd := range a.PillarData {
		out.PillarData[k] = pd.Clone()
	}
	return &out
}

func (p *PillarData) Clone() *PillarData {
	if p == nil {
		return nil
	}
	out := *p
	out.Indicators = make(map[string]*IndicatorData, len(p.Indicators))
	for k, ind := range p.Indicators {
		out.Indicators[k] = ind.Clone()
	}
	return &out
}

func (i *IndicatorData) Clone() *IndicatorData {
	if i == nil {
		return nil
	}
	out := *i
	out.Evidence = i.Evidence.Clone()
	return &out
}

func (s Scores) Clone() Scores {
	out := s
	out.Pillars = make(map[string]PillarScore, len(s.Pillars))
	for k, v := range s.Pillars {
		out.Pillars[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
