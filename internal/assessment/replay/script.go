// Package replay reads scripted assessment edits from YAML and plays them
// against an application snapshot or a live editing session.
package replay

import (
	"context"
	"fmt"
	"os"
	"time"

	"assessment-sync/internal/assessment/progress"
	"assessment-sync/internal/models"

	"gopkg.in/yaml.v3"
)

// Script is a recorded editing session.
type Script struct {
	Institution *Institution `yaml:"institution"`
	Answers     []Answer     `yaml:"answers"`
	Submit      bool         `yaml:"submit"`
}

type Institution struct {
	Name             string `yaml:"name"`
	Industry         string `yaml:"industry"`
	OrganizationSize string `yaml:"organization_size"`
	Country          string `yaml:"country"`
	ContactEmail     string `yaml:"contact_email"`
	ContactName      string `yaml:"contact_name"`
	Website          string `yaml:"website"`
	Description      string `yaml:"description"`
}

// Answer sets one indicator. Value may be a number, a string or absent;
// booleans are read as 1 and 0.
type Answer struct {
	Pillar    string      `yaml:"pillar"`
	Indicator string      `yaml:"indicator"`
	Value     interface{} `yaml:"value"`
	Evidence  *Evidence   `yaml:"evidence"`
}

type Evidence struct {
	Text string    `yaml:"text"`
	Link *Link     `yaml:"link"`
	File *FileMeta `yaml:"file"`
}

type Link struct {
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

type FileMeta struct {
	Name string `yaml:"name"`
	Size int64  `yaml:"size"`
	Type string `yaml:"type"`
}

// Catalog is what replay needs to reject unknown indicators up front.
type Catalog interface {
	progress.Catalog
	Contains(pillarID, indicatorID string) bool
}

func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, a := range s.Answers {
		if a.Pillar == "" || a.Indicator == "" {
			return nil, fmt.Errorf("answer %d: pillar and indicator are required", i)
		}
		if _, err := a.IndicatorValue(); err != nil {
			return nil, fmt.Errorf("answer %d (%s/%s): %w", i, a.Pillar, a.Indicator, err)
		}
	}
	return &s, nil
}

// Check reports the first answer the catalog does not know.
func (s *Script) Check(cat Catalog) error {
	for _, a := range s.Answers {
		if !cat.Contains(a.Pillar, a.Indicator) {
			return fmt.Errorf("unknown indicator %s/%s", a.Pillar, a.Indicator)
		}
	}
	return nil
}

func (a Answer) IndicatorValue() (models.IndicatorValue, error) {
	switch v := a.Value.(type) {
	case nil:
		return models.NoValue(), nil
	case int:
		return models.NumberValue(float64(v)), nil
	case float64:
		return models.NumberValue(v), nil
	case bool:
		if v {
			return models.NumberValue(1), nil
		}
		return models.NumberValue(0), nil
	case string:
		return models.TextValue(v), nil
	default:
		return models.NoValue(), fmt.Errorf("unsupported value type %T", a.Value)
	}
}

func (e *Evidence) data() models.EvidenceData {
	var out models.EvidenceData
	if e == nil {
		return out
	}
	if e.Text != "" {
		out.Text = &models.TextEvidence{Description: e.Text}
	}
	if e.Link != nil {
		out.Link = &models.LinkEvidence{URL: e.Link.URL, Description: e.Link.Description}
	}
	if e.File != nil {
		out.File = &models.FileEvidence{FileName: e.File.Name, FileSize: e.File.Size, FileType: e.File.Type}
	}
	return out
}

func (i *Institution) data() models.InstitutionData {
	return models.InstitutionData{
		Name:             i.Name,
		Industry:         i.Industry,
		OrganizationSize: i.OrganizationSize,
		Country:          i.Country,
		ContactEmail:     i.ContactEmail,
		ContactName:      i.ContactName,
		Website:          i.Website,
		Description:      i.Description,
	}
}

// Score applies the script to a fresh draft and computes its scores without
// any remote calls.
func Score(s *Script, cat Catalog, now time.Time) (*models.Application, []string, error) {
	if err := s.Check(cat); err != nil {
		return nil, nil, err
	}
	app := models.NewApplication("offline", "replay", now)
	if s.Institution != nil {
		app.InstitutionData = s.Institution.data()
	}
	for _, a := range s.Answers {
		value, err := a.IndicatorValue()
		if err != nil {
			return nil, nil, err
		}
		pd := app.PillarData[a.Pillar]
		ind, ok := pd.Indicators[a.Indicator]
		if !ok {
			ind = &models.IndicatorData{ID: a.Indicator}
			pd.Indicators[a.Indicator] = ind
		}
		ind.Value = value
		ind.Evidence = ind.Evidence.Merge(a.Evidence.data())
		ind.LastModified = now
	}
	calc := progress.NewCalculator(cat)
	calc.RefreshAll(app, now)
	return app, calc.ValidateAll(app), nil
}

// Editor is the slice of a session the script drives.
type Editor interface {
	UpdateInstitution(data models.InstitutionData) error
	UpdateIndicator(pillarID, indicatorID string, value models.IndicatorValue) error
	UpdateEvidence(pillarID, indicatorID string, patch models.EvidenceData) error
	SaveAllPendingChanges(ctx context.Context) error
	Submit(ctx context.Context) error
}

// Run plays the script through ed, flushes everything and submits when the
// script asks for it.
func Run(ctx context.Context, s *Script, ed Editor) error {
	if s.Institution != nil {
		if err := ed.UpdateInstitution(s.Institution.data()); err != nil {
			return fmt.Errorf("institution: %w", err)
		}
	}
	for _, a := range s.Answers {
		value, err := a.IndicatorValue()
		if err != nil {
			return err
		}
		if err := ed.UpdateIndicator(a.Pillar, a.Indicator, value); err != nil {
			return fmt.Errorf("%s/%s: %w", a.Pillar, a.Indicator, err)
		}
		if ev := a.Evidence.data(); !ev.IsEmpty() {
			if err := ed.UpdateEvidence(a.Pillar, a.Indicator, ev); err != nil {
				return fmt.Errorf("%s/%s evidence: %w", a.Pillar, a.Indicator, err)
			}
		}
	}
	if err := ed.SaveAllPendingChanges(ctx); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if s.Submit {
		if err := ed.Submit(ctx); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
	}
	return nil
}
