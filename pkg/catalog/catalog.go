package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const PillarCount = 6

var (
	ErrInvalidCatalog   = errors.New("INVALID_CATALOG")
	ErrUnknownIndicator = errors.New("UNKNOWN_INDICATOR")
)

//go:embed default_catalog.json
var defaultCatalog []byte

// LoadCatalog reads and validates a catalog file. There is no fallback: a
// missing or malformed catalog is an error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the catalog bundled with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads path when it is set and falls back to the bundled catalog otherwise.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return LoadCatalog(path)
}

func Parse(data []byte) (*Catalog, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.Join(errs, "; "))
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return &c, nil
}

// New validates and indexes an in-memory catalog.
func New(version string, pillars []Pillar) (*Catalog, error) {
	c := &Catalog{Version: version, Pillars: pillars}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) build() error {
	if len(c.Pillars) != PillarCount {
		return fmt.Errorf("%w: expected %d pillars, got %d", ErrInvalidCatalog, PillarCount, len(c.Pillars))
	}

	c.index = make(map[string]indexEntry)
	c.order = make(map[string][]string, PillarCount)

	for _, p := range c.Pillars {
		if _, dup := c.order[p.ID]; dup {
			return fmt.Errorf("%w: duplicate pillar %s", ErrInvalidCatalog, p.ID)
		}
		if !validPillarID(p.ID) {
			return fmt.Errorf("%w: invalid pillar id %q", ErrInvalidCatalog, p.ID)
		}
		if len(p.Indicators) == 0 {
			return fmt.Errorf("%w: pillar %s has no indicators", ErrInvalidCatalog, p.ID)
		}

		ids := make([]string, 0, len(p.Indicators))
		for _, ind := range p.Indicators {
			if err := validateIndicator(ind); err != nil {
				return fmt.Errorf("%w: pillar %s: %v", ErrInvalidCatalog, p.ID, err)
			}
			if _, dup := c.index[ind.ID]; dup {
				return fmt.Errorf("%w: duplicate indicator %s", ErrInvalidCatalog, ind.ID)
			}
			c.index[ind.ID] = indexEntry{pillarID: p.ID, indicator: ind}
			ids = append(ids, ind.ID)
		}
		c.order[p.ID] = ids
	}
	return nil
}

func validPillarID(id string) bool {
	for i := 1; i <= PillarCount; i++ {
		if id == fmt.Sprintf("pillar_%d", i) {
			return true
		}
	}
	return false
}

func validateIndicator(ind Indicator) error {
	if strings.TrimSpace(ind.ID) == "" {
		return errors.New("indicator id is empty")
	}
	switch ind.Unit {
	case UnitScore, UnitNumber:
		if ind.MaxScore <= 0 {
			return fmt.Errorf("indicator %s: maxScore must be positive for unit %s", ind.ID, ind.Unit)
		}
	case UnitPercentage, UnitBinary:
	default:
		return fmt.Errorf("indicator %s: unknown unit %q", ind.ID, ind.Unit)
	}
	switch ind.Evidence.Rule {
	case RuleNever, RuleAlways:
	case RuleBelowScore:
		if ind.Evidence.Threshold <= 0 || ind.Evidence.Threshold > 100 {
			return fmt.Errorf("indicator %s: below_score threshold must be in (0,100]", ind.ID)
		}
	default:
		return fmt.Errorf("indicator %s: unknown evidence rule %q", ind.ID, ind.Evidence.Rule)
	}
	return nil
}

func (c *Catalog) Indicator(id string) (Indicator, bool) {
	e, ok := c.index[id]
	return e.indicator, ok
}

func (c *Catalog) MeasurementUnit(id string) (Unit, bool) {
	e, ok := c.index[id]
	return e.indicator.Unit, ok
}

// MaxScore returns N for score units and the benchmark ceiling for number units.
// Percentage and binary indicators report 100 and 1.
func (c *Catalog) MaxScore(id string) (float64, bool) {
	e, ok := c.index[id]
	if !ok {
		return 0, false
	}
	switch e.indicator.Unit {
	case UnitPercentage:
		return 100, true
	case UnitBinary:
		return 1, true
	default:
		return e.indicator.MaxScore, true
	}
}

// EvidenceRequired applies the indicator's rule to an already normalized score.
func (c *Catalog) EvidenceRequired(id string, normalizedScore float64) bool {
	e, ok := c.index[id]
	if !ok {
		return false
	}
	switch e.indicator.Evidence.Rule {
	case RuleAlways:
		return true
	case RuleBelowScore:
		return normalizedScore < e.indicator.Evidence.Threshold
	default:
		return false
	}
}

// PillarIndicators returns the canonical indicator order for a pillar.
func (c *Catalog) PillarIndicators(pillarID string) []string {
	ids := c.order[pillarID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (c *Catalog) PillarOf(indicatorID string) (string, bool) {
	e, ok := c.index[indicatorID]
	return e.pillarID, ok
}

func (c *Catalog) Pillar(pillarID string) (Pillar, bool) {
	for _, p := range c.Pillars {
		if p.ID == pillarID {
			return p, true
		}
	}
	return Pillar{}, false
}

func (c *Catalog) PillarIDs() []string {
	out := make([]string, 0, len(c.Pillars))
	for i := 1; i <= PillarCount; i++ {
		out = append(out, fmt.Sprintf("pillar_%d", i))
	}
	return out
}

// Len is the number of indicators across all pillars.
func (c *Catalog) Len() int {
	return len(c.index)
}

// Contains reports whether indicatorID belongs to pillarID.
func (c *Catalog) Contains(pillarID, indicatorID string) bool {
	e, ok := c.index[indicatorID]
	return ok && e.pillarID == pillarID
}
