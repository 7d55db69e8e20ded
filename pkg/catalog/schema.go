package catalog

// Unit is the measurement-unit family of an indicator.
type Unit string

const (
	UnitScore      Unit = "score"
	UnitPercentage Unit = "percentage"
	UnitBinary     Unit = "binary"
	UnitNumber     Unit = "number"
)

type RuleKind string

const (
	RuleNever      RuleKind = "never"
	RuleAlways     RuleKind = "always"
	RuleBelowScore RuleKind = "below_score"
)

// EvidenceRule decides when an answer must be substantiated. For below_score
// the threshold is compared against the normalized 0-100 score.
type EvidenceRule struct {
	Rule      RuleKind `json:"rule"`
	Threshold float64  `json:"threshold,omitempty"`
}

type Catalog struct {
	Version     string   `json:"version"`
	LastUpdated string   `json:"lastUpdated"`
	Pillars     []Pillar `json:"pillars"`

	index map[string]indexEntry
	order map[string][]string
}

type Pillar struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Indicators []Indicator `json:"indicators"`
}

type Indicator struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Unit     Unit         `json:"unit"`
	MaxScore float64      `json:"maxScore,omitempty"`
	Evidence EvidenceRule `json:"evidence"`
}

type indexEntry struct {
	pillarID  string
	indicator Indicator
}

// documentSchema is checked before the structural rules in build.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "pillars"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "lastUpdated": {"type": "string"},
    "pillars": {
      "type": "array",
      "minItems": 6,
      "maxItems": 6,
      "items": {
        "type": "object",
        "required": ["id", "indicators"],
        "properties": {
          "id": {"type": "string", "pattern": "^pillar_[1-6]$"},
          "title": {"type": "string"},
          "indicators": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["id", "unit", "evidence"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "title": {"type": "string"},
                "unit": {"enum": ["score", "percentage", "binary", "number"]},
                "maxScore": {"type": "number", "minimum": 0},
                "evidence": {
                  "type": "object",
                  "required": ["rule"],
                  "properties": {
                    "rule": {"enum": ["never", "always", "below_score"]},
                    "threshold": {"type": "number", "minimum": 0, "maximum": 100}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`
