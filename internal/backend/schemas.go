package backend

import (
	"fmt"
	"sort"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/validation"
	"assessment-sync/internal/models"
	"assessment-sync/internal/remote"
)

// MaxEvidenceFileSize is the largest file reference accepted as evidence.
const MaxEvidenceFileSize = 10 << 20

const evidenceSchema = `{
  "type": ["object", "null"],
  "properties": {
    "text": {
      "type": ["object", "null"],
      "properties": {"description": {"type": "string", "maxLength": 5000}}
    },
    "link": {
      "type": ["object", "null"],
      "properties": {
        "url": {"type": "string", "pattern": "^(|https?://\\S+)$"},
        "description": {"type": "string", "maxLength": 1000}
      }
    },
    "file": {
      "type": ["object", "null"],
      "required": ["fileName"],
      "properties": {
        "fileName": {"type": "string", "maxLength": 255},
        "fileSize": {"type": "integer", "minimum": 0, "maximum": 10485760}
      }
    }
  }
}`

var partialChangeSchema = validation.MustCompile("partial-change", `{
  "type": "object",
  "required": ["changeType", "pillarId", "indicatorId"],
  "properties": {
    "changeType": {"enum": ["indicator", "evidence"]},
    "pillarId": {"type": "string", "pattern": "^pillar_[1-6]$"},
    "indicatorId": {"type": "string", "minLength": 1, "maxLength": 32},
    "value": {
      "anyOf": [
        {"type": "null"},
        {"type": "number"},
        {"type": "string", "maxLength": 2000}
      ]
    },
    "evidence": `+evidenceSchema+`
  }
}`)

var fullApplicationSchema = validation.MustCompile("full-application", `{
  "type": "object",
  "required": ["institutionData", "pillarData", "currentStep"],
  "properties": {
    "status": {"enum": ["", "draft", "submitted", "under_review", "certified"]},
    "currentStep": {"type": "integer", "minimum": 0, "maximum": 6},
    "institutionData": {
      "type": "object",
      "properties": {
        "name": {"type": "string", "maxLength": 200},
        "industry": {"type": "string", "maxLength": 100},
        "organizationSize": {"type": "string", "maxLength": 50},
        "country": {"type": "string", "maxLength": 100},
        "contactEmail": {"type": "string", "pattern": "^(|[^@\\s]+@[^@\\s]+\\.[^@\\s]+)$"},
        "website": {"type": "string", "maxLength": 500},
        "description": {"type": "string", "maxLength": 5000}
      }
    },
    "pillarData": {
      "type": ["object", "null"],
      "propertyNames": {"pattern": "^pillar_[1-6]$"},
      "additionalProperties": {
        "type": ["object", "null"],
        "properties": {
          "indicators": {
            "type": ["object", "null"],
            "additionalProperties": {
              "type": ["object", "null"],
              "properties": {"evidence": `+evidenceSchema+`}
            }
          }
        }
      }
    }
  }
}`)

func (s *Service) validatePartial(change remote.PartialChange) error {
	if err := checkSchema(partialChangeSchema, change); err != nil {
		return err
	}
	if !s.catalog.Contains(change.PillarID, change.IndicatorID) {
		return apperrors.NewValidationError("unknown indicator",
			fmt.Sprintf("%s/%s", change.PillarID, change.IndicatorID))
	}
	if change.ChangeType == models.ChangeEvidence && change.Evidence == nil {
		return apperrors.NewValidationError("evidence change without evidence payload")
	}
	return nil
}

func (s *Service) validateFull(full remote.FullApplication) error {
	if err := checkSchema(fullApplicationSchema, full); err != nil {
		return err
	}
	var unknown []string
	for pid, pd := range full.PillarData {
		if pd == nil {
			continue
		}
		for id := range pd.Indicators {
			if !s.catalog.Contains(pid, id) {
				unknown = append(unknown, fmt.Sprintf("%s/%s", pid, id))
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperrors.NewValidationError("unknown indicator", unknown...)
	}
	return nil
}

func checkSchema(schema *validation.Schema, doc interface{}) error {
	res, err := schema.Validate(doc)
	if err != nil {
		return apperrors.NewValidationError("malformed payload", err.Error())
	}
	if !res.Valid {
		return apperrors.NewValidationError(schema.Name()+" rejected", res.GetErrorMessages()...)
	}
	return nil
}
