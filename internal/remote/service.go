// Package remote defines the persistence contract the editing session talks
// to, and an HTTP implementation of it.
package remote

import (
	"context"

	"assessment-sync/internal/models"
)

// Service is the remote persistence endpoint. Errors follow the
// common/errors taxonomy: NETWORK_TIMEOUT and SERVICE_ERROR are retryable,
// VALIDATION_ERROR, CONFLICT and NOT_FOUND are not.
type Service interface {
	// LoadApplication returns the caller's application or a NOT_FOUND error.
	LoadApplication(ctx context.Context) (*models.Application, error)
	// CreateApplication fails with CONFLICT if one already exists.
	CreateApplication(ctx context.Context) (*models.Application, error)
	WritePartialChange(ctx context.Context, applicationID string, change PartialChange) error
	WriteFullApplication(ctx context.Context, applicationID string, full FullApplication) error
	// SubmitApplication moves draft to submitted and fails if already submitted.
	SubmitApplication(ctx context.Context, applicationID string) (*models.Application, error)
	ValidateStep(ctx context.Context, applicationID string, step int) (*models.StepValidation, error)
}

// PartialChange carries one indicator value or one indicator's evidence.
type PartialChange struct {
	ChangeType  models.ChangeType     `json:"changeType"`
	PillarID    string                `json:"pillarId"`
	IndicatorID string                `json:"indicatorId"`
	Value       models.IndicatorValue `json:"value"`
	Evidence    *models.EvidenceData  `json:"evidence,omitempty"`
}

// FullApplication is the consolidated snapshot written by a full save.
type FullApplication struct {
	Status             models.Status                 `json:"status"`
	InstitutionData    models.InstitutionData        `json:"institutionData"`
	PillarData         map[string]*models.PillarData `json:"pillarData"`
	IndicatorResponses []models.IndicatorResponse    `json:"indicatorResponses"`
	CurrentStep        int                           `json:"currentStep"`
	Scores             *models.Scores                `json:"scores,omitempty"`
}
