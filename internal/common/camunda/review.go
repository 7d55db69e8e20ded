package camunda

import (
	"context"

	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"
)

// ProcessStarter starts a BPMN process instance. *Client implements it.
type ProcessStarter interface {
	StartProcess(ctx context.Context, processID string, vars map[string]interface{}) (int64, error)
}

// ReviewStarter kicks off the review process for a submitted application.
type ReviewStarter struct {
	starter   ProcessStarter
	processID string
	logger    logger.Logger
}

func NewReviewStarter(starter ProcessStarter, processID string, log logger.Logger) *ReviewStarter {
	return &ReviewStarter{
		starter:   starter,
		processID: processID,
		logger:    log.WithFields(map[string]interface{}{"processId": processID}),
	}
}

func (r *ReviewStarter) StartReview(ctx context.Context, app *models.Application) error {
	vars := map[string]interface{}{
		"applicationId":   app.ID,
		"ownerId":         app.OwnerID,
		"institutionName": app.InstitutionData.Name,
		"status":          string(app.Status),
	}
	if app.Scores != nil {
		vars["overallScore"] = app.Scores.Overall
		vars["completion"] = app.Scores.Completion
	}

	key, err := r.starter.StartProcess(ctx, r.processID, vars)
	if err != nil {
		return err
	}
	r.logger.Info("review process started", map[string]interface{}{
		"applicationId":      app.ID,
		"processInstanceKey": key,
	})
	return nil
}
