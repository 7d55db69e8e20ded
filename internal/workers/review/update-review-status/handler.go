// internal/workers/review/update-review-status/handler.go
package updatereviewstatus

import (
	"context"
	"encoding/json"
	"time"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/metrics"
	"assessment-sync/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "update-review-status"
)

// Transitioner moves a submitted application through review.
type Transitioner interface {
	TransitionReview(ctx context.Context, appID string, to models.Status, reviewer string) (*models.Application, error)
}

type Handler struct {
	config       *Config
	transitioner Transitioner
	errors       *apperrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(config *Config, transitioner Transitioner, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		transitioner: transitioner,
		errors:       apperrors.NewErrorHandler(log),
		logger:       log,
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewValidationError("parse input", err.Error()))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}
	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.ApplicationID == "" {
		return nil, apperrors.NewValidationError("applicationId is required")
	}
	to, err := targetStatus(input.Status)
	if err != nil {
		return nil, err
	}
	reviewer := input.Reviewer
	if reviewer == "" {
		reviewer = TaskType
	}

	app, err := h.transitioner.TransitionReview(ctx, input.ApplicationID, to, reviewer)
	if err != nil {
		return nil, err
	}

	h.logger.Info("review status updated", map[string]interface{}{
		"applicationId": app.ID,
		"status":        string(app.Status),
		"reviewer":      reviewer,
	})

	out := &Output{
		ApplicationID: app.ID,
		Status:        string(app.Status),
		UpdatedAt:     h.now().UTC().Format(time.RFC3339),
	}
	if app.Scores != nil {
		out.OverallScore = app.Scores.Overall
	}
	return out, nil
}

// targetStatus accepts only the statuses a review process may set.
func targetStatus(status string) (models.Status, error) {
	switch s := models.Status(status); s {
	case models.StatusUnderReview, models.StatusCertified:
		return s, nil
	default:
		return "", apperrors.NewValidationError("status cannot be set by review", status)
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey": job.Key,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
