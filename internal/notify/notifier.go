// Package notify tells applicants and reviewers about submissions.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/validation"
	"assessment-sync/internal/models"
)

// EmailSender sends a plain-text email. *aws.SESClient implements it.
type EmailSender interface {
	SendText(ctx context.Context, from, to, subject, body string) (string, error)
}

// EventPublisher publishes to a topic. *aws.SNSClient implements it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topicARN, subject, message string, attrs map[string]string) (string, error)
}

type Config struct {
	FromEmail      string
	ReviewTopicARN string
}

// Notifier sends the applicant confirmation over SES and the reviewer event
// over SNS. Either channel may be nil.
type Notifier struct {
	cfg    Config
	email  EmailSender
	events EventPublisher
	logger logger.Logger
}

func NewNotifier(cfg Config, email EmailSender, events EventPublisher, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		email:  email,
		events: events,
		logger: log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// SubmissionEvent is the SNS payload for reviewers.
type SubmissionEvent struct {
	Event           string  `json:"event"`
	ApplicationID   string  `json:"applicationId"`
	InstitutionName string  `json:"institutionName"`
	Status          string  `json:"status"`
	OverallScore    float64 `json:"overallScore"`
	SubmittedAt     string  `json:"submittedAt,omitempty"`
}

// SubmissionReceived notifies both channels. Both are attempted; the
// returned error joins whichever failed.
func (n *Notifier) SubmissionReceived(ctx context.Context, app *models.Application) error {
	var errs []error
	if n.email != nil {
		if err := n.sendConfirmation(ctx, app); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if n.events != nil && n.cfg.ReviewTopicARN != "" {
		if err := n.publishSubmission(ctx, app); err != nil {
			errs = append(errs, fmt.Errorf("event: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StatusChanged tells the applicant about a review decision.
func (n *Notifier) StatusChanged(ctx context.Context, app *models.Application) error {
	if n.email == nil {
		return nil
	}
	to := app.InstitutionData.ContactEmail
	if !validation.ValidateEmail(to) {
		n.logger.Warn("No valid contact email, status mail skipped", map[string]interface{}{"applicationId": app.ID})
		return nil
	}
	subject := fmt.Sprintf("Assessment %s: %s", app.ID, statusLabel(app.Status))
	body := fmt.Sprintf("Dear %s,\n\nThe assessment for %s is now %s.\n",
		contactName(app.InstitutionData), app.InstitutionData.Name, statusLabel(app.Status))
	_, err := n.email.SendText(ctx, n.cfg.FromEmail, to, subject, body)
	return err
}

func (n *Notifier) sendConfirmation(ctx context.Context, app *models.Application) error {
	to := app.InstitutionData.ContactEmail
	if !validation.ValidateEmail(to) {
		n.logger.Warn("No valid contact email, confirmation skipped", map[string]interface{}{"applicationId": app.ID})
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", contactName(app.InstitutionData))
	fmt.Fprintf(&b, "We received the assessment for %s (reference %s).\n", app.InstitutionData.Name, app.ID)
	if app.Scores != nil {
		fmt.Fprintf(&b, "Self-assessed overall score: %.1f\n", app.Scores.Overall)
	}
	b.WriteString("A reviewer will be in touch once the review has started.\n")

	id, err := n.email.SendText(ctx, n.cfg.FromEmail, to, "Assessment received", b.String())
	if err != nil {
		return err
	}
	n.logger.Info("Submission confirmation sent", map[string]interface{}{"applicationId": app.ID, "messageId": id})
	return nil
}

func (n *Notifier) publishSubmission(ctx context.Context, app *models.Application) error {
	ev := SubmissionEvent{
		Event:           "assessment.submitted",
		ApplicationID:   app.ID,
		InstitutionName: app.InstitutionData.Name,
		Status:          string(app.Status),
	}
	if app.Scores != nil {
		ev.OverallScore = app.Scores.Overall
	}
	if app.SubmittedAt != nil {
		ev.SubmittedAt = app.SubmittedAt.UTC().Format(time.RFC3339)
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	id, err := n.events.PublishEvent(ctx, n.cfg.ReviewTopicARN, "Assessment submitted", string(msg),
		map[string]string{"event": ev.Event, "applicationId": app.ID})
	if err != nil {
		return err
	}
	n.logger.Info("Submission event published", map[string]interface{}{"applicationId": app.ID, "messageId": id})
	return nil
}

func contactName(d models.InstitutionData) string {
	if d.ContactName != "" {
		return d.ContactName
	}
	return d.Name
}

func statusLabel(s models.Status) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
