package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEmail struct{ mock.Mock }

func (m *MockEmail) SendText(ctx context.Context, from, to, subject, body string) (string, error) {
	args := m.Called(ctx, from, to, subject, body)
	return args.String(0), args.Error(1)
}

type MockEvents struct{ mock.Mock }

func (m *MockEvents) PublishEvent(ctx context.Context, topicARN, subject, message string, attrs map[string]string) (string, error) {
	args := m.Called(ctx, topicARN, subject, message, attrs)
	return args.String(0), args.Error(1)
}

const topic = "arn:aws:sns:eu-west-1:123456789012:assessment-reviews"

func submitted() *models.Application {
	at := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	app := models.NewApplication("app-1", "user-1", at)
	app.Status = models.StatusSubmitted
	app.SubmittedAt = &at
	app.InstitutionData = models.InstitutionData{Name: "Acme Labs", ContactEmail: "ops@acme.io", ContactName: "Dana"}
	app.Scores = &models.Scores{Overall: 71.5}
	return app
}

func TestSubmissionReceived_BothChannels(t *testing.T) {
	email := &MockEmail{}
	events := &MockEvents{}
	email.On("SendText", mock.Anything, "noreply@example.org", "ops@acme.io", "Assessment received",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "Dear Dana") &&
				strings.Contains(body, "Acme Labs (reference app-1)") &&
				strings.Contains(body, "overall score: 71.5")
		})).Return("ses-1", nil)
	events.On("PublishEvent", mock.Anything, topic, "Assessment submitted", mock.MatchedBy(func(msg string) bool {
		var ev SubmissionEvent
		if err := json.Unmarshal([]byte(msg), &ev); err != nil {
			return false
		}
		return ev.Event == "assessment.submitted" && ev.ApplicationID == "app-1" &&
			ev.OverallScore == 71.5 && ev.SubmittedAt == "2024-03-01T11:00:00Z"
	}), map[string]string{"event": "assessment.submitted", "applicationId": "app-1"}).Return("sns-1", nil)

	n := NewNotifier(Config{FromEmail: "noreply@example.org", ReviewTopicARN: topic}, email, events, logger.NewTestLogger(t))
	require.NoError(t, n.SubmissionReceived(context.Background(), submitted()))

	email.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestSubmissionReceived_EmailFailureStillPublishes(t *testing.T) {
	email := &MockEmail{}
	events := &MockEvents{}
	email.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("MessageRejected"))
	events.On("PublishEvent", mock.Anything, topic, mock.Anything, mock.Anything, mock.Anything).Return("sns-1", nil)

	n := NewNotifier(Config{ReviewTopicARN: topic}, email, events, logger.NewTestLogger(t))
	err := n.SubmissionReceived(context.Background(), submitted())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "email: MessageRejected")
	events.AssertExpectations(t)
}

func TestSubmissionReceived_SkipsInvalidContactAndMissingTopic(t *testing.T) {
	email := &MockEmail{}
	events := &MockEvents{}
	app := submitted()
	app.InstitutionData.ContactEmail = "not-an-address"

	n := NewNotifier(Config{}, email, events, logger.NewTestLogger(t))
	require.NoError(t, n.SubmissionReceived(context.Background(), app))

	email.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	events.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmissionReceived_NilChannels(t *testing.T) {
	n := NewNotifier(Config{ReviewTopicARN: topic}, nil, nil, logger.NewNoOpLogger())
	assert.NoError(t, n.SubmissionReceived(context.Background(), submitted()))
}

func TestStatusChanged(t *testing.T) {
	email := &MockEmail{}
	email.On("SendText", mock.Anything, "noreply@example.org", "ops@acme.io", "Assessment app-1: under review", mock.Anything).
		Return("ses-2", nil)

	app := submitted()
	app.Status = models.StatusUnderReview

	n := NewNotifier(Config{FromEmail: "noreply@example.org"}, email, nil, logger.NewNoOpLogger())
	require.NoError(t, n.StatusChanged(context.Background(), app))
	email.AssertExpectations(t)
}
