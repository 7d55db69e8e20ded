package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	commonhttp "assessment-sync/internal/common/http"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"
)

// UserHeader carries the editor identity. Authentication happens upstream.
const UserHeader = "X-User-ID"

// Client implements Service over the assessment API.
type Client struct {
	http   *commonhttp.Client
	logger logger.Logger
}

var _ Service = (*Client)(nil)

func NewClient(baseURL, userID string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		http: commonhttp.NewClient(timeout).
			WithBaseURL(baseURL).
			WithHeader(UserHeader, userID),
		logger: log.WithFields(map[string]interface{}{"component": "remote"}),
	}
}

// WithHTTPClient replaces the underlying transport client.
func (c *Client) WithHTTPClient(hc *commonhttp.Client) *Client {
	return &Client{http: hc, logger: c.logger}
}

func (c *Client) LoadApplication(ctx context.Context) (*models.Application, error) {
	var app models.Application
	if err := c.http.DoJSON(ctx, "loadApplication", http.MethodGet, "/api/v1/application", nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (c *Client) CreateApplication(ctx context.Context) (*models.Application, error) {
	var app models.Application
	if err := c.http.DoJSON(ctx, "createApplication", http.MethodPost, "/api/v1/application", nil, &app); err != nil {
		return nil, err
	}
	c.logger.Info("Application created", map[string]interface{}{"applicationId": app.ID})
	return &app, nil
}

func (c *Client) WritePartialChange(ctx context.Context, applicationID string, change PartialChange) error {
	path := fmt.Sprintf("/api/v1/applications/%s/changes", applicationID)
	return c.http.DoJSON(ctx, "writePartialChange", http.MethodPatch, path, change, nil)
}

func (c *Client) WriteFullApplication(ctx context.Context, applicationID string, full FullApplication) error {
	path := fmt.Sprintf("/api/v1/applications/%s", applicationID)
	return c.http.DoJSON(ctx, "writeFullApplication", http.MethodPut, path, full, nil)
}

func (c *Client) SubmitApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	var app models.Application
	path := fmt.Sprintf("/api/v1/applications/%s/submit", applicationID)
	if err := c.http.DoJSON(ctx, "submitApplication", http.MethodPost, path, nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (c *Client) ValidateStep(ctx context.Context, applicationID string, step int) (*models.StepValidation, error) {
	var v models.StepValidation
	path := fmt.Sprintf("/api/v1/applications/%s/steps/%d/validation", applicationID, step)
	if err := c.http.DoJSON(ctx, "validateStep", http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
