package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assessment-sync/internal/assessment/scheduler"
	"assessment-sync/internal/assessment/session"
	"assessment-sync/internal/backend"
	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"
	"assessment-sync/internal/remote"
	"assessment-sync/internal/store"
	"assessment-sync/pkg/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	pillars := []catalog.Pillar{
		{ID: "pillar_1", Indicators: []catalog.Indicator{
			{ID: "1.1.1", Unit: catalog.UnitBinary, Evidence: catalog.EvidenceRule{Rule: catalog.RuleAlways}},
		}},
	}
	for i := 2; i <= catalog.PillarCount; i++ {
		pillars = append(pillars, catalog.Pillar{
			ID: fmt.Sprintf("pillar_%d", i),
			Indicators: []catalog.Indicator{
				{ID: fmt.Sprintf("%d.1.1", i), Unit: catalog.UnitScore, MaxScore: 5, Evidence: catalog.EvidenceRule{Rule: catalog.RuleBelowScore, Threshold: 40}},
			},
		})
	}
	c, err := catalog.New("test", pillars)
	require.NoError(t, err)
	return c
}

type harness struct {
	srv   *httptest.Server
	store *store.MemoryStore
	cat   *catalog.Catalog
}

func newHarness(t *testing.T, checks map[string]ReadinessCheck) *harness {
	t.Helper()
	h := &harness{store: store.NewMemoryStore(), cat: testCatalog(t)}
	svc := backend.NewService(h.store, h.cat, logger.NewTestLogger(t))
	h.srv = httptest.NewServer(NewServer(svc, logger.NewTestLogger(t), checks).Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) client(user string) *remote.Client {
	return remote.NewClient(h.srv.URL, user, 5*time.Second, nil)
}

func TestAPI_CreateLoadAndWrite(t *testing.T) {
	h := newHarness(t, nil)
	c := h.client("user-1")
	ctx := context.Background()

	_, err := c.LoadApplication(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	created, err := c.CreateApplication(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, created.Status)

	_, err = c.CreateApplication(ctx)
	assert.True(t, apperrors.IsConflict(err))

	require.NoError(t, c.WritePartialChange(ctx, created.ID, remote.PartialChange{
		ChangeType:  models.ChangeIndicator,
		PillarID:    "pillar_2",
		IndicatorID: "2.1.1",
		Value:       models.NumberValue(4),
	}))

	loaded, err := c.LoadApplication(ctx)
	require.NoError(t, err)
	ind, ok := loaded.Indicator("pillar_2", "2.1.1")
	require.True(t, ok)
	assert.True(t, ind.Value.Equal(models.NumberValue(4)))
	assert.Equal(t, 80.0, loaded.Scores.Pillars["pillar_2"].Score)

	v, err := c.ValidateStep(ctx, created.ID, 2)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
}

func TestAPI_ErrorMapping(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	owner, err := h.client("user-1").CreateApplication(ctx)
	require.NoError(t, err)

	tests := []struct {
		name      string
		call      func() error
		code      apperrors.ErrorCode
		retryable bool
	}{
		{
			name: "unknown indicator",
			call: func() error {
				return h.client("user-1").WritePartialChange(ctx, owner.ID, remote.PartialChange{
					ChangeType: models.ChangeIndicator, PillarID: "pillar_1", IndicatorID: "9.9.9",
				})
			},
			code: apperrors.ErrCodeValidation,
		},
		{
			name: "foreign application",
			call: func() error {
				_, err := h.client("user-2").SubmitApplication(ctx, owner.ID)
				return err
			},
			code: apperrors.ErrCodeNotFound,
		},
		{
			name: "incomplete submit",
			call: func() error {
				_, err := h.client("user-1").SubmitApplication(ctx, owner.ID)
				return err
			},
			code: apperrors.ErrCodeValidation,
		},
		{
			name: "step out of range",
			call: func() error {
				_, err := h.client("user-1").ValidateStep(ctx, owner.ID, 9)
				return err
			},
			code: apperrors.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestAPI_RawRequests(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{name: "missing identity", method: http.MethodGet, path: "/api/v1/application", status: http.StatusUnauthorized, code: "VALIDATION_ERROR"},
		{name: "malformed body", method: http.MethodPatch, path: "/api/v1/applications/x/changes", user: "user-1", body: "{not json", status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "non numeric step", method: http.MethodGet, path: "/api/v1/applications/x/steps/two/validation", user: "user-1", status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "missing application", method: http.MethodPost, path: "/api/v1/applications/x/submit", user: "user-1", status: http.StatusNotFound, code: "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, h.srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.user != "" {
				req.Header.Set(remote.UserHeader, tt.user)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestAPI_HealthReadyMetrics(t *testing.T) {
	h := newHarness(t, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(h.srv.URL + "/ready")
	require.NoError(t, err)
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", ready.Status)
	assert.Equal(t, map[string]string{"redis": "connection refused"}, ready.Checks)

	_, _ = h.client("user-1").LoadApplication(context.Background())
	resp, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "assessment_http_requests_total")
}

// A full editing session against the HTTP API: open, answer everything,
// attach evidence, submit.
func TestAPI_SessionEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cfg := scheduler.DefaultConfig()
	cfg.PartialDebounce = time.Minute
	cfg.AutoSaveDelay = time.Minute
	cfg.MaxRetries = 0

	sess, err := session.Open(ctx, h.client("user-9"), h.cat, session.Options{
		Config: cfg,
		Logger: logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.UpdateInstitution(models.InstitutionData{
		Name:             "Harbor Polytechnic",
		Industry:         "Education",
		OrganizationSize: "501-1000 employees",
		Country:          "PT",
		ContactEmail:     "quality@harbor.pt",
	}))
	require.NoError(t, sess.UpdateIndicator("pillar_1", "1.1.1", models.NumberValue(1)))
	require.NoError(t, sess.UpdateEvidence("pillar_1", "1.1.1", models.EvidenceData{
		Link: &models.LinkEvidence{URL: "https://harbor.pt/accreditation"},
	}))
	for i := 2; i <= models.PillarCount; i++ {
		require.NoError(t, sess.UpdateIndicator(models.PillarKey(i), fmt.Sprintf("%d.1.1", i), models.NumberValue(4)))
	}
	assert.True(t, sess.HasUnsavedChanges())

	require.NoError(t, sess.SaveAllPendingChanges(ctx))
	require.NoError(t, sess.Submit(ctx))

	assert.Equal(t, models.StatusSubmitted, sess.Status())
	assert.False(t, sess.HasUnsavedChanges())
	assert.ErrorIs(t, sess.UpdateIndicator("pillar_2", "2.1.1", models.NumberValue(1)), apperrors.ErrApplicationLocked)

	stored, err := h.store.GetByOwner(ctx, "user-9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
	assert.Equal(t, "Harbor Polytechnic", stored.InstitutionData.Name)
	ind, ok := stored.Indicator("pillar_1", "1.1.1")
	require.True(t, ok)
	require.NotNil(t, ind.Evidence.Link)
	assert.True(t, ind.Evidence.Link.Persisted)
	assert.Len(t, h.store.Responses(stored.ID), 6)
}
