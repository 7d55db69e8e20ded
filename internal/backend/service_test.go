package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"
	"assessment-sync/internal/remote"
	"assessment-sync/internal/store"
	"assessment-sync/pkg/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks
// ==========================

type MockIndexer struct{ mock.Mock }

func (m *MockIndexer) IndexApplication(ctx context.Context, app *models.Application) error {
	return m.Called(ctx, app).Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) SubmissionReceived(ctx context.Context, app *models.Application) error {
	return m.Called(ctx, app).Error(0)
}

func (m *MockNotifier) StatusChanged(ctx context.Context, app *models.Application) error {
	return m.Called(ctx, app).Error(0)
}

type MockReviewer struct{ mock.Mock }

func (m *MockReviewer) StartReview(ctx context.Context, app *models.Application) error {
	return m.Called(ctx, app).Error(0)
}

// ==========================
// Fixtures
// ==========================

var testNow = time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	indexer  *MockIndexer
	notifier *MockNotifier
	reviewer *MockReviewer
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	pillars := []catalog.Pillar{
		{ID: "pillar_1", Indicators: []catalog.Indicator{
			{ID: "1.1.1", Unit: catalog.UnitBinary, Evidence: catalog.EvidenceRule{Rule: catalog.RuleAlways}},
			{ID: "1.1.2", Unit: catalog.UnitScore, MaxScore: 4, Evidence: catalog.EvidenceRule{Rule: catalog.RuleBelowScore, Threshold: 50}},
		}},
	}
	for i := 2; i <= catalog.PillarCount; i++ {
		pillars = append(pillars, catalog.Pillar{
			ID: fmt.Sprintf("pillar_%d", i),
			Indicators: []catalog.Indicator{
				{ID: fmt.Sprintf("%d.1.1", i), Unit: catalog.UnitPercentage, Evidence: catalog.EvidenceRule{Rule: catalog.RuleNever}},
			},
		})
	}
	c, err := catalog.New("test", pillars)
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		indexer:  &MockIndexer{},
		notifier: &MockNotifier{},
		reviewer: &MockReviewer{},
	}
	ids := 0
	f.svc = NewService(f.store, testCatalog(t), logger.NewTestLogger(t),
		WithIndexer(f.indexer),
		WithNotifier(f.notifier),
		WithReviewStarter(f.reviewer),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("app-%d", ids)
		}),
	)
	return f
}

func institution() models.InstitutionData {
	return models.InstitutionData{
		Name:             "Northwind College",
		Industry:         "Education",
		OrganizationSize: "201-500 employees",
		Country:          "IE",
		ContactEmail:     "quality@northwind.ie",
	}
}

// completeSnapshot answers every indicator so that the application can be submitted.
func completeSnapshot() remote.FullApplication {
	pillars := map[string]*models.PillarData{
		"pillar_1": {Indicators: map[string]*models.IndicatorData{
			"1.1.1": {Value: models.NumberValue(1), Evidence: models.EvidenceData{
				Text: &models.TextEvidence{Description: "Board minutes 2023"},
			}},
			"1.1.2": {Value: models.NumberValue(3)},
		}},
	}
	for i := 2; i <= models.PillarCount; i++ {
		pillars[models.PillarKey(i)] = &models.PillarData{Indicators: map[string]*models.IndicatorData{
			fmt.Sprintf("%d.1.1", i): {Value: models.NumberValue(80)},
		}}
	}
	return remote.FullApplication{
		Status:          models.StatusDraft,
		InstitutionData: institution(),
		PillarData:      pillars,
		CurrentStep:     6,
	}
}

func (f *fixture) created(t *testing.T, owner string) *models.Application {
	t.Helper()
	app, err := f.svc.CreateApplication(context.Background(), owner)
	require.NoError(t, err)
	return app
}

// ==========================
// Load / create
// ==========================

func TestCreateApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.created(t, "user-1")
	assert.Equal(t, "app-1", app.ID)
	assert.Equal(t, models.StatusDraft, app.Status)
	assert.Len(t, app.PillarData, models.PillarCount)
	require.NotNil(t, app.Scores)
	assert.Zero(t, app.Scores.Overall)

	_, err := f.svc.CreateApplication(ctx, "user-1")
	assert.True(t, apperrors.IsConflict(err))

	audit := f.store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, store.ActionCreate, audit[0].Action)
	assert.Equal(t, "user-1", audit[0].Actor)
}

func TestLoadApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LoadApplication(ctx, "user-1")
	assert.True(t, apperrors.IsNotFound(err))

	created := f.created(t, "user-1")
	loaded, err := f.svc.LoadApplication(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
}

// ==========================
// Partial writes
// ==========================

func TestWritePartialChange_Indicator(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")

	got, err := f.svc.WritePartialChange(context.Background(), "user-1", app.ID, remote.PartialChange{
		ChangeType:  models.ChangeIndicator,
		PillarID:    "pillar_1",
		IndicatorID: "1.1.2",
		Value:       models.NumberValue(4),
	})
	require.NoError(t, err)

	ind, ok := got.Indicator("pillar_1", "1.1.2")
	require.True(t, ok)
	assert.True(t, ind.Value.Equal(models.NumberValue(4)))
	require.NotNil(t, got.LastSaved)
	assert.Equal(t, testNow, *got.LastSaved)
	assert.Equal(t, 100.0, got.Scores.Pillars["pillar_1"].Score)
	assert.Equal(t, 50.0, got.PillarData["pillar_1"].Completion)

	audit := f.store.Audit()
	last := audit[len(audit)-1]
	assert.Equal(t, store.ActionPartial, last.Action)
	assert.Equal(t, "1.1.2", last.Detail["indicatorId"])
}

func TestWritePartialChange_EvidenceMergesAndPersists(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")
	ctx := context.Background()

	_, err := f.svc.WritePartialChange(ctx, "user-1", app.ID, remote.PartialChange{
		ChangeType: models.ChangeEvidence, PillarID: "pillar_1", IndicatorID: "1.1.1",
		Evidence: &models.EvidenceData{Text: &models.TextEvidence{Description: "Policy v2"}},
	})
	require.NoError(t, err)

	got, err := f.svc.WritePartialChange(ctx, "user-1", app.ID, remote.PartialChange{
		ChangeType: models.ChangeEvidence, PillarID: "pillar_1", IndicatorID: "1.1.1",
		Evidence: &models.EvidenceData{Link: &models.LinkEvidence{URL: "https://northwind.ie/policy"}},
	})
	require.NoError(t, err)

	ind, ok := got.Indicator("pillar_1", "1.1.1")
	require.True(t, ok)
	require.NotNil(t, ind.Evidence.Text)
	require.NotNil(t, ind.Evidence.Link)
	assert.Equal(t, "Policy v2", ind.Evidence.Text.Description)
	assert.True(t, ind.Evidence.Text.Persisted)
	assert.True(t, ind.Evidence.Link.Persisted)
	assert.False(t, ind.Value.IsSet())
}

func TestWritePartialChange_Rejected(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")
	f.created(t, "user-2")

	submittedID := f.created(t, "user-3").ID
	_, err := f.store.TransitionStatus(context.Background(), submittedID, models.StatusDraft, models.StatusSubmitted, testNow, store.AuditEntry{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		owner  string
		appID  string
		change remote.PartialChange
		code   apperrors.ErrorCode
	}{
		{
			name:   "unknown change type",
			owner:  "user-1",
			appID:  app.ID,
			change: remote.PartialChange{ChangeType: "bulk", PillarID: "pillar_1", IndicatorID: "1.1.1"},
			code:   apperrors.ErrCodeValidation,
		},
		{
			name:   "pillar out of range",
			owner:  "user-1",
			appID:  app.ID,
			change: remote.PartialChange{ChangeType: models.ChangeIndicator, PillarID: "pillar_7", IndicatorID: "1.1.1"},
			code:   apperrors.ErrCodeValidation,
		},
		{
			name:   "indicator not in pillar",
			owner:  "user-1",
			appID:  app.ID,
			change: remote.PartialChange{ChangeType: models.ChangeIndicator, PillarID: "pillar_2", IndicatorID: "1.1.1"},
			code:   apperrors.ErrCodeValidation,
		},
		{
			name:   "evidence change without payload",
			owner:  "user-1",
			appID:  app.ID,
			change: remote.PartialChange{ChangeType: models.ChangeEvidence, PillarID: "pillar_1", IndicatorID: "1.1.1"},
			code:   apperrors.ErrCodeValidation,
		},
		{
			name:  "oversized file evidence",
			owner: "user-1",
			appID: app.ID,
			change: remote.PartialChange{ChangeType: models.ChangeEvidence, PillarID: "pillar_1", IndicatorID: "1.1.1",
				Evidence: &models.EvidenceData{File: &models.FileEvidence{FileName: "scan.pdf", FileSize: MaxEvidenceFileSize + 1}}},
			code: apperrors.ErrCodeValidation,
		},
		{
			name:   "another owner's application",
			owner:  "user-2",
			appID:  app.ID,
			change: remote.PartialChange{ChangeType: models.ChangeIndicator, PillarID: "pillar_1", IndicatorID: "1.1.1", Value: models.NumberValue(1)},
			code:   apperrors.ErrCodeNotFound,
		},
		{
			name:   "submitted application",
			owner:  "user-3",
			appID:  submittedID,
			change: remote.PartialChange{ChangeType: models.ChangeIndicator, PillarID: "pillar_1", IndicatorID: "1.1.1", Value: models.NumberValue(1)},
			code:   apperrors.ErrCodeConflict,
		},
		{
			name:   "missing application",
			owner:  "user-1",
			appID:  "nope",
			change: remote.PartialChange{ChangeType: models.ChangeIndicator, PillarID: "pillar_1", IndicatorID: "1.1.1", Value: models.NumberValue(1)},
			code:   apperrors.ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.WritePartialChange(context.Background(), tt.owner, tt.appID, tt.change)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

// ==========================
// Full writes
// ==========================

func TestWriteFullApplication(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")

	snap := completeSnapshot()
	snap.Scores = &models.Scores{Overall: 999}
	got, err := f.svc.WriteFullApplication(context.Background(), "user-1", app.ID, snap)
	require.NoError(t, err)

	assert.Equal(t, 6, got.CurrentStep)
	assert.Equal(t, "Northwind College", got.InstitutionData.Name)
	require.NotNil(t, got.Scores)
	assert.Equal(t, 100.0, got.Scores.Completion)
	assert.NotEqual(t, 999.0, got.Scores.Overall)

	ind, ok := got.Indicator("pillar_1", "1.1.1")
	require.True(t, ok)
	assert.Equal(t, "1.1.1", ind.ID)
	assert.True(t, ind.Evidence.Text.Persisted)

	responses := f.store.Responses(app.ID)
	assert.Len(t, responses, 7)
	for _, r := range responses {
		assert.True(t, r.Complete, r.IndicatorID)
	}
}

func TestWriteFullApplication_ReplacesPreviousAnswers(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")
	ctx := context.Background()

	_, err := f.svc.WriteFullApplication(ctx, "user-1", app.ID, completeSnapshot())
	require.NoError(t, err)

	got, err := f.svc.WriteFullApplication(ctx, "user-1", app.ID, remote.FullApplication{
		InstitutionData: institution(),
		PillarData:      map[string]*models.PillarData{},
		CurrentStep:     1,
	})
	require.NoError(t, err)

	_, ok := got.Indicator("pillar_1", "1.1.1")
	assert.False(t, ok)
	assert.Len(t, got.PillarData, models.PillarCount)
	assert.NotNil(t, f.store.Responses(app.ID))
	assert.Empty(t, f.store.Responses(app.ID))
}

func TestWriteFullApplication_Rejected(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")

	tests := []struct {
		name   string
		mutate func(*remote.FullApplication)
		detail string
	}{
		{
			name:   "step out of range",
			mutate: func(s *remote.FullApplication) { s.CurrentStep = 7 },
			detail: "currentStep",
		},
		{
			name: "unknown pillar key",
			mutate: func(s *remote.FullApplication) {
				s.PillarData["pillar_9"] = &models.PillarData{}
			},
			detail: "pillar_9",
		},
		{
			name: "unknown indicator",
			mutate: func(s *remote.FullApplication) {
				s.PillarData["pillar_2"].Indicators["9.9.9"] = &models.IndicatorData{Value: models.NumberValue(1)}
			},
			detail: "pillar_2/9.9.9",
		},
		{
			name:   "malformed contact email",
			mutate: func(s *remote.FullApplication) { s.InstitutionData.ContactEmail = "not an email" },
			detail: "contactEmail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := completeSnapshot()
			tt.mutate(&snap)
			_, err := f.svc.WriteFullApplication(context.Background(), "user-1", app.ID, snap)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.detail)
		})
	}
}

// ==========================
// Submit
// ==========================

func TestSubmitApplication_Incomplete(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")

	_, err := f.svc.SubmitApplication(context.Background(), "user-1", app.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "pillar_1/1.1.1: value")

	stored, err := f.store.GetByID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, stored.Status)
}

func TestSubmitApplication_RunsSideEffects(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")
	ctx := context.Background()
	_, err := f.svc.WriteFullApplication(ctx, "user-1", app.ID, completeSnapshot())
	require.NoError(t, err)

	isSubmitted := mock.MatchedBy(func(a *models.Application) bool {
		return a.ID == app.ID && a.Status == models.StatusSubmitted
	})
	f.indexer.On("IndexApplication", mock.Anything, isSubmitted).Return(nil)
	f.notifier.On("SubmissionReceived", mock.Anything, isSubmitted).Return(nil)
	f.reviewer.On("StartReview", mock.Anything, isSubmitted).Return(nil)

	got, err := f.svc.SubmitApplication(ctx, "user-1", app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	require.NotNil(t, got.SubmittedAt)
	assert.Equal(t, testNow, *got.SubmittedAt)

	f.indexer.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
	f.reviewer.AssertExpectations(t)

	_, err = f.svc.SubmitApplication(ctx, "user-1", app.ID)
	assert.True(t, apperrors.IsConflict(err))
}

func TestSubmitApplication_SideEffectFailuresDoNotFailSubmit(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")
	ctx := context.Background()
	_, err := f.svc.WriteFullApplication(ctx, "user-1", app.ID, completeSnapshot())
	require.NoError(t, err)

	f.indexer.On("IndexApplication", mock.Anything, mock.Anything).Return(errors.New("es down"))
	f.notifier.On("SubmissionReceived", mock.Anything, mock.Anything).Return(errors.New("ses throttled"))
	f.reviewer.On("StartReview", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	got, err := f.svc.SubmitApplication(ctx, "user-1", app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
}

func TestSubmitApplication_WithoutOptionalCollaborators(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, testCatalog(t), nil)
	ctx := context.Background()

	app, err := svc.CreateApplication(ctx, "user-1")
	require.NoError(t, err)
	_, err = svc.WriteFullApplication(ctx, "user-1", app.ID, completeSnapshot())
	require.NoError(t, err)

	got, err := svc.SubmitApplication(ctx, "user-1", app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
}

// ==========================
// Validate step / review
// ==========================

func TestValidateStep(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")
	ctx := context.Background()

	v, err := f.svc.ValidateStep(ctx, "user-1", app.ID, 0)
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.NotEmpty(t, v.MissingItems)

	_, err = f.svc.WriteFullApplication(ctx, "user-1", app.ID, completeSnapshot())
	require.NoError(t, err)

	for step := 0; step <= models.LastStep; step++ {
		v, err := f.svc.ValidateStep(ctx, "user-1", app.ID, step)
		require.NoError(t, err)
		assert.True(t, v.IsValid, "step %d: %v", step, v.MissingItems)
	}

	_, err = f.svc.ValidateStep(ctx, "user-1", app.ID, 7)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.ValidateStep(ctx, "someone-else", app.ID, 1)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTransitionReview(t *testing.T) {
	f := newFixture(t)
	app := f.created(t, "user-1")
	ctx := context.Background()

	_, err := f.svc.TransitionReview(ctx, app.ID, models.StatusUnderReview, "reviewer-7")
	assert.True(t, apperrors.IsValidation(err), "draft cannot enter review")

	_, err = f.store.TransitionStatus(ctx, app.ID, models.StatusDraft, models.StatusSubmitted, testNow, store.AuditEntry{})
	require.NoError(t, err)

	f.indexer.On("IndexApplication", mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("StatusChanged", mock.Anything, mock.MatchedBy(func(a *models.Application) bool {
		return a.Status == models.StatusUnderReview
	})).Return(nil).Once()

	got, err := f.svc.TransitionReview(ctx, app.ID, models.StatusUnderReview, "reviewer-7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, got.Status)

	again, err := f.svc.TransitionReview(ctx, app.ID, models.StatusUnderReview, "reviewer-7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, again.Status)

	_, err = f.svc.TransitionReview(ctx, app.ID, models.StatusDraft, "reviewer-7")
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.TransitionReview(ctx, app.ID, "archived", "reviewer-7")
	assert.True(t, apperrors.IsValidation(err))

	f.notifier.AssertExpectations(t)
	audit := f.store.Audit()
	last := audit[len(audit)-1]
	assert.Equal(t, store.ActionTransition, last.Action)
	assert.Equal(t, "reviewer-7", last.Actor)
}
