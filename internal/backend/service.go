// Package backend implements the persistence contract on the server: it
// validates incoming writes, recomputes progress with the same calculator the
// client uses, and runs the submission side effects.
package backend

import (
	"context"
	"fmt"
	"time"

	"assessment-sync/internal/assessment/progress"
	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/metrics"
	"assessment-sync/internal/models"
	"assessment-sync/internal/remote"
	"assessment-sync/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Catalog interface {
	progress.Catalog
	Contains(pillarID, indicatorID string) bool
}

type Indexer interface {
	IndexApplication(ctx context.Context, app *models.Application) error
}

type Notifier interface {
	SubmissionReceived(ctx context.Context, app *models.Application) error
	StatusChanged(ctx context.Context, app *models.Application) error
}

type ReviewStarter interface {
	StartReview(ctx context.Context, app *models.Application) error
}

type Option func(*Service)

func WithIndexer(ix Indexer) Option { return func(s *Service) { s.indexer = ix } }
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithReviewStarter(r ReviewStarter) Option { return func(s *Service) { s.review = r } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithSideEffectTimeout bounds the best-effort work done after a submit or
// review transition.
func WithSideEffectTimeout(d time.Duration) Option {
	return func(s *Service) { s.sideEffectTimeout = d }
}

type Service struct {
	store   store.Store
	catalog Catalog
	calc    *progress.Calculator
	logger  logger.Logger

	indexer  Indexer
	notifier Notifier
	review   ReviewStarter

	now               func() time.Time
	newID             func() string
	sideEffectTimeout time.Duration
}

func NewService(st store.Store, cat Catalog, log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &Service{
		store:             st,
		catalog:           cat,
		calc:              progress.NewCalculator(cat),
		logger:            log.WithFields(map[string]interface{}{"component": "backend"}),
		now:               time.Now,
		newID:             uuid.NewString,
		sideEffectTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ==========================
// Load / create
// ==========================

func (s *Service) LoadApplication(ctx context.Context, ownerID string) (*models.Application, error) {
	app, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.calc.RefreshAll(app, s.scoreTime(app))
	return app, nil
}

// CreateApplication starts a draft for ownerID, or fails with CONFLICT if one exists.
func (s *Service) CreateApplication(ctx context.Context, ownerID string) (*models.Application, error) {
	if _, err := s.store.GetByOwner(ctx, ownerID); err == nil {
		return nil, apperrors.NewConflictError("application", "owner already has an application")
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	now := s.now().UTC()
	app := models.NewApplication(s.newID(), ownerID, now)
	s.calc.RefreshAll(app, now)

	if err := s.store.Insert(ctx, app, store.AuditEntry{Actor: ownerID, Action: store.ActionCreate}); err != nil {
		return nil, err
	}
	s.logger.Info("Application created", map[string]interface{}{"applicationId": app.ID, "ownerId": ownerID})
	return app, nil
}

// ==========================
// Writes
// ==========================

// WritePartialChange applies one indicator value or one indicator's evidence.
func (s *Service) WritePartialChange(ctx context.Context, ownerID, appID string, change remote.PartialChange) (*models.Application, error) {
	if err := s.validatePartial(change); err != nil {
		s.countWrite("partial", "rejected")
		return nil, err
	}

	app, err := s.store.Update(ctx, appID, func(app *models.Application) (store.Mutation, error) {
		if err := checkWritable(app, ownerID); err != nil {
			return store.Mutation{}, err
		}
		now := s.now().UTC()
		pd := app.PillarData[change.PillarID]
		ind, ok := pd.Indicators[change.IndicatorID]
		if !ok || ind == nil {
			ind = &models.IndicatorData{ID: change.IndicatorID}
			pd.Indicators[change.IndicatorID] = ind
		}

		switch change.ChangeType {
		case models.ChangeIndicator:
			ind.Value = change.Value
		case models.ChangeEvidence:
			merged := ind.Evidence.Merge(*change.Evidence)
			merged.MarkPersisted(true)
			ind.Evidence = merged
		}
		ind.LastModified = now
		pd.LastModified = now
		app.LastModified = now
		app.LastSaved = &now
		s.calc.RefreshAll(app, now)

		return store.Mutation{Audit: &store.AuditEntry{
			Actor:  ownerID,
			Action: store.ActionPartial,
			Detail: map[string]interface{}{
				"changeType":  string(change.ChangeType),
				"pillarId":    change.PillarID,
				"indicatorId": change.IndicatorID,
			},
		}}, nil
	})
	if err != nil {
		s.countWrite("partial", "failed")
		return nil, err
	}
	s.countWrite("partial", "accepted")
	return app, nil
}

// WriteFullApplication replaces the editable parts of the application with
// the snapshot and recomputes scores server-side.
func (s *Service) WriteFullApplication(ctx context.Context, ownerID, appID string, full remote.FullApplication) (*models.Application, error) {
	if err := s.validateFull(full); err != nil {
		s.countWrite("full", "rejected")
		return nil, err
	}

	app, err := s.store.Update(ctx, appID, func(app *models.Application) (store.Mutation, error) {
		if err := checkWritable(app, ownerID); err != nil {
			return store.Mutation{}, err
		}
		now := s.now().UTC()

		app.InstitutionData = full.InstitutionData
		app.PillarData = persistedPillars(full.PillarData)
		app.EnsurePillars()
		app.CurrentStep = full.CurrentStep
		app.LastModified = now
		app.LastSaved = &now
		s.calc.RefreshAll(app, now)

		responses := s.calc.IndicatorResponses(app)
		if responses == nil {
			responses = []models.IndicatorResponse{}
		}
		return store.Mutation{
			Responses: responses,
			Audit: &store.AuditEntry{
				Actor:  ownerID,
				Action: store.ActionFull,
				Detail: map[string]interface{}{"currentStep": full.CurrentStep, "responses": len(responses)},
			},
		}, nil
	})
	if err != nil {
		s.countWrite("full", "failed")
		return nil, err
	}
	s.countWrite("full", "accepted")
	return app, nil
}

// ==========================
// Submit / validate / review
// ==========================

// SubmitApplication moves a complete draft to submitted and runs the
// best-effort side effects.
func (s *Service) SubmitApplication(ctx context.Context, ownerID, appID string) (*models.Application, error) {
	app, err := s.owned(ctx, ownerID, appID)
	if err != nil {
		return nil, err
	}
	if !app.Status.Editable() {
		s.countWrite("submit", "rejected")
		return nil, apperrors.NewConflictError("application", fmt.Sprintf("already %s", app.Status))
	}
	if missing := s.calc.ValidateAll(app); len(missing) > 0 {
		s.countWrite("submit", "rejected")
		return nil, apperrors.NewValidationError("application is incomplete", missing...)
	}

	now := s.now().UTC()
	submitted, err := s.store.TransitionStatus(ctx, appID, models.StatusDraft, models.StatusSubmitted, now,
		store.AuditEntry{Actor: ownerID, Action: store.ActionSubmit})
	if err != nil {
		s.countWrite("submit", "failed")
		return nil, err
	}
	s.countWrite("submit", "accepted")
	s.calc.RefreshAll(submitted, s.scoreTime(submitted))

	s.runSideEffects(ctx, submitted, map[string]func(context.Context, *models.Application) error{
		"index":  s.index,
		"notify": s.notifySubmitted,
		"review": s.startReview,
	})
	s.logger.Info("Application submitted", map[string]interface{}{"applicationId": appID, "ownerId": ownerID})
	return submitted, nil
}

func (s *Service) ValidateStep(ctx context.Context, ownerID, appID string, step int) (*models.StepValidation, error) {
	if step < models.InstitutionStep || step > models.LastStep {
		return nil, apperrors.NewValidationError("step out of range", fmt.Sprintf("step %d", step))
	}
	app, err := s.owned(ctx, ownerID, appID)
	if err != nil {
		return nil, err
	}
	v := s.calc.ValidateStep(app, step)
	return &v, nil
}

// TransitionReview moves a submitted application through the review states.
func (s *Service) TransitionReview(ctx context.Context, appID string, to models.Status, reviewer string) (*models.Application, error) {
	if !to.Valid() {
		return nil, apperrors.NewValidationError("unknown status", string(to))
	}
	app, err := s.store.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status == to {
		return app, nil
	}
	if app.Status == models.StatusDraft || !app.Status.CanTransitionTo(to) {
		return nil, apperrors.NewValidationError("invalid status transition",
			fmt.Sprintf("%s -> %s", app.Status, to))
	}

	updated, err := s.store.TransitionStatus(ctx, appID, app.Status, to, s.now().UTC(), store.AuditEntry{
		Actor:  reviewer,
		Action: store.ActionTransition,
		Detail: map[string]interface{}{"from": string(app.Status), "to": string(to)},
	})
	if err != nil {
		return nil, err
	}

	s.runSideEffects(ctx, updated, map[string]func(context.Context, *models.Application) error{
		"index":  s.index,
		"notify": s.notifyStatus,
	})
	return updated, nil
}

// ==========================
// Helpers
// ==========================

func (s *Service) owned(ctx context.Context, ownerID, appID string) (*models.Application, error) {
	app, err := s.store.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.OwnerID != ownerID {
		return nil, apperrors.NewNotFoundError("application", appID)
	}
	return app, nil
}

// checkWritable hides other owners' applications and rejects edits after submit.
func checkWritable(app *models.Application, ownerID string) error {
	if app.OwnerID != ownerID {
		return apperrors.NewNotFoundError("application", app.ID)
	}
	if !app.Status.Editable() {
		return apperrors.NewConflictError("application", fmt.Sprintf("application is %s and can no longer be edited", app.Status))
	}
	return nil
}

func persistedPillars(in map[string]*models.PillarData) map[string]*models.PillarData {
	out := make(map[string]*models.PillarData, len(in))
	for pid, pd := range in {
		if pd == nil {
			continue
		}
		cp := pd.Clone()
		for id, ind := range cp.Indicators {
			if ind == nil {
				delete(cp.Indicators, id)
				continue
			}
			ind.ID = id
			ind.Evidence.MarkPersisted(true)
		}
		out[pid] = cp
	}
	return out
}

func (s *Service) scoreTime(app *models.Application) time.Time {
	if app.LastSaved != nil {
		return *app.LastSaved
	}
	return app.LastModified
}

func (s *Service) runSideEffects(ctx context.Context, app *models.Application, effects map[string]func(context.Context, *models.Application) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	var g errgroup.Group
	for name, fn := range effects {
		g.Go(func() error {
			if err := fn(ctx, app); err != nil {
				metrics.SideEffectFailures.WithLabelValues(name).Inc()
				s.logger.Warn("Side effect failed", map[string]interface{}{
					"effect":        name,
					"applicationId": app.ID,
					"error":         err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) index(ctx context.Context, app *models.Application) error {
	if s.indexer == nil {
		return nil
	}
	return s.indexer.IndexApplication(ctx, app)
}

func (s *Service) notifySubmitted(ctx context.Context, app *models.Application) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.SubmissionReceived(ctx, app)
}

func (s *Service) notifyStatus(ctx context.Context, app *models.Application) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.StatusChanged(ctx, app)
}

func (s *Service) startReview(ctx context.Context, app *models.Application) error {
	if s.review == nil {
		return nil
	}
	return s.review.StartReview(ctx, app)
}

func (s *Service) countWrite(kind, outcome string) {
	metrics.ApplicationWrites.WithLabelValues(kind, outcome).Inc()
}
