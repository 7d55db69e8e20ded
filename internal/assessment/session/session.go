// Package session holds the in-memory application being edited. Every edit
// goes through a Session method, which mutates the snapshot, recomputes
// progress, records the change and hands it to the save scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"assessment-sync/internal/assessment/progress"
	"assessment-sync/internal/assessment/scheduler"
	"assessment-sync/internal/assessment/tracker"
	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/observability"
	"assessment-sync/internal/models"
	"assessment-sync/internal/remote"
)

// Catalog is the indicator lookup a session needs.
type Catalog interface {
	progress.Catalog
	Contains(pillarID, indicatorID string) bool
}

type Options struct {
	Config        scheduler.Config
	Logger        logger.Logger
	Observability *observability.Observability
	Clock         func() time.Time
	Sleep         scheduler.SleepFunc
}

type Session struct {
	mu      sync.RWMutex
	app     *models.Application
	catalog Catalog
	calc    *progress.Calculator
	svc     remote.Service
	tracker *tracker.Tracker
	sched   *scheduler.Scheduler
	cfg     scheduler.Config
	sleep   scheduler.SleepFunc
	logger  logger.Logger
	now     func() time.Time

	// modRev counts local modifications; savedRev is the highest one a
	// full save has confirmed.
	modRev   uint64
	savedRev uint64
	// instRev is the modRev of the last institution edit. The institution
	// has no partial save, so it is written only by full saves.
	instRev uint64

	// latest local and confirmed revision per change key
	local     map[string]uint64
	confirmed map[string]uint64
	fields    map[string]tracker.Change

	lastErr error
	notice  error
	closed  bool
}

// Open loads the caller's application, creating it when none exists. A
// concurrent create that loses with CONFLICT re-reads the winner.
func Open(ctx context.Context, svc remote.Service, cat Catalog, opts Options) (*Session, error) {
	if cat == nil {
		return nil, errors.New("session: catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	cfg := opts.Config
	if cfg == (scheduler.Config{}) {
		cfg = scheduler.DefaultConfig()
	}

	s := &Session{
		catalog:   cat,
		calc:      progress.NewCalculator(cat),
		svc:       svc,
		tracker:   tracker.New(),
		cfg:       cfg,
		sleep:     opts.Sleep,
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "session"}),
		now:       opts.Clock,
		local:     make(map[string]uint64),
		confirmed: make(map[string]uint64),
		fields:    make(map[string]tracker.Change),
	}

	app, err := s.loadOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	app.EnsurePillars()
	s.calc.RefreshAll(app, s.now())
	if app.Status == models.StatusDraft {
		app.CurrentStep = s.calc.NextIncompleteStep(app)
	}
	s.app = app
	s.logger = logger.ForApplication(s.logger, app.ID)

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(opts.Logger),
		scheduler.WithClock(opts.Clock),
		scheduler.WithObservability(opts.Observability),
	}
	if opts.Sleep != nil {
		schedOpts = append(schedOpts, scheduler.WithSleep(opts.Sleep))
	}
	s.sched = scheduler.New(cfg, svc, s.tracker, s, schedOpts...)

	s.logger.Info("Session opened", map[string]interface{}{
		"status":      string(app.Status),
		"currentStep": app.CurrentStep,
	})
	return s, nil
}

func (s *Session) loadOrCreate(ctx context.Context) (*models.Application, error) {
	load := func() (*models.Application, error) {
		var app *models.Application
		err := scheduler.Retry(ctx, s.cfg, "loadApplication", s.sleep, nil, func(ctx context.Context) error {
			var err error
			app, err = s.svc.LoadApplication(ctx)
			return err
		})
		return app, err
	}

	app, err := load()
	if err == nil {
		return app, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	app, err = s.svc.CreateApplication(ctx)
	if err == nil {
		s.logger.Info("Created application", map[string]interface{}{"applicationId": app.ID})
		return app, nil
	}
	if !apperrors.IsConflict(err) {
		return nil, err
	}
	s.logger.Info("Application created concurrently, reloading", nil)
	return load()
}

// Close stops every timer. Unsaved changes are not flushed; call
// SaveAllPendingChanges or SaveNow first.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.Close()
	s.logger.Info("Session closed", map[string]interface{}{"pending": s.tracker.Len()})
}

// ==========================
// Edits
// ==========================

func (s *Session) checkEditableLocked() error {
	if s.closed {
		return apperrors.ErrSessionClosed
	}
	if !s.app.Status.Editable() {
		return fmt.Errorf("%w: status is %s", apperrors.ErrApplicationLocked, s.app.Status)
	}
	return nil
}

func (s *Session) indicatorLocked(pillarID, indicatorID string) (*models.PillarData, *models.IndicatorData, error) {
	if !s.catalog.Contains(pillarID, indicatorID) {
		return nil, nil, fmt.Errorf("%w: %s/%s", apperrors.ErrUnknownIndicator, pillarID, indicatorID)
	}
	pd := s.app.PillarData[pillarID]
	return pd, pd.Indicators[indicatorID], nil
}

// UpdateIndicator sets an indicator's value. Setting the current value again
// is a no-op.
func (s *Session) UpdateIndicator(pillarID, indicatorID string, value models.IndicatorValue) error {
	s.mu.Lock()
	if err := s.checkEditableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	pd, ind, err := s.indicatorLocked(pillarID, indicatorID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	current := models.NoValue()
	if ind != nil {
		current = ind.Value
	}
	if current.Equal(value) {
		s.mu.Unlock()
		return nil
	}

	now := s.now()
	if ind == nil {
		ind = &models.IndicatorData{ID: indicatorID}
		pd.Indicators[indicatorID] = ind
	}
	ind.Value = value
	ind.LastModified = now
	pd.LastModified = now
	s.app.LastModified = now
	s.recomputeLocked(pillarID, now)

	c := s.recordLocked(tracker.Change{
		Type:        models.ChangeIndicator,
		PillarID:    pillarID,
		IndicatorID: indicatorID,
		Value:       value,
	})
	s.mu.Unlock()

	s.sched.Schedule(c)
	s.sched.NotifyModified()
	return nil
}

// UpdateEvidence merges patch into the indicator's evidence field by field.
// Kinds absent from patch are kept. Merged kinds are unpersisted until a
// save confirms them.
func (s *Session) UpdateEvidence(pillarID, indicatorID string, patch models.EvidenceData) error {
	s.mu.Lock()
	if err := s.checkEditableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	pd, ind, err := s.indicatorLocked(pillarID, indicatorID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	var current models.EvidenceData
	if ind != nil {
		current = ind.Evidence
	}
	patch = patch.Clone()
	patch.MarkPersisted(false)
	merged := current.Merge(patch)
	if merged.Equal(current) {
		s.mu.Unlock()
		return nil
	}

	now := s.now()
	if ind == nil {
		ind = &models.IndicatorData{ID: indicatorID}
		pd.Indicators[indicatorID] = ind
	}
	ind.Evidence = merged
	ind.LastModified = now
	pd.LastModified = now
	s.app.LastModified = now
	s.recomputeLocked(pillarID, now)

	ev := merged.Clone()
	c := s.recordLocked(tracker.Change{
		Type:        models.ChangeEvidence,
		PillarID:    pillarID,
		IndicatorID: indicatorID,
		Evidence:    &ev,
	})
	s.mu.Unlock()

	s.sched.Schedule(c)
	s.sched.NotifyModified()
	return nil
}

// UpdateInstitution replaces the institution profile. It is persisted by the
// next full save; NavigateTo forces one while the edit is unsaved.
func (s *Session) UpdateInstitution(data models.InstitutionData) error {
	s.mu.Lock()
	if err := s.checkEditableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.app.InstitutionData == data {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	s.app.InstitutionData = data
	s.app.LastModified = now
	s.modRev++
	s.instRev = s.modRev
	s.mu.Unlock()

	s.sched.NotifyModified()
	return nil
}

func (s *Session) institutionUnsaved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instRev > s.savedRev
}

func (s *Session) recordLocked(c tracker.Change) tracker.Change {
	s.modRev++
	c = s.tracker.Record(c)
	s.local[c.Key] = c.Revision
	s.fields[c.Key] = tracker.Change{Type: c.Type, PillarID: c.PillarID, IndicatorID: c.IndicatorID}
	return c
}

func (s *Session) recomputeLocked(pillarID string, now time.Time) {
	s.calc.Refresh(s.app, pillarID)
	scores := s.calc.Summary(s.app, now)
	s.app.Scores = &scores
}

// ==========================
// Navigation
// ==========================

func (s *Session) CanNavigateToStep(step int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calc.CanNavigateToStep(s.app, step)
}

func (s *Session) NextIncompleteStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calc.NextIncompleteStep(s.app)
}

func (s *Session) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.CurrentStep
}

// NavigateTo moves to step once the gate allows it and every pending change
// has been written. A failed flush leaves the current step unchanged.
func (s *Session) NavigateTo(ctx context.Context, step int) error {
	if !s.CanNavigateToStep(step) {
		return fmt.Errorf("%w: step %d", apperrors.ErrNavigationBlocked, step)
	}
	if s.tracker.HasPending() {
		if err := s.sched.SaveAllPendingChanges(ctx); err != nil {
			return err
		}
	}
	if s.institutionUnsaved() {
		if err := s.sched.SaveFull(ctx, true); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	changed := s.app.CurrentStep != step
	if changed {
		s.app.CurrentStep = step
		s.modRev++
	}
	s.mu.Unlock()

	if changed {
		s.sched.NotifyModified()
	}
	return nil
}

// ==========================
// Saving
// ==========================

// SaveNow forces a full save and waits for it, retries included.
func (s *Session) SaveNow(ctx context.Context) error {
	return s.sched.SaveFull(ctx, true)
}

// SaveAllPendingChanges writes every pending change as a partial save.
func (s *Session) SaveAllPendingChanges(ctx context.Context) error {
	return s.sched.SaveAllPendingChanges(ctx)
}

// Submit saves, checks completeness locally and asks the service to submit.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.RLock()
	if err := s.checkEditableLocked(); err != nil {
		s.mu.RUnlock()
		return err
	}
	appID := s.app.ID
	s.mu.RUnlock()

	if err := s.SaveNow(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	missing := s.calc.ValidateAll(s.app)
	s.mu.RUnlock()
	if len(missing) > 0 {
		return apperrors.NewValidationError("application is incomplete", missing...)
	}

	submitted, err := s.svc.SubmitApplication(ctx, appID)
	if err != nil {
		s.logger.Error("Submit failed", map[string]interface{}{"error": err.Error()})
		return err
	}

	s.mu.Lock()
	s.app.Status = models.StatusSubmitted
	if submitted != nil && submitted.SubmittedAt != nil {
		at := *submitted.SubmittedAt
		s.app.SubmittedAt = &at
	} else {
		at := s.now()
		s.app.SubmittedAt = &at
	}
	s.mu.Unlock()

	s.logger.Info("Application submitted", nil)
	return nil
}

// ValidateStep asks the service for its view of a step.
func (s *Session) ValidateStep(ctx context.Context, step int) (*models.StepValidation, error) {
	return s.svc.ValidateStep(ctx, s.ApplicationID(), step)
}

// LocalValidateStep runs the same check against the local snapshot.
func (s *Session) LocalValidateStep(step int) models.StepValidation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calc.ValidateStep(s.app, step)
}

// ==========================
// Scheduler host
// ==========================

func (s *Session) ApplicationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.ID
}

func (s *Session) FullSnapshot() scheduler.FullSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app := s.app.Clone()
	return scheduler.FullSnapshot{
		Payload: remote.FullApplication{
			Status:             app.Status,
			InstitutionData:    app.InstitutionData,
			PillarData:         app.PillarData,
			IndicatorResponses: s.calc.IndicatorResponses(app),
			CurrentStep:        app.CurrentStep,
			Scores:             app.Scores,
		},
		Revisions:   s.tracker.Revisions(),
		ModRevision: s.modRev,
	}
}

func (s *Session) ChangeSaved(c tracker.Change, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSavedLocked(at)
	if s.confirmLocked(c.Key, c.Revision) && c.Type == models.ChangeEvidence {
		s.persistEvidenceLocked(c.PillarID, c.IndicatorID, at)
	}
}

func (s *Session) FullSaved(snap scheduler.FullSnapshot, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSavedLocked(at)
	if snap.ModRevision > s.savedRev {
		s.savedRev = snap.ModRevision
	}
	for key, rev := range snap.Revisions {
		if !s.confirmLocked(key, rev) {
			continue
		}
		if ref, ok := s.fields[key]; ok && ref.Type == models.ChangeEvidence {
			s.persistEvidenceLocked(ref.PillarID, ref.IndicatorID, at)
		}
	}
}

func (s *Session) SaveFailed(err error, forced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if forced {
		s.notice = err
	}
}

func (s *Session) HasUnsavedChanges() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modRev > s.savedRev
}

func (s *Session) markSavedLocked(at time.Time) {
	t := at
	s.app.LastSaved = &t
	s.lastErr = nil
	s.notice = nil
}

// confirmLocked records a confirmed revision and reports whether it is the
// latest local edit for the key.
func (s *Session) confirmLocked(key string, rev uint64) bool {
	if rev > s.confirmed[key] {
		s.confirmed[key] = rev
	}
	return s.local[key] == rev
}

func (s *Session) persistEvidenceLocked(pillarID, indicatorID string, at time.Time) {
	pd := s.app.PillarData[pillarID]
	if pd == nil {
		return
	}
	ind := pd.Indicators[indicatorID]
	if ind == nil {
		return
	}
	ind.Evidence.MarkPersisted(true)
	s.recomputeLocked(pillarID, at)
}

// ==========================
// Read side
// ==========================

// FieldState is the two-phase state of one change key.
type FieldState int

const (
	// FieldConfirmed means the remote store holds the latest local edit.
	FieldConfirmed FieldState = iota
	// FieldLocal means the latest local edit is not confirmed yet.
	FieldLocal
)

func (f FieldState) String() string {
	if f == FieldLocal {
		return "local"
	}
	return "confirmed"
}

func (s *Session) FieldState(t models.ChangeType, pillarID, indicatorID string) FieldState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := tracker.Key(t, pillarID, indicatorID)
	if s.local[key] > s.confirmed[key] {
		return FieldLocal
	}
	return FieldConfirmed
}

// Snapshot returns a deep copy of the application.
func (s *Session) Snapshot() *models.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.Clone()
}

func (s *Session) Status() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.Status
}

// PillarProgress recomputes a pillar from its indicator data.
func (s *Session) PillarProgress(pillarID string) progress.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calc.Pillar(s.app, pillarID)
}

func (s *Session) Scores() models.Scores {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calc.Summary(s.app, s.now())
}

// Error is the last save failure. Only a successful save clears it.
func (s *Session) Error() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Notification is the last failure of a user-initiated save, until dismissed.
func (s *Session) Notification() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notice
}

func (s *Session) DismissNotification() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = nil
}

func (s *Session) LastSaved() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.app.LastSaved == nil {
		return nil
	}
	t := *s.app.LastSaved
	return &t
}

func (s *Session) PendingChanges() int { return s.tracker.Len() }

func (s *Session) IsSaving() bool { return s.sched.IsSaving() }

func (s *Session) IsOnline() bool { return s.sched.IsOnline() }

func (s *Session) SetOnline(online bool) { s.sched.SetOnline(online) }
