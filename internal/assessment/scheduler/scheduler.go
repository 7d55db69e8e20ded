// Package scheduler persists tracked changes: debounced partial saves per
// change key, an idle auto-save that writes the full application, forced
// saves and a flush-all used before navigation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"assessment-sync/internal/assessment/debounce"
	"assessment-sync/internal/assessment/tracker"
	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/observability"
	"assessment-sync/internal/remote"
)

// FullSnapshot is what a full save writes, along with the tracker revisions
// and the host's modification counter as they were when it was taken.
type FullSnapshot struct {
	Payload     remote.FullApplication
	Revisions   map[string]uint64
	ModRevision uint64
}

// Host is the state store the scheduler saves on behalf of. The scheduler
// never holds its own locks while calling into it.
type Host interface {
	ApplicationID() string
	FullSnapshot() FullSnapshot
	ChangeSaved(change tracker.Change, at time.Time)
	FullSaved(snap FullSnapshot, at time.Time)
	SaveFailed(err error, forced bool)
	HasUnsavedChanges() bool
}

type Option func(*Scheduler)

func WithSleep(sleep SleepFunc) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithObservability(o *observability.Observability) Option {
	return func(s *Scheduler) { s.obs = o }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

type Scheduler struct {
	cfg     Config
	svc     remote.Service
	tracker *tracker.Tracker
	host    Host
	logger  logger.Logger
	obs     *observability.Observability
	sleep   SleepFunc
	now     func() time.Time

	partials *debounce.Queue[tracker.Change]

	// saveMu is the isSaving guard for full saves.
	saveMu sync.Mutex
	saving atomic.Bool

	mu        sync.Mutex
	lanes     map[string]*sync.Mutex
	autoTimer *time.Timer
	autoGen   uint64
	online    bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, svc remote.Service, tr *tracker.Tracker, host Host, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg.withDefaults(),
		svc:     svc,
		tracker: tr,
		host:    host,
		logger:  logger.NewNoOpLogger(),
		sleep:   sleepContext,
		now:     time.Now,
		lanes:   make(map[string]*sync.Mutex),
		online:  true,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(map[string]interface{}{
		"component":     "scheduler",
		"applicationId": host.ApplicationID(),
	})
	s.partials = debounce.New[tracker.Change](s.cfg.PartialDebounce, s.sendPartial, s.partialFailed)
	s.partials.SetMaxParallel(s.cfg.MaxParallel)
	return s
}

// Schedule (re)starts the debounce timer for a recorded change.
func (s *Scheduler) Schedule(c tracker.Change) {
	s.partials.Schedule(c.Key, c)
}

// NotifyModified restarts the auto-save idle timer.
func (s *Scheduler) NotifyModified() {
	s.armAutoSave()
}

func (s *Scheduler) IsSaving() bool {
	return s.saving.Load()
}

func (s *Scheduler) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline toggles connectivity. Going offline stops the auto-save timer;
// coming back online restarts it if anything is unsaved.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	prev := s.online
	s.online = online
	if !online {
		s.stopAutoSaveLocked()
	}
	s.mu.Unlock()

	if online && !prev {
		s.logger.Info("Connectivity restored", nil)
		if s.host.HasUnsavedChanges() {
			s.armAutoSave()
		}
	} else if !online && prev {
		s.logger.Warn("Connectivity lost, saves suspended", nil)
	}
}

// FlushChange sends the queued payload for key now, if any.
func (s *Scheduler) FlushChange(ctx context.Context, key string) error {
	return s.partials.Flush(ctx, key)
}

// SaveAllPendingChanges sends one partial save per pending key concurrently
// and waits for all of them. Any failure is returned joined.
func (s *Scheduler) SaveAllPendingChanges(ctx context.Context) error {
	if s.isClosed() {
		return apperrors.ErrSessionClosed
	}
	if !s.IsOnline() {
		return apperrors.ErrOffline
	}
	for _, c := range s.tracker.All() {
		s.partials.Add(c.Key, c)
	}
	if err := s.partials.FlushAll(ctx); err != nil {
		s.logger.Warn("Flush of pending changes failed", map[string]interface{}{"error": err.Error()})
		s.host.SaveFailed(err, true)
		return err
	}
	return nil
}

// SaveFull writes the whole application. A non-forced call returns
// ErrSaveInProgress when another full save is running; a forced call waits
// for it.
func (s *Scheduler) SaveFull(ctx context.Context, force bool) error {
	if s.isClosed() {
		return apperrors.ErrSessionClosed
	}
	if !s.IsOnline() {
		return apperrors.ErrOffline
	}

	if force {
		s.saveMu.Lock()
	} else if !s.saveMu.TryLock() {
		s.obs.RecordSave(ctx, observability.KindFull, observability.OutcomeDropped, 0)
		return apperrors.ErrSaveInProgress
	}
	s.saving.Store(true)
	defer func() {
		s.saving.Store(false)
		s.saveMu.Unlock()
	}()

	s.stopAutoSave()

	snap := s.host.FullSnapshot()
	appID := s.host.ApplicationID()
	start := s.now()

	err := Retry(ctx, s.cfg, "writeFullApplication", s.sleep, s.onRetry(observability.KindFull, ""), func(ctx context.Context) error {
		return s.svc.WriteFullApplication(ctx, appID, snap.Payload)
	})
	if err != nil {
		s.obs.RecordSave(ctx, observability.KindFull, observability.OutcomeFailure, s.now().Sub(start))
		fields := map[string]interface{}{"error": err.Error(), "forced": force}
		if force {
			s.logger.Error("Full save failed", fields)
		} else {
			s.logger.Warn("Auto-save failed", fields)
		}
		s.host.SaveFailed(err, force)
		return err
	}

	at := s.now()
	s.obs.RecordSave(ctx, observability.KindFull, observability.OutcomeSuccess, at.Sub(start))
	for key, rev := range snap.Revisions {
		s.tracker.ClearIfRevision(key, rev)
	}
	s.host.FullSaved(snap, at)
	s.logger.Debug("Full save confirmed", map[string]interface{}{"forced": force, "keys": len(snap.Revisions)})

	if s.host.HasUnsavedChanges() {
		s.armAutoSave()
	}
	return nil
}

// Close stops all timers, cancels timer-driven saves and waits for them.
// Pending changes stay in the tracker.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopAutoSaveLocked()
	s.mu.Unlock()

	s.cancel()
	s.partials.Stop()
	s.wg.Wait()
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) lane(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[key]
	if !ok {
		l = &sync.Mutex{}
		s.lanes[key] = l
	}
	return l
}

// sendPartial is the debounce flush function. It always sends the latest
// tracked payload for the key and skips keys already confirmed.
func (s *Scheduler) sendPartial(ctx context.Context, key string, queued tracker.Change) error {
	if !s.IsOnline() {
		return apperrors.ErrOffline
	}

	lane := s.lane(key)
	lane.Lock()
	defer lane.Unlock()

	c, ok := s.tracker.Get(key)
	if !ok || c.Revision < queued.Revision {
		return nil
	}

	change := remote.PartialChange{
		ChangeType:  c.Type,
		PillarID:    c.PillarID,
		IndicatorID: c.IndicatorID,
		Value:       c.Value,
		Evidence:    c.Evidence,
	}
	appID := s.host.ApplicationID()
	start := s.now()

	err := Retry(ctx, s.cfg, "writePartialChange", s.sleep, s.onRetry(observability.KindPartial, key), func(ctx context.Context) error {
		return s.svc.WritePartialChange(ctx, appID, change)
	})
	if err != nil {
		s.obs.RecordSave(ctx, observability.KindPartial, observability.OutcomeFailure, s.now().Sub(start))
		return err
	}

	at := s.now()
	s.obs.RecordSave(ctx, observability.KindPartial, observability.OutcomeSuccess, at.Sub(start))
	s.host.ChangeSaved(c, at)
	s.tracker.ClearIfRevision(key, c.Revision)
	s.logger.Debug("Partial save confirmed", map[string]interface{}{"key": key, "revision": c.Revision})
	return nil
}

// partialFailed handles failures of timer-driven partial saves. The change
// stays pending; offline skips are silent.
func (s *Scheduler) partialFailed(key string, err error) {
	if errors.Is(err, apperrors.ErrOffline) || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("Partial save failed, change kept pending", map[string]interface{}{
		"key":       key,
		"error":     err.Error(),
		"retryable": apperrors.IsRetryable(err),
	})
	s.host.SaveFailed(err, false)
}

func (s *Scheduler) onRetry(kind, key string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		s.obs.RecordRetry(s.ctx, kind)
		s.logger.Debug("Retrying save", map[string]interface{}{
			"kind":    kind,
			"key":     key,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	}
}

func (s *Scheduler) armAutoSave() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.online {
		return
	}
	s.stopAutoSaveLocked()
	s.autoGen++
	g := s.autoGen
	s.autoTimer = time.AfterFunc(s.cfg.AutoSaveDelay, func() { s.autoSaveFired(g) })
}

func (s *Scheduler) stopAutoSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAutoSaveLocked()
}

func (s *Scheduler) stopAutoSaveLocked() {
	if s.autoTimer != nil {
		s.autoTimer.Stop()
		s.autoTimer = nil
	}
	s.autoGen++
}

func (s *Scheduler) autoSaveFired(g uint64) {
	s.mu.Lock()
	if g != s.autoGen || s.closed {
		s.mu.Unlock()
		return
	}
	s.autoTimer = nil
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	// an in-flight save re-arms the timer itself when it finishes
	if s.saving.Load() || !s.host.HasUnsavedChanges() {
		return
	}
	err := s.SaveFull(s.ctx, false)
	if err != nil && !errors.Is(err, apperrors.ErrSaveInProgress) && !errors.Is(err, apperrors.ErrOffline) {
		s.logger.Debug("Auto-save gave up", map[string]interface{}{"error": err.Error()})
	}
}
