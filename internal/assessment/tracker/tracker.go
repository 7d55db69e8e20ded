// Package tracker keeps the latest unsaved payload per change key.
package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"assessment-sync/internal/models"
)

// Change is one pending edit. Revision increases on every Record, so a save
// confirmation can tell whether it still matches the latest local edit.
type Change struct {
	Key         string
	Type        models.ChangeType
	PillarID    string
	IndicatorID string
	Value       models.IndicatorValue
	Evidence    *models.EvidenceData
	Revision    uint64
	RecordedAt  time.Time
}

// Key builds "<changeType>_<pillarId>_<indicatorId>".
func Key(t models.ChangeType, pillarID, indicatorID string) string {
	return fmt.Sprintf("%s_%s_%s", t, pillarID, indicatorID)
}

// Tracker holds the latest unsaved change per change key.
type Tracker struct {
	mu       sync.Mutex
	changes  map[string]Change
	revision uint64
	now      func() time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		changes: make(map[string]Change),
		now:     time.Now,
	}
}

// Record inserts or overwrites the entry for the change key and returns the
// stored change with its new revision.
func (t *Tracker) Record(c Change) Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.revision++
	c.Key = Key(c.Type, c.PillarID, c.IndicatorID)
	c.Revision = t.revision
	c.RecordedAt = t.now()
	if c.Evidence != nil {
		ev := c.Evidence.Clone()
		c.Evidence = &ev
	}
	t.changes[c.Key] = c
	return c
}

func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.changes, key)
}

// ClearIfRevision removes the entry only if it has not been superseded since
// revision was recorded.
func (t *Tracker) ClearIfRevision(key string, revision uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.changes[key]
	if !ok || c.Revision > revision {
		return false
	}
	delete(t.changes, key)
	return true
}

func (t *Tracker) Get(key string) (Change, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.changes[key]
	return c, ok
}

func (t *Tracker) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changes) > 0
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changes)
}

// All returns a snapshot of every pending change ordered by key.
func (t *Tracker) All() []Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Change, 0, len(t.changes))
	for _, c := range t.changes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Revisions maps each pending key to its current revision.
func (t *Tracker) Revisions() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]uint64, len(t.changes))
	for k, c := range t.changes {
		out[k] = c.Revision
	}
	return out
}
