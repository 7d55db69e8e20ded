package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/models"
)

// MemoryStore keeps applications in process. It backs local runs without
// PostgreSQL and the service tests.
type MemoryStore struct {
	mu        sync.Mutex
	apps      map[string]*models.Application
	responses map[string][]models.IndicatorResponse
	audit     []RecordedAudit
}

// RecordedAudit is an audit entry with the application it belongs to.
type RecordedAudit struct {
	ApplicationID string
	AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:      make(map[string]*models.Application),
		responses: make(map[string][]models.IndicatorResponse),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) GetByID(_ context.Context, id string) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	return app.Clone(), nil
}

func (m *MemoryStore) GetByOwner(_ context.Context, ownerID string) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.OwnerID == ownerID {
			return app.Clone(), nil
		}
	}
	return nil, apperrors.NewNotFoundError("application", ownerID)
}

func (m *MemoryStore) Insert(_ context.Context, app *models.Application, audit AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.ID]; ok {
		return apperrors.NewConflictError("application", "duplicate id "+app.ID)
	}
	for _, existing := range m.apps {
		if existing.OwnerID == app.OwnerID {
			return apperrors.NewConflictError("application", "owner already has an application")
		}
	}
	m.apps[app.ID] = app.Clone()
	m.record(app.ID, &audit)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.apps[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	next := current.Clone()
	mut, err := fn(next)
	if err != nil {
		return nil, err
	}
	m.apps[id] = next.Clone()
	if mut.Responses != nil {
		m.responses[id] = append([]models.IndicatorResponse(nil), mut.Responses...)
	}
	m.record(id, mut.Audit)
	return next, nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id string, from, to models.Status, at time.Time, audit AuditEntry) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	if app.Status != from {
		return nil, apperrors.NewConflictError("application",
			fmt.Sprintf("status is %s, expected %s", app.Status, from))
	}
	app.Status = to
	app.LastModified = at
	if to == models.StatusSubmitted {
		t := at
		app.SubmittedAt = &t
	}
	m.record(id, &audit)
	return app.Clone(), nil
}

// Responses returns the indicator rows written by the last full save.
func (m *MemoryStore) Responses(id string) []models.IndicatorResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.IndicatorResponse(nil), m.responses[id]...)
}

// Audit returns a copy of the audit trail in write order.
func (m *MemoryStore) Audit() []RecordedAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedAudit(nil), m.audit...)
}

func (m *MemoryStore) record(id string, a *AuditEntry) {
	if a == nil {
		return
	}
	m.audit = append(m.audit, RecordedAudit{ApplicationID: id, AuditEntry: *a})
}
