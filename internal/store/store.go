// Package store persists assessment applications in PostgreSQL, optionally
// behind a Redis read-through cache.
package store

import (
	"context"
	"time"

	"assessment-sync/internal/models"
)

// Store is the server-side persistence for applications. Lookups return a
// NOT_FOUND StandardError for missing rows; Insert returns CONFLICT when the
// owner already has an application.
type Store interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
	GetByOwner(ctx context.Context, ownerID string) (*models.Application, error)
	Insert(ctx context.Context, app *models.Application, audit AuditEntry) error
	// Update runs fn on the locked row and writes back whatever it leaves in app.
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.Application, error)
	// TransitionStatus moves id from one status to the next only if it is
	// still in from; otherwise it returns CONFLICT.
	TransitionStatus(ctx context.Context, id string, from, to models.Status, at time.Time, audit AuditEntry) (*models.Application, error)
	Ping(ctx context.Context) error
}

// UpdateFunc mutates app in place and says what else to write in the same
// transaction.
type UpdateFunc func(app *models.Application) (Mutation, error)

type Mutation struct {
	// Responses replaces the stored indicator responses when non-nil.
	Responses []models.IndicatorResponse
	Audit     *AuditEntry
}

// Audit actions
const (
	ActionCreate     = "create"
	ActionPartial    = "partial_save"
	ActionFull       = "full_save"
	ActionSubmit     = "submit"
	ActionTransition = "status_transition"
)

type AuditEntry struct {
	Actor  string
	Action string
	Detail map[string]interface{}
}
