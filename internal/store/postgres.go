package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const selectColumns = `id, owner_id, status, institution_data, pillar_data, scores,
	current_step, submitted_at, last_saved, last_modified, created_at`

type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "postgres-store"}),
		now:    time.Now,
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM assessment_applications WHERE id = $1`, id)
	return s.scan(row, id)
}

func (s *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (*models.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM assessment_applications WHERE owner_id = $1`, ownerID)
	return s.scan(row, ownerID)
}

func (s *PostgresStore) Insert(ctx context.Context, app *models.Application, audit AuditEntry) error {
	cols, err := encodeApplication(app)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.dbError("insert", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO assessment_applications
		(id, owner_id, status, institution_data, pillar_data, scores, current_step, submitted_at, last_saved, last_modified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		app.ID, app.OwnerID, string(app.Status), cols.institution, cols.pillars, cols.scores,
		app.CurrentStep, app.SubmittedAt, app.LastSaved, app.LastModified, app.CreatedAt)
	if err != nil {
		return s.dbError("insert", err)
	}
	if err := s.insertAudit(ctx, tx, app.ID, audit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.dbError("insert", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (*models.Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.dbError("update", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM assessment_applications WHERE id = $1 FOR UPDATE`, id)
	app, err := s.scan(row, id)
	if err != nil {
		return nil, err
	}

	m, err := fn(app)
	if err != nil {
		return nil, err
	}

	cols, err := encodeApplication(app)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE assessment_applications SET
		status = $2, institution_data = $3, pillar_data = $4, scores = $5, current_step = $6,
		submitted_at = $7, last_saved = $8, last_modified = $9
		WHERE id = $1`,
		id, string(app.Status), cols.institution, cols.pillars, cols.scores, app.CurrentStep,
		app.SubmittedAt, app.LastSaved, app.LastModified)
	if err != nil {
		return nil, s.dbError("update", err)
	}

	if m.Responses != nil {
		if err := s.replaceResponses(ctx, tx, id, m.Responses); err != nil {
			return nil, err
		}
	}
	if m.Audit != nil {
		if err := s.insertAudit(ctx, tx, id, *m.Audit); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, s.dbError("update", err)
	}
	return app, nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to models.Status, at time.Time, audit AuditEntry) (*models.Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.dbError("transition", err)
	}
	defer tx.Rollback()

	var submittedAt *time.Time
	if to == models.StatusSubmitted {
		submittedAt = &at
	}
	res, err := tx.ExecContext(ctx, `UPDATE assessment_applications
		SET status = $1, submitted_at = COALESCE($2, submitted_at), last_modified = $3
		WHERE id = $4 AND status = $5`,
		string(to), submittedAt, at, id, string(from))
	if err != nil {
		return nil, s.dbError("transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, s.dbError("transition", err)
	}
	if n == 0 {
		current, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewConflictError("application",
			fmt.Sprintf("status is %s, expected %s", current.Status, from))
	}

	if err := s.insertAudit(ctx, tx, id, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, s.dbError("transition", err)
	}

	s.logger.Info("Application status changed", map[string]interface{}{
		"applicationId": id,
		"from":          string(from),
		"to":            string(to),
	})
	return s.GetByID(ctx, id)
}

func (s *PostgresStore) replaceResponses(ctx context.Context, tx *sql.Tx, id string, responses []models.IndicatorResponse) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM assessment_indicator_responses WHERE application_id = $1`, id); err != nil {
		return s.dbError("responses", err)
	}
	for _, r := range responses {
		value, err := json.Marshal(r.Value)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO assessment_indicator_responses
			(application_id, pillar_id, indicator_id, value, normalized_score, evidence_required, evidence_provided, complete)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, r.PillarID, r.IndicatorID, value, r.NormalizedScore, r.EvidenceRequired, r.EvidenceProvided, r.Complete)
		if err != nil {
			return s.dbError("responses", err)
		}
	}
	return nil
}

func (s *PostgresStore) insertAudit(ctx context.Context, tx *sql.Tx, appID string, a AuditEntry) error {
	var detail interface{}
	if a.Detail != nil {
		raw, err := json.Marshal(a.Detail)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		detail = raw
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO assessment_audit_log
		(id, application_id, actor, action, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), appID, a.Actor, a.Action, detail, s.now().UTC())
	if err != nil {
		return s.dbError("audit", err)
	}
	return nil
}

func (s *PostgresStore) scan(row *sql.Row, key string) (*models.Application, error) {
	var (
		app                  models.Application
		status               string
		institution, pillars []byte
		scores               []byte
		submittedAt          sql.NullTime
		lastSaved            sql.NullTime
	)
	err := row.Scan(&app.ID, &app.OwnerID, &status, &institution, &pillars, &scores,
		&app.CurrentStep, &submittedAt, &lastSaved, &app.LastModified, &app.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("application", key)
	}
	if err != nil {
		return nil, s.dbError("select", err)
	}

	app.Status = models.Status(status)
	if submittedAt.Valid {
		t := submittedAt.Time
		app.SubmittedAt = &t
	}
	if lastSaved.Valid {
		t := lastSaved.Time
		app.LastSaved = &t
	}
	if len(institution) > 0 {
		if err := json.Unmarshal(institution, &app.InstitutionData); err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("decode institution_data: %w", err))
		}
	}
	if len(pillars) > 0 {
		if err := json.Unmarshal(pillars, &app.PillarData); err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("decode pillar_data: %w", err))
		}
	}
	if len(scores) > 0 {
		app.Scores = &models.Scores{}
		if err := json.Unmarshal(scores, app.Scores); err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("decode scores: %w", err))
		}
	}
	app.EnsurePillars()
	return &app, nil
}

// dbError maps driver errors onto the error taxonomy. Unique violations are
// conflicts; anything else is a retryable service failure.
func (s *PostgresStore) dbError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.NewConflictError("application", pqErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewNetworkTimeoutError("postgres."+op, err)
	}
	s.logger.Error("Database operation failed", map[string]interface{}{"operation": op, "error": err.Error()})
	return apperrors.NewServiceError("postgres."+op, 0, err.Error())
}

type encodedColumns struct {
	institution []byte
	pillars     []byte
	scores      interface{} // nil writes NULL
}

func encodeApplication(app *models.Application) (encodedColumns, error) {
	var out encodedColumns
	var err error
	if out.institution, err = json.Marshal(app.InstitutionData); err != nil {
		return out, err
	}
	if out.pillars, err = json.Marshal(app.PillarData); err != nil {
		return out, err
	}
	if app.Scores != nil {
		raw, err := json.Marshal(app.Scores)
		if err != nil {
			return out, err
		}
		out.scores = raw
	}
	return out, nil
}
