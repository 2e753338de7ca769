package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
)

var _ repository.NFeOutcomeRepository = (*NFeOutcomeRepo)(nil)

// NFeOutcomeRepo implementación de NFeOutcomeRepository (usable con pool o tx).
type NFeOutcomeRepo struct {
	q Querier
}

// NewNFeOutcomeRepository construye el adaptador. Pasar pool o tx (Querier).
func NewNFeOutcomeRepository(q Querier) *NFeOutcomeRepo {
	return &NFeOutcomeRepo{q: q}
}

const outcomeColumns = `id, correlation_id, operation, access_key, environment, uf, status, stage,
	status_code, reason, protocol, receipt, attempts, error_kind, total, xml, created_at`

// Save agrega un registro al diario.
func (r *NFeOutcomeRepo) Save(ctx context.Context, o *entity.NFeOutcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CorrelationID == "" {
		o.CorrelationID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO nfe_outcomes (` + outcomeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.q.Exec(ctx, query,
		o.ID, o.CorrelationID, o.Operation, nullIfEmpty(o.AccessKey), o.Environment, nullIfEmpty(o.UF),
		o.Status, nullIfEmpty(o.Stage), nullIfZero(o.StatusCode), nullIfEmpty(o.Reason),
		nullIfEmpty(o.Protocol), nullIfEmpty(o.Receipt), o.Attempts, nullIfEmpty(o.ErrorKind),
		o.Total, o.XML, o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nfe outcome already exists: %w", err)
		}
		return fmt.Errorf("insert nfe outcome: %w", err)
	}
	return nil
}

// GetLatestByAccessKey último registro de la clave; nil, nil si no existe.
func (r *NFeOutcomeRepo) GetLatestByAccessKey(ctx context.Context, accessKey string) (*entity.NFeOutcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM nfe_outcomes
		WHERE access_key = $1 ORDER BY created_at DESC LIMIT 1`
	o, err := scanOutcome(r.q.QueryRow(ctx, query, accessKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get nfe outcome: %w", err)
	}
	return o, nil
}

// ListByAccessKey historial completo de la clave, más reciente primero.
func (r *NFeOutcomeRepo) ListByAccessKey(ctx context.Context, accessKey string) ([]*entity.NFeOutcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM nfe_outcomes
		WHERE access_key = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, accessKey)
}

// ListPending claves cuyo último registro es TIMED_OUT.
func (r *NFeOutcomeRepo) ListPending(ctx context.Context, limit int) ([]*entity.NFeOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + outcomeColumns + ` FROM (
			SELECT DISTINCT ON (access_key) * FROM nfe_outcomes
			WHERE access_key IS NOT NULL
			ORDER BY access_key, created_at DESC
		) latest
		WHERE status = 'TIMED_OUT'
		ORDER BY created_at
		LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *NFeOutcomeRepo) list(ctx context.Context, query string, args ...any) ([]*entity.NFeOutcome, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nfe outcomes: %w", err)
	}
	defer rows.Close()
	var list []*entity.NFeOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nfe outcome: %w", err)
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func scanOutcome(row pgx.Row) (*entity.NFeOutcome, error) {
	var o entity.NFeOutcome
	var accessKey, uf, stage, reason, protocol, receipt, errorKind *string
	var statusCode *int
	err := row.Scan(
		&o.ID, &o.CorrelationID, &o.Operation, &accessKey, &o.Environment, &uf, &o.Status, &stage,
		&statusCode, &reason, &protocol, &receipt, &o.Attempts, &errorKind, &o.Total, &o.XML, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.AccessKey = derefStr(accessKey)
	o.UF = derefStr(uf)
	o.Stage = derefStr(stage)
	o.StatusCode = derefInt(statusCode)
	o.Reason = derefStr(reason)
	o.Protocol = derefStr(protocol)
	o.Receipt = derefStr(receipt)
	o.ErrorKind = derefStr(errorKind)
	return &o, nil
}
