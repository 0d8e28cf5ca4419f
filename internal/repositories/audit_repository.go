package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"github.com/vysogota0399/settlement_engine/internal/storage"
)

// AuditRepository appends immutable facts. There is no update or delete
// path: current state is a projection elsewhere, the log is the compliance
// trace.
type AuditRepository struct {
	strg AuditStorage
	lg   *logging.ZapLogger
}

type AuditStorage interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func NewAuditRepository(strg *storage.Storage, lg *logging.ZapLogger) *AuditRepository {
	return &AuditRepository{strg: strg.DB, lg: lg}
}

func (rep *AuditRepository) CreateTX(ctx context.Context, tx pgx.Tx, in *models.AuditRecord) error {
	if _, err := tx.Exec(
		ctx,
		`
			INSERT INTO audit_log(actor, action, transaction_uuid, before_state, after_state, correlation_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
		in.Actor, in.Action, nullableUUID(in.TransactionUUID), in.BeforeState, in.AfterState, in.CorrelationID,
	); err != nil {
		return fmt.Errorf("audit_repository: create record error %w", err)
	}

	return nil
}

func (rep *AuditRepository) Create(ctx context.Context, in *models.AuditRecord) error {
	if _, err := rep.strg.Exec(
		ctx,
		`
			INSERT INTO audit_log(actor, action, transaction_uuid, before_state, after_state, correlation_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
		in.Actor, in.Action, nullableUUID(in.TransactionUUID), in.BeforeState, in.AfterState, in.CorrelationID,
	); err != nil {
		return fmt.Errorf("audit_repository: create record error %w", err)
	}

	return nil
}

func (rep *AuditRepository) HasAction(ctx context.Context, transactionUUID, action string) (bool, error) {
	row := rep.strg.QueryRow(
		ctx,
		`SELECT 1 FROM audit_log WHERE transaction_uuid = $1 AND action = $2 LIMIT 1`,
		transactionUUID, action,
	)

	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("audit_repository: check action error %w", err)
	}

	return true, nil
}

func nullableUUID(v string) any {
	if v == "" {
		return nil
	}

	return v
}
