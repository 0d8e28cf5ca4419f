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

type AccountsRepository struct {
	strg AccountsStorage
	lg   *logging.ZapLogger
}

type AccountsStorage interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func NewAccountsRepository(strg *storage.Storage, lg *logging.ZapLogger) *AccountsRepository {
	return &AccountsRepository{strg: strg.DB, lg: lg}
}

// TransferTX moves amount from source to target inside the caller's
// transaction. Both rows are locked in ascending id order so two transfers
// over the same pair in opposite directions cannot deadlock. The balance
// check happens under the lock, never before it.
func (rep *AccountsRepository) TransferTX(ctx context.Context, tx pgx.Tx, sourceID, targetID string, amount int64) error {
	rows, err := tx.Query(
		ctx,
		`
			SELECT id, balance, status
			FROM accounts
			WHERE id = ANY($1::uuid[])
			ORDER BY id ASC
			FOR UPDATE
		`,
		[]string{sourceID, targetID},
	)
	if err != nil {
		return fmt.Errorf("accounts_repository: lock accounts error %w", err)
	}
	defer rows.Close()

	locked := map[string]*models.Account{}
	for rows.Next() {
		acc := &models.Account{}
		if err := rows.Scan(&acc.ID, &acc.Balance, &acc.Status); err != nil {
			return fmt.Errorf("accounts_repository: scan locked account error %w", err)
		}

		locked[acc.ID] = acc
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("accounts_repository: iterate locked accounts error %w", err)
	}

	source, ok := locked[sourceID]
	if !ok {
		return fmt.Errorf("accounts_repository: source %s %w", sourceID, models.ErrAccountNotFound)
	}

	target, ok := locked[targetID]
	if !ok {
		return fmt.Errorf("accounts_repository: target %s %w", targetID, models.ErrAccountNotFound)
	}

	if !source.Active() {
		return fmt.Errorf("accounts_repository: source %s %w", sourceID, models.ErrAccountBlocked)
	}

	if !target.Active() {
		return fmt.Errorf("accounts_repository: target %s %w", targetID, models.ErrAccountBlocked)
	}

	if source.Balance < amount {
		return fmt.Errorf("accounts_repository: source %s %w", sourceID, models.ErrInsufficientFunds)
	}

	if err := rep.applyTX(ctx, tx, sourceID, -amount); err != nil {
		return err
	}

	return rep.applyTX(ctx, tx, targetID, amount)
}

func (rep *AccountsRepository) applyTX(ctx context.Context, tx pgx.Tx, accountID string, delta int64) error {
	if _, err := tx.Exec(
		ctx,
		`
			UPDATE accounts
			SET balance = balance + $1, version = version + 1, updated_at = now()
			WHERE id = $2
		`,
		delta, accountID,
	); err != nil {
		return fmt.Errorf("accounts_repository: apply balance delta error %w", err)
	}

	return nil
}

func (rep *AccountsRepository) FindByID(ctx context.Context, accountID string) (*models.Account, error) {
	acc := &models.Account{}
	row := rep.strg.QueryRow(
		ctx,
		`
			SELECT id, balance, version, status, created_at, updated_at
			FROM accounts
			WHERE id = $1
		`,
		accountID,
	)

	if err := row.Scan(&acc.ID, &acc.Balance, &acc.Version, &acc.Status, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("accounts_repository: scan account error %w", err)
	}

	return acc, nil
}

func (rep *AccountsRepository) BeginTX(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return rep.strg.BeginTx(ctx, opts)
}

func (rep *AccountsRepository) CommitTX(ctx context.Context, tx pgx.Tx) error {
	return tx.Commit(ctx)
}

func (rep *AccountsRepository) RollbackTX(ctx context.Context, tx pgx.Tx) error {
	return tx.Rollback(ctx)
}
