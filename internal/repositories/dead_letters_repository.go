package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"github.com/vysogota0399/settlement_engine/internal/storage"
)

type DeadLettersRepository struct {
	strg DeadLettersStorage
	lg   *logging.ZapLogger
}

type DeadLettersStorage interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func NewDeadLettersRepository(strg *storage.Storage, lg *logging.ZapLogger) *DeadLettersRepository {
	return &DeadLettersRepository{strg: strg.DB, lg: lg}
}

func (rep *DeadLettersRepository) Create(ctx context.Context, in *models.DeadLetter) error {
	if _, err := rep.strg.Exec(
		ctx,
		`
			INSERT INTO dead_letters(uuid, source, message, failure_history)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`,
		in.UUID, in.Source, in.Message, in.FailureHistory,
	); err != nil {
		return fmt.Errorf("dead_letters_repository: create record error %w", err)
	}

	return nil
}

func (rep *DeadLettersRepository) Find(ctx context.Context, uuid string) (*models.DeadLetter, error) {
	dl := &models.DeadLetter{}
	var replayedAt *time.Time

	row := rep.strg.QueryRow(
		ctx,
		`
			SELECT uuid, source, message, failure_history, created_at, replayed_at
			FROM dead_letters
			WHERE uuid = $1
		`,
		uuid,
	)

	if err := row.Scan(&dl.UUID, &dl.Source, &dl.Message, &dl.FailureHistory, &dl.CreatedAt, &replayedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("dead_letters_repository: scan record error %w", err)
	}

	dl.ReplayedAt = replayedAt
	return dl, nil
}

func (rep *DeadLettersRepository) MarkReplayed(ctx context.Context, uuid string, replayedAt time.Time) error {
	if _, err := rep.strg.Exec(
		ctx,
		`UPDATE dead_letters SET replayed_at = $1 WHERE uuid = $2`,
		replayedAt, uuid,
	); err != nil {
		return fmt.Errorf("dead_letters_repository: mark replayed error %w", err)
	}

	return nil
}
