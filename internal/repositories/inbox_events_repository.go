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

var ConfirmationEventName = "settlement_confirmation"

type InboxEventsRepository struct {
	strg InboxEventsStorage
	lg   *logging.ZapLogger
}

type InboxEventsStorage interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func NewInboxEventsRepository(strg *storage.Storage, lg *logging.ZapLogger) *InboxEventsRepository {
	return &InboxEventsRepository{strg: strg.DB, lg: lg}
}

// SaveConfirmation dedups on event uuid, so Kafka redelivery never creates a
// second inbox row.
func (rep *InboxEventsRepository) SaveConfirmation(ctx context.Context, in *models.ConfirmationEvent) error {
	_, err := rep.strg.Exec(
		ctx,
		`
			INSERT INTO inbox_events(uuid, state, name, message)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`,
		in.UUID, in.State, in.Name, in.Meta,
	)

	if err != nil {
		return fmt.Errorf("inbox_events_repository: save event error %w", err)
	}

	return nil
}

// ReserveConfirmationEvent claims the oldest new confirmation with
// FOR UPDATE SKIP LOCKED, flips it to processing and returns it; nil when
// the inbox is drained.
func (rep *InboxEventsRepository) ReserveConfirmationEvent(ctx context.Context) (*models.ConfirmationEvent, error) {
	tx, err := rep.strg.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("inbox_events_repository: create tx error %w", err)
	}
	defer tx.Rollback(ctx)

	e := &models.ConfirmationEvent{Name: ConfirmationEventName, Meta: &models.ConfirmationEventMeta{}}
	row := tx.QueryRow(
		ctx,
		`
			SELECT uuid, message, attempts
			FROM inbox_events
			WHERE name = $1 AND state = $2
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`,
		ConfirmationEventName, models.InboxEventNewState)

	if err := row.Scan(&e.UUID, e.Meta, &e.Attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("inbox_events_repository: scan attributes error %w", err)
	}

	if err := rep.setStateTX(ctx, e.UUID, models.InboxEventProcessingState, tx); err != nil {
		return nil, fmt.Errorf("inbox_events_repository: set new state error %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("inbox_events_repository: commit tx error %w", err)
	}

	return e, nil
}

func (rep *InboxEventsRepository) SetState(ctx context.Context, uuid string, newState string) error {
	tx, err := rep.strg.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("inbox_events_repository: create tx error %w", err)
	}
	defer tx.Rollback(ctx)

	if err := rep.setStateTX(ctx, uuid, newState, tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (rep *InboxEventsRepository) setStateTX(ctx context.Context, uuid string, newState string, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx,
		`
			UPDATE inbox_events
			SET state = $1
			WHERE uuid = $2
		`,
		newState, uuid); err != nil {
		return fmt.Errorf("inbox_events_repository: set state error %w", err)
	}

	return nil
}

// RegisterFailure bumps the attempt counter, appends the error to the
// event's failure history and puts the event back in line. Returns the new
// attempt count and the accumulated history so the caller can apply its
// retry budget and hand the complete record to the dead-letter store.
func (rep *InboxEventsRepository) RegisterFailure(ctx context.Context, uuid string, cause string) (int, models.FailureHistory, error) {
	row := rep.strg.QueryRow(
		ctx,
		`
			UPDATE inbox_events
			SET attempts = attempts + 1,
				last_error = $1,
				state = $2,
				failure_history = failure_history || jsonb_build_array(
					jsonb_build_object('attempt', attempts + 1, 'error', $1::text, 'occurred_at', to_jsonb(now()))
				)
			WHERE uuid = $3
			RETURNING attempts, failure_history
		`,
		cause, models.InboxEventNewState, uuid,
	)

	var attempts int
	history := models.FailureHistory{}
	if err := row.Scan(&attempts, &history); err != nil {
		return 0, nil, fmt.Errorf("inbox_events_repository: register failure error %w", err)
	}

	return attempts, history, nil
}

// Requeue resets the event for another full round of attempts, used by the
// dead-letter replay and by operator-triggered reconciliation.
func (rep *InboxEventsRepository) Requeue(ctx context.Context, uuid string) error {
	if _, err := rep.strg.Exec(
		ctx,
		`
			UPDATE inbox_events
			SET state = $1, attempts = 0, last_error = ''
			WHERE uuid = $2
		`,
		models.InboxEventNewState, uuid,
	); err != nil {
		return fmt.Errorf("inbox_events_repository: requeue event error %w", err)
	}

	return nil
}

// RequeueFailedForAccount re-injects every failed confirmation touching the
// account, matched against the stored message payload.
func (rep *InboxEventsRepository) RequeueFailedForAccount(ctx context.Context, accountID string) (int64, error) {
	tag, err := rep.strg.Exec(
		ctx,
		`
			UPDATE inbox_events
			SET state = $1, attempts = 0, last_error = ''
			WHERE name = $2 AND state = $3 AND message->>'source_account_id' = $4
		`,
		models.InboxEventNewState, ConfirmationEventName, models.InboxEventFailedState, accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("inbox_events_repository: requeue failed events error %w", err)
	}

	return tag.RowsAffected(), nil
}
