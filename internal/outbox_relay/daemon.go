package outbox_relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

// Daemon relays outbox rows to the message bus at least once. A row is
// marked published only after the broker acknowledged the write; publish
// failures bump the attempt counter and leave the row visible for alerting,
// never dropped.
type Daemon struct {
	lg           *logging.ZapLogger
	cfg          *Config
	pollInterval time.Duration
	workersCount int64
	outbox       OutboxRepository
	publisher    EventPublisher

	cancaller context.CancelFunc
	globalCtx context.Context
}

type OutboxRepository interface {
	BeginTX(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	CommitTX(ctx context.Context, tx pgx.Tx) error
	RollbackTX(ctx context.Context, tx pgx.Tx) error
	UnpublishedBatchTX(ctx context.Context, tx pgx.Tx, limit int) ([]*models.OutboxEvent, error)
	MarkPublishedTX(ctx context.Context, tx pgx.Tx, uuid string, publishedAt time.Time) error
	IncrementAttemptsTX(ctx context.Context, tx pgx.Tx, uuid string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type RelayMessage struct {
	TransactionUUID string                         `json:"transaction_uuid"`
	EventType       string                         `json:"event_type"`
	Payload         *models.SettlementEventPayload `json:"payload"`
	EmittedAt       time.Time                      `json:"emitted_at"`
	Attempt         int                            `json:"attempt"`
}

func NewDaemon(
	lc fx.Lifecycle,
	cfg *Config,
	outbox OutboxRepository,
	publisher EventPublisher,
	lg *logging.ZapLogger,
) *Daemon {
	dmn := &Daemon{
		lg:           lg,
		cfg:          cfg,
		pollInterval: time.Duration(cfg.PollInterval) * time.Millisecond,
		workersCount: cfg.WorkersCount,
		outbox:       outbox,
		publisher:    publisher,
	}

	lc.Append(
		fx.Hook{
			OnStart: func(ctx context.Context) error {
				dmn.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				dmn.cancaller()
				return nil
			},
		},
	)

	return dmn
}

func (dmn *Daemon) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	dmn.cancaller = cancel
	dmn.globalCtx = dmn.lg.WithContextFields(ctx, zap.String("name", "outbox_relay_daemon"))

	dmn.lg.DebugCtx(dmn.globalCtx, "start relaying outbox events", zap.Any("config", dmn.cfg))

	for i := 0; i < int(dmn.workersCount); i++ {
		wctx := dmn.lg.WithContextFields(dmn.globalCtx, zap.Int("worker_id", i))
		go func() {
			ticker := time.NewTicker(dmn.pollInterval)

			for {
				select {
				case <-wctx.Done():
					dmn.lg.DebugCtx(wctx, "relay worker graceful shutdown")
					return
				case <-ticker.C:
					if err := dmn.processBatch(wctx); err != nil {
						dmn.lg.ErrorCtx(wctx, "relay batch error", zap.Error(err))
					}
				}
			}
		}()
	}
}

func (dmn *Daemon) processBatch(ctx context.Context) error {
	tx, err := dmn.outbox.BeginTX(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("outbox_relay: create tx error %w", err)
	}
	defer dmn.outbox.RollbackTX(ctx, tx)

	events, err := dmn.outbox.UnpublishedBatchTX(ctx, tx, dmn.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("outbox_relay: reserve batch error %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if err := dmn.publish(ctx, e); err != nil {
			dmn.lg.ErrorCtx(ctx, "publish event exhausted retries",
				zap.Error(err),
				zap.String("event_uuid", e.UUID),
				zap.String("transaction_uuid", e.TransactionUUID),
				zap.Int("attempts", e.Attempts+1),
			)

			if err := dmn.outbox.IncrementAttemptsTX(ctx, tx, e.UUID); err != nil {
				return fmt.Errorf("outbox_relay: increment attempts error %w", err)
			}

			continue
		}

		if err := dmn.outbox.MarkPublishedTX(ctx, tx, e.UUID, time.Now()); err != nil {
			return fmt.Errorf("outbox_relay: mark published error %w", err)
		}

		dmn.lg.InfoCtx(ctx, "relayed settlement event",
			zap.String("event_uuid", e.UUID),
			zap.String("transaction_uuid", e.TransactionUUID),
			zap.String("event_type", e.EventType),
		)
	}

	return dmn.outbox.CommitTX(ctx, tx)
}

func (dmn *Daemon) publish(ctx context.Context, e *models.OutboxEvent) error {
	value, err := json.Marshal(&RelayMessage{
		TransactionUUID: e.TransactionUUID,
		EventType:       e.EventType,
		Payload:         e.Payload,
		EmittedAt:       time.Now().UTC(),
		Attempt:         e.Attempts + 1,
	})
	if err != nil {
		return fmt.Errorf("outbox_relay: marshal message error %w", err)
	}

	backoff := retry.WithMaxRetries(
		uint64(dmn.cfg.PublishAttempts),
		retry.WithCappedDuration(
			time.Duration(dmn.cfg.BackoffCap)*time.Millisecond,
			retry.NewExponential(time.Duration(dmn.cfg.BackoffBase)*time.Millisecond),
		),
	)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := dmn.publisher.Publish(ctx, e.TransactionUUID, value); err != nil {
			return retry.RetryableError(fmt.Errorf("outbox_relay: publish error %w", err))
		}

		return nil
	})
}
