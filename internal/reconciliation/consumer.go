package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"github.com/vysogota0399/settlement_engine/internal/repositories"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Consumer lands external confirmations in the inbox. The inbox insert
// dedups on event uuid, so the reader's at-least-once delivery is safe.
type Consumer struct {
	lg        *logging.ZapLogger
	reader    *kafka.Reader
	events    ConsumerInboxEventsRepository
	cancaller context.CancelFunc
	globalCtx context.Context
}

type ConsumerInboxEventsRepository interface {
	SaveConfirmation(ctx context.Context, in *models.ConfirmationEvent) error
}

// ConfirmationMessage is the reconciliation.confirmations wire format.
type ConfirmationMessage struct {
	EventUUID       string `json:"event_uuid"`
	TransactionUUID string `json:"transaction_uuid"`
	SourceAccountID string `json:"source_account_id"`
	Status          string `json:"status"`
	ExternalRef     string `json:"external_ref"`
	ConfirmedAt     string `json:"confirmed_at"`
}

func NewConsumer(
	lc fx.Lifecycle,
	lg *logging.ZapLogger,
	cfg *Config,
	globalCFG *config.Config,
	errLogger *logging.KafkaErrorLogger,
	logger *logging.KafkaLogger,
	events ConsumerInboxEventsRepository,
) *Consumer {
	lg.DebugCtx(context.Background(), "start confirmations consumer", zap.String("consumer_group", cfg.KafkaConfirmationsGroupID), zap.Any("config", cfg))

	r := kafka.NewReader(kafka.ReaderConfig{
		GroupID:                cfg.KafkaConfirmationsGroupID,
		PartitionWatchInterval: time.Duration(cfg.KafkaConfirmationsPartitionWatchInterval) * time.Millisecond,
		Brokers:                globalCFG.KafkaBrokers,
		Topic:                  globalCFG.KafkaConfirmationsTopic,
		MinBytes:               10e2, // 1KB
		MaxBytes:               10e6, // 10MB
		ErrorLogger:            errLogger,
		MaxWait:                time.Duration(cfg.KafkaConfirmationsMaxWaitInterval) * time.Millisecond,
		Logger:                 logger,
	})

	cns := &Consumer{
		lg:     lg,
		reader: r,
		events: events,
	}

	lc.Append(
		fx.Hook{
			OnStart: func(ctx context.Context) error {
				gctx, cancel := context.WithCancel(context.Background())
				cns.globalCtx = gctx
				cns.cancaller = cancel

				go cns.consume()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				// Cancel first so the fetch loop stops before the reader
				// goes away, instead of spinning on a closed reader.
				if cns.cancaller != nil {
					cns.cancaller()
				}

				return cns.reader.Close()
			},
		},
	)

	return cns
}

func (cns *Consumer) consume() {
	for {
		select {
		case <-cns.globalCtx.Done():
			cns.lg.DebugCtx(cns.globalCtx, "consumer graceful shutdown")
			return
		default:
			if err := cns.processMessage(cns.globalCtx); err != nil {
				cns.lg.ErrorCtx(cns.globalCtx, "reconciliation/consumer: fetch message error", zap.Error(err))
			}
		}
	}
}

func (cns *Consumer) processMessage(ctx context.Context) error {
	m, err := cns.reader.FetchMessage(cns.globalCtx)
	if err != nil {
		return fmt.Errorf("reconciliation/consumer: fetch message error %w", err)
	}

	payload := ConfirmationMessage{}
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		return fmt.Errorf("reconciliation/consumer: unmarshal message error %w", err)
	}

	cns.lg.InfoCtx(ctx, "consumed confirmation", zap.Any("message", &payload))

	confirmedAt, err := time.Parse(time.RFC3339Nano, payload.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("reconciliation/consumer: parse confirmed_at error %w", err)
	}

	if err := cns.events.SaveConfirmation(
		ctx,
		&models.ConfirmationEvent{
			UUID:  payload.EventUUID,
			State: models.InboxEventNewState,
			Name:  repositories.ConfirmationEventName,
			Meta: &models.ConfirmationEventMeta{
				TransactionUUID: payload.TransactionUUID,
				SourceAccountID: payload.SourceAccountID,
				ExternalStatus:  payload.Status,
				ExternalRef:     payload.ExternalRef,
				ConfirmedAt:     confirmedAt,
			},
		},
	); err != nil {
		return fmt.Errorf("reconciliation/consumer: save message error %w", err)
	}

	if err := cns.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("reconciliation/consumer: failed to commit messages %w", err)
	}

	return nil
}
