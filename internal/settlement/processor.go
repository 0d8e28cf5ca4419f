package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

const actorSettlement = "settlement_engine"

// Processor drives a transaction through
// PENDING -> PROCESSING -> {SETTLED, FAILED}. The ledger mutation, the
// status flip, the outbox row, the idempotency completion and the audit
// entry share one transaction: all five commit or none do.
type Processor struct {
	lg           *logging.ZapLogger
	cfg          *Config
	accounts     ProcessorAccountsRepository
	transactions ProcessorTransactionsRepository
	outbox       ProcessorOutboxRepository
	idempotency  ProcessorIdempotencyRepository
	audit        ProcessorAuditRepository
	limits       *LimitChecker
	cache        BalanceInvalidator
}

type ProcessorAccountsRepository interface {
	BeginTX(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	CommitTX(ctx context.Context, tx pgx.Tx) error
	RollbackTX(ctx context.Context, tx pgx.Tx) error
	TransferTX(ctx context.Context, tx pgx.Tx, sourceID, targetID string, amount int64) error
}

type ProcessorTransactionsRepository interface {
	FindByUUID(ctx context.Context, uuid string) (*models.Transaction, error)
	SetStatus(ctx context.Context, uuid, status, reason string) (bool, error)
	SetStatusTX(ctx context.Context, tx pgx.Tx, uuid, status, reason string) (bool, error)
}

type ProcessorOutboxRepository interface {
	CreateTX(ctx context.Context, tx pgx.Tx, in *models.OutboxEvent) error
	ExistsForTransaction(ctx context.Context, transactionUUID, eventType string) (bool, error)
}

type ProcessorIdempotencyRepository interface {
	CompleteTX(ctx context.Context, tx pgx.Tx, key, resultStatus string) error
}

type ProcessorAuditRepository interface {
	CreateTX(ctx context.Context, tx pgx.Tx, in *models.AuditRecord) error
	HasAction(ctx context.Context, transactionUUID, action string) (bool, error)
}

type BalanceInvalidator interface {
	Invalidate(ctx context.Context, accountIDs ...string)
}

type SettlementResult struct {
	TransactionUUID string
	Status          string
	Reason          string
}

func NewProcessor(
	cfg *Config,
	accounts ProcessorAccountsRepository,
	transactions ProcessorTransactionsRepository,
	outbox ProcessorOutboxRepository,
	idempotency ProcessorIdempotencyRepository,
	audit ProcessorAuditRepository,
	limits *LimitChecker,
	cache BalanceInvalidator,
	lg *logging.ZapLogger,
) *Processor {
	return &Processor{
		lg:           lg,
		cfg:          cfg,
		accounts:     accounts,
		transactions: transactions,
		outbox:       outbox,
		idempotency:  idempotency,
		audit:        audit,
		limits:       limits,
		cache:        cache,
	}
}

// Process drives the transaction to a terminal state. Re-processing a
// terminal transaction returns its recorded result, so retries and the
// recovery sweep are idempotent.
func (p *Processor) Process(ctx context.Context, transactionUUID string) (*SettlementResult, error) {
	t, err := p.transactions.FindByUUID(ctx, transactionUUID)
	if err != nil {
		return nil, fmt.Errorf("settlement/processor: find transaction error %w", err)
	}

	if t == nil {
		return nil, fmt.Errorf("settlement/processor: %s %w", transactionUUID, models.ErrTransactionNotFound)
	}

	if t.Terminal() {
		return resultOf(t), nil
	}

	ctx = p.lg.WithContextFields(ctx,
		zap.String("transaction_uuid", t.UUID),
		zap.String("correlation_id", t.CorrelationID),
	)

	// Per-operation ceiling is deterministic reference data; a breach fails
	// the transaction before any state advances.
	if err := p.limits.CheckOperation(ctx, t.Type, t.Amount, time.Now()); err != nil {
		if errors.Is(err, models.ErrLimitDenied) {
			return p.fail(ctx, t, err)
		}

		return nil, err
	}

	if t.Status == models.TransactionStatusPending {
		moved, err := p.transactions.SetStatus(ctx, t.UUID, models.TransactionStatusProcessing, "")
		if err != nil {
			return nil, fmt.Errorf("settlement/processor: move to processing error %w", err)
		}

		if !moved {
			return p.currentResult(ctx, t.UUID)
		}

		t.Status = models.TransactionStatusProcessing
	}

	var result *SettlementResult
	backoff := retry.WithMaxRetries(
		uint64(p.cfg.TransientRetryAttempts),
		retry.NewExponential(time.Duration(p.cfg.TransientRetryBase)*time.Millisecond),
	)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, serr := p.settleOnce(ctx, t)
		if serr != nil {
			p.lg.WarnCtx(ctx, "settlement attempt failed, retrying", zap.Error(serr))
			return retry.RetryableError(serr)
		}

		result = res
		return nil
	})
	if err != nil {
		// The transaction stays PROCESSING; the recovery sweep owns it now.
		return nil, fmt.Errorf("settlement/processor: settle error %w", err)
	}

	return result, nil
}

func (p *Processor) settleOnce(ctx context.Context, t *models.Transaction) (*SettlementResult, error) {
	tx, err := p.accounts.BeginTX(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("settlement/processor: create tx error %w", err)
	}
	defer p.accounts.RollbackTX(ctx, tx)

	if err := p.limits.CheckDailyTX(ctx, tx, t, time.Now()); err != nil {
		if errors.Is(err, models.ErrLimitDenied) {
			p.accounts.RollbackTX(ctx, tx)
			return p.fail(ctx, t, err)
		}

		return nil, err
	}

	if err := p.accounts.TransferTX(ctx, tx, t.SourceAccountID, t.TargetAccountID, t.Amount); err != nil {
		if models.BusinessRejection(err) {
			p.accounts.RollbackTX(ctx, tx)
			return p.fail(ctx, t, err)
		}

		return nil, err
	}

	moved, err := p.transactions.SetStatusTX(ctx, tx, t.UUID, models.TransactionStatusSettled, "")
	if err != nil {
		return nil, err
	}

	if !moved {
		p.accounts.RollbackTX(ctx, tx)
		return p.currentResult(ctx, t.UUID)
	}

	if err := p.outbox.CreateTX(ctx, tx, p.outboxEvent(t, models.TransactionStatusSettled, "")); err != nil {
		return nil, err
	}

	if err := p.idempotency.CompleteTX(ctx, tx, t.IdempotencyKey, models.TransactionStatusSettled); err != nil {
		return nil, err
	}

	if err := p.audit.CreateTX(ctx, tx, &models.AuditRecord{
		Actor:           actorSettlement,
		Action:          models.AuditActionTransactionSettled,
		TransactionUUID: t.UUID,
		BeforeState:     &models.AuditState{Status: models.TransactionStatusProcessing},
		AfterState:      &models.AuditState{Status: models.TransactionStatusSettled},
		CorrelationID:   t.CorrelationID,
	}); err != nil {
		return nil, err
	}

	if err := p.accounts.CommitTX(ctx, tx); err != nil {
		return nil, fmt.Errorf("settlement/processor: commit tx error %w", err)
	}

	p.cache.Invalidate(ctx, t.SourceAccountID, t.TargetAccountID)

	p.lg.InfoCtx(ctx, "transaction settled",
		zap.String("source_account_id", t.SourceAccountID),
		zap.String("target_account_id", t.TargetAccountID),
		zap.Int64("amount", t.Amount),
	)

	return &SettlementResult{TransactionUUID: t.UUID, Status: models.TransactionStatusSettled}, nil
}

// fail settles the transaction as FAILED without any ledger mutation. The
// status flip, the failure outbox event, the idempotency completion and the
// audit entry still share one transaction.
func (p *Processor) fail(ctx context.Context, t *models.Transaction, cause error) (*SettlementResult, error) {
	reason := failureReason(cause)

	tx, err := p.accounts.BeginTX(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("settlement/processor: create tx error %w", err)
	}
	defer p.accounts.RollbackTX(ctx, tx)

	moved, err := p.transactions.SetStatusTX(ctx, tx, t.UUID, models.TransactionStatusFailed, reason)
	if err != nil {
		return nil, err
	}

	if !moved {
		p.accounts.RollbackTX(ctx, tx)
		return p.currentResult(ctx, t.UUID)
	}

	if err := p.outbox.CreateTX(ctx, tx, p.outboxEvent(t, models.TransactionStatusFailed, reason)); err != nil {
		return nil, err
	}

	if err := p.idempotency.CompleteTX(ctx, tx, t.IdempotencyKey, models.TransactionStatusFailed); err != nil {
		return nil, err
	}

	if err := p.audit.CreateTX(ctx, tx, &models.AuditRecord{
		Actor:           actorSettlement,
		Action:          models.AuditActionTransactionFailed,
		TransactionUUID: t.UUID,
		BeforeState:     &models.AuditState{Status: t.Status},
		AfterState:      &models.AuditState{Status: models.TransactionStatusFailed, Reason: reason},
		CorrelationID:   t.CorrelationID,
	}); err != nil {
		return nil, err
	}

	if err := p.accounts.CommitTX(ctx, tx); err != nil {
		return nil, fmt.Errorf("settlement/processor: commit tx error %w", err)
	}

	p.lg.InfoCtx(ctx, "transaction failed", zap.String("reason", reason))

	return &SettlementResult{TransactionUUID: t.UUID, Status: models.TransactionStatusFailed, Reason: reason}, nil
}

// Recover resolves a transaction stuck in PROCESSING past the timeout. The
// outbox row and the audit entry commit atomically with the ledger
// mutation, so either proves the mutation committed; with neither present
// the mutation is not visible and the transaction fails. Either path is
// safe to repeat.
func (p *Processor) Recover(ctx context.Context, t *models.Transaction) (*SettlementResult, error) {
	ctx = p.lg.WithContextFields(ctx, zap.String("transaction_uuid", t.UUID))

	settled, err := p.outbox.ExistsForTransaction(ctx, t.UUID, models.OutboxEventTransactionSettled)
	if err != nil {
		return nil, err
	}

	if !settled {
		settled, err = p.audit.HasAction(ctx, t.UUID, models.AuditActionTransactionSettled)
		if err != nil {
			return nil, err
		}
	}

	if !settled {
		p.lg.InfoCtx(ctx, "recovering stuck transaction as failed")
		return p.fail(ctx, t, fmt.Errorf("processing timeout exceeded %w", models.ErrTransientStore))
	}

	tx, err := p.accounts.BeginTX(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("settlement/processor: create tx error %w", err)
	}
	defer p.accounts.RollbackTX(ctx, tx)

	moved, err := p.transactions.SetStatusTX(ctx, tx, t.UUID, models.TransactionStatusSettled, "")
	if err != nil {
		return nil, err
	}

	// Already terminal: a concurrent sweep (or the settle path itself) got
	// here first and wrote the outbox row, the completion and the audit
	// entry; repeating them would duplicate the recovery record.
	if !moved {
		p.accounts.RollbackTX(ctx, tx)
		return p.currentResult(ctx, t.UUID)
	}

	// Rewrite is a no-op when the row survived: CreateTX dedups per
	// (transaction, event type).
	if err := p.outbox.CreateTX(ctx, tx, p.outboxEvent(t, models.TransactionStatusSettled, "")); err != nil {
		return nil, err
	}

	if err := p.idempotency.CompleteTX(ctx, tx, t.IdempotencyKey, models.TransactionStatusSettled); err != nil {
		return nil, err
	}

	if err := p.audit.CreateTX(ctx, tx, &models.AuditRecord{
		Actor:           actorSettlement,
		Action:          models.AuditActionTransactionRecovered,
		TransactionUUID: t.UUID,
		BeforeState:     &models.AuditState{Status: models.TransactionStatusProcessing},
		AfterState:      &models.AuditState{Status: models.TransactionStatusSettled},
		CorrelationID:   t.CorrelationID,
	}); err != nil {
		return nil, err
	}

	if err := p.accounts.CommitTX(ctx, tx); err != nil {
		return nil, fmt.Errorf("settlement/processor: commit tx error %w", err)
	}

	p.lg.InfoCtx(ctx, "recovered stuck transaction as settled")

	return &SettlementResult{TransactionUUID: t.UUID, Status: models.TransactionStatusSettled}, nil
}

func (p *Processor) currentResult(ctx context.Context, transactionUUID string) (*SettlementResult, error) {
	t, err := p.transactions.FindByUUID(ctx, transactionUUID)
	if err != nil {
		return nil, fmt.Errorf("settlement/processor: find transaction error %w", err)
	}

	if t == nil {
		return nil, fmt.Errorf("settlement/processor: %s %w", transactionUUID, models.ErrTransactionNotFound)
	}

	return resultOf(t), nil
}

func (p *Processor) outboxEvent(t *models.Transaction, status, reason string) *models.OutboxEvent {
	eventType := models.OutboxEventTransactionSettled
	if status == models.TransactionStatusFailed {
		eventType = models.OutboxEventTransactionFailed
	}

	return &models.OutboxEvent{
		UUID:            uuid.NewString(),
		TransactionUUID: t.UUID,
		EventType:       eventType,
		Payload: &models.SettlementEventPayload{
			TransactionUUID: t.UUID,
			SourceAccountID: t.SourceAccountID,
			TargetAccountID: t.TargetAccountID,
			Amount:          t.Amount,
			Type:            t.Type,
			Status:          status,
			Reason:          reason,
			CorrelationID:   t.CorrelationID,
			OccurredAt:      time.Now().UTC(),
		},
	}
}

func resultOf(t *models.Transaction) *SettlementResult {
	return &SettlementResult{TransactionUUID: t.UUID, Status: t.Status, Reason: t.Reason}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, models.ErrAccountBlocked):
		return "account_blocked"
	case errors.Is(err, models.ErrLimitDenied):
		return "limit_denied"
	case errors.Is(err, models.ErrTransientStore):
		return "processing_timeout"
	default:
		return "rejected"
	}
}
