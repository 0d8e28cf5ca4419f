package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

// Service is the engine's external contract: the four operations the request
// collaborator calls. Transport and serialization live outside; this layer
// owns admission, deduplication and the synchronous settlement drive.
type Service struct {
	lg           *logging.ZapLogger
	cfg          *Config
	guard        *Guard
	processor    *Processor
	transactions ServiceTransactionsRepository
	accounts     ServiceAccountsRepository
	inbox        ServiceInboxRepository
	audit        ServiceAuditRepository
	cache        ServiceBalanceCache
}

type ServiceTransactionsRepository interface {
	Create(ctx context.Context, in *models.Transaction) error
	FindByUUID(ctx context.Context, uuid string) (*models.Transaction, error)
	SearchByAccountID(ctx context.Context, accountID string, page, perPage int) ([]*models.Transaction, error)
}

type ServiceAccountsRepository interface {
	FindByID(ctx context.Context, accountID string) (*models.Account, error)
}

type ServiceInboxRepository interface {
	RequeueFailedForAccount(ctx context.Context, accountID string) (int64, error)
}

type ServiceAuditRepository interface {
	Create(ctx context.Context, in *models.AuditRecord) error
}

type ServiceBalanceCache interface {
	Get(ctx context.Context, accountID string) (int64, bool, error)
	Set(ctx context.Context, accountID string, balance int64) error
}

type CreateTransactionParams struct {
	IdempotencyKey  string
	SourceAccountID string
	TargetAccountID string
	Amount          int64
	Type            string
	CorrelationID   string
}

type CreateTransactionResult struct {
	TransactionUUID string
	Status          string
	Reason          string
	Duplicate       bool
}

func NewService(
	cfg *Config,
	guard *Guard,
	processor *Processor,
	transactions ServiceTransactionsRepository,
	accounts ServiceAccountsRepository,
	inbox ServiceInboxRepository,
	audit ServiceAuditRepository,
	cache ServiceBalanceCache,
	lg *logging.ZapLogger,
) *Service {
	return &Service{
		lg:           lg,
		cfg:          cfg,
		guard:        guard,
		processor:    processor,
		transactions: transactions,
		accounts:     accounts,
		inbox:        inbox,
		audit:        audit,
		cache:        cache,
	}
}

// CreateTransaction admits a transfer request. Admission (validation plus
// the idempotency reservation) runs under the caller's deadline; once the
// transaction is PENDING it belongs to the engine and is driven to a
// terminal state even if the caller goes away.
func (s *Service) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*CreateTransactionResult, error) {
	t := &models.Transaction{
		UUID:            uuid.NewString(),
		SourceAccountID: params.SourceAccountID,
		TargetAccountID: params.TargetAccountID,
		Amount:          params.Amount,
		Type:            params.Type,
		Status:          models.TransactionStatusPending,
		IdempotencyKey:  params.IdempotencyKey,
		CorrelationID:   params.CorrelationID,
	}

	if t.CorrelationID == "" {
		t.CorrelationID = uuid.NewString()
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	admissionCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.AdmissionTimeout)*time.Millisecond)
	defer cancel()

	admission, err := s.guard.Submit(admissionCtx, params.IdempotencyKey, requestHash(params), t.UUID)
	if err != nil {
		return nil, err
	}

	if admission.Duplicate {
		return s.duplicateResult(admissionCtx, admission.Record)
	}

	if err := s.transactions.Create(admissionCtx, t); err != nil {
		// The reservation stays behind; it expires with the retention
		// window and the client's retry starts over as NEW.
		return nil, fmt.Errorf("settlement/service: admit transaction error %w", err)
	}

	// Detached from the caller: client disconnection must not abandon a
	// transaction the engine already owns.
	result, err := s.processor.Process(context.WithoutCancel(ctx), t.UUID)
	if err != nil {
		s.lg.ErrorCtx(ctx, "synchronous settlement deferred to recovery", zap.Error(err), zap.String("transaction_uuid", t.UUID))

		return &CreateTransactionResult{TransactionUUID: t.UUID, Status: models.TransactionStatusPending}, nil
	}

	return &CreateTransactionResult{
		TransactionUUID: result.TransactionUUID,
		Status:          result.Status,
		Reason:          result.Reason,
	}, nil
}

func (s *Service) duplicateResult(ctx context.Context, record *models.IdempotencyRecord) (*CreateTransactionResult, error) {
	t, err := s.transactions.FindByUUID(ctx, record.TransactionUUID)
	if err != nil {
		return nil, fmt.Errorf("settlement/service: find duplicate transaction error %w", err)
	}

	if t == nil {
		// Reserved but never admitted: the first submission crashed between
		// the reservation and the transaction insert. Report it as pending;
		// the record expires and a later retry starts over.
		return &CreateTransactionResult{
			TransactionUUID: record.TransactionUUID,
			Status:          models.TransactionStatusPending,
			Duplicate:       true,
		}, nil
	}

	return &CreateTransactionResult{
		TransactionUUID: t.UUID,
		Status:          t.Status,
		Reason:          t.Reason,
		Duplicate:       true,
	}, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionUUID string) (*models.Transaction, error) {
	t, err := s.transactions.FindByUUID(ctx, transactionUUID)
	if err != nil {
		return nil, fmt.Errorf("settlement/service: find transaction error %w", err)
	}

	if t == nil {
		return nil, fmt.Errorf("settlement/service: %s %w", transactionUUID, models.ErrTransactionNotFound)
	}

	return t, nil
}

func (s *Service) ListHistory(ctx context.Context, accountID string, page int) ([]*models.Transaction, error) {
	transactions, err := s.transactions.SearchByAccountID(ctx, accountID, page, s.cfg.HistoryPerPage)
	if err != nil {
		return nil, fmt.Errorf("settlement/service: list history error %w", err)
	}

	return transactions, nil
}

// TriggerReconciliation re-injects the account's failed confirmations into
// the reconciliation inbox. The call is accepted immediately; the workers
// pick the events up on their own schedule.
func (s *Service) TriggerReconciliation(ctx context.Context, accountID string) error {
	requeued, err := s.inbox.RequeueFailedForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("settlement/service: trigger reconciliation error %w", err)
	}

	if err := s.audit.Create(ctx, &models.AuditRecord{
		Actor:  "operator",
		Action: models.AuditActionReconciliationTriggered,
		AfterState: &models.AuditState{
			Detail: fmt.Sprintf("account %s, %d events requeued", accountID, requeued),
		},
	}); err != nil {
		return fmt.Errorf("settlement/service: audit reconciliation trigger error %w", err)
	}

	s.lg.InfoCtx(ctx, "reconciliation triggered", zap.String("account_id", accountID), zap.Int64("requeued", requeued))

	return nil
}

// AccountBalance reads through the cache. The cache accelerates reads only;
// settlement never consults it.
func (s *Service) AccountBalance(ctx context.Context, accountID string) (int64, error) {
	if balance, hit, err := s.cache.Get(ctx, accountID); err == nil && hit {
		return balance, nil
	} else if err != nil {
		s.lg.WarnCtx(ctx, "balance cache read failed", zap.Error(err), zap.String("account_id", accountID))
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("settlement/service: find account error %w", err)
	}

	if account == nil {
		return 0, fmt.Errorf("settlement/service: %s %w", accountID, models.ErrAccountNotFound)
	}

	if err := s.cache.Set(ctx, accountID, account.Balance); err != nil {
		s.lg.WarnCtx(ctx, "balance cache write failed", zap.Error(err), zap.String("account_id", accountID))
	}

	return account.Balance, nil
}

func requestHash(params CreateTransactionParams) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf(
		"%s|%s|%d|%s",
		params.SourceAccountID, params.TargetAccountID, params.Amount, params.Type,
	)))

	return hex.EncodeToString(sum[:])
}
