package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	AuditActionTransactionSettled      = "transaction_settled"
	AuditActionTransactionFailed       = "transaction_failed"
	AuditActionTransactionRecovered    = "transaction_recovered"
	AuditActionConfirmationApplied     = "confirmation_applied"
	AuditActionReconciliationConflict  = "reconciliation_conflict"
	AuditActionReconciliationTriggered = "reconciliation_triggered"
	AuditActionDeadLetterReplayed      = "dead_letter_replayed"
)

// AuditRecord rows are append-only facts, never updated or deleted.
type AuditRecord struct {
	ID              int64
	Actor           string
	Action          string
	TransactionUUID string
	BeforeState     *AuditState
	AfterState      *AuditState
	CorrelationID   string
	CreatedAt       time.Time
}

type AuditState struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

func (s *AuditState) Scan(value interface{}) error {
	if value == nil {
		*s = AuditState{}
		return nil
	}

	switch b := value.(type) {
	case string:
		return json.Unmarshal([]byte(b), s)
	case []byte:
		return json.Unmarshal(b, s)
	default:
		return fmt.Errorf("models/audit_record: state invalid format error, expected json")
	}
}

func (s AuditState) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("models/audit_record: state json marshal error %w", err)
	}

	return b, nil
}
