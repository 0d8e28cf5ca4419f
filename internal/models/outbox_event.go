package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	OutboxEventTransactionSettled = "transaction_settled"
	OutboxEventTransactionFailed  = "transaction_failed"
)

// OutboxEvent is written only inside the same transaction as the settlement
// it represents; a row exists if and only if the settlement committed.
type OutboxEvent struct {
	UUID            string
	TransactionUUID string
	EventType       string
	Payload         *SettlementEventPayload
	Published       bool
	PublishedAt     *time.Time
	Attempts        int
	CreatedAt       time.Time
}

type SettlementEventPayload struct {
	TransactionUUID string    `json:"transaction_uuid"`
	SourceAccountID string    `json:"source_account_id"`
	TargetAccountID string    `json:"target_account_id"`
	Amount          int64     `json:"amount"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	CorrelationID   string    `json:"correlation_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func (p *SettlementEventPayload) Scan(value interface{}) error {
	if value == nil {
		*p = SettlementEventPayload{}
		return nil
	}

	switch b := value.(type) {
	case string:
		return json.Unmarshal([]byte(b), p)
	case []byte:
		return json.Unmarshal(b, p)
	default:
		return fmt.Errorf("models/outbox_event: payload invalid format error, expected json")
	}
}

func (p SettlementEventPayload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("models/outbox_event: payload json marshal error %w", err)
	}

	return b, nil
}
