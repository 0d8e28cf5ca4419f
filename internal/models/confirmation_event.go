package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	InboxEventNewState        = "new"
	InboxEventProcessingState = "processing"
	InboxEventFinishedState   = "finished"
	InboxEventFailedState     = "failed"
	InboxEventDeadState       = "dead"
)

const (
	ConfirmationStatusSettled = "settled"
	ConfirmationStatusFailed  = "failed"
)

// ConfirmationEvent is an external settlement confirmation landed in the
// inbox. Redelivery is harmless: the insert dedups on event uuid.
type ConfirmationEvent struct {
	UUID      string
	State     string
	Name      string
	Attempts  int
	LastError string
	Meta      *ConfirmationEventMeta
}

type ConfirmationEventMeta struct {
	TransactionUUID string    `json:"transaction_uuid"`
	SourceAccountID string    `json:"source_account_id"`
	ExternalStatus  string    `json:"external_status"`
	ExternalRef     string    `json:"external_ref"`
	ConfirmedAt     time.Time `json:"confirmed_at"`
}

func (m *ConfirmationEventMeta) Scan(value interface{}) error {
	if value == nil {
		*m = ConfirmationEventMeta{}
		return nil
	}

	switch b := value.(type) {
	case string:
		return json.Unmarshal([]byte(b), m)
	case []byte:
		return json.Unmarshal(b, m)
	default:
		return fmt.Errorf("models/confirmation_event: meta invalid format error, expected json")
	}
}

func (m ConfirmationEventMeta) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("models/confirmation_event: meta json marshal error %w", err)
	}

	return b, nil
}
