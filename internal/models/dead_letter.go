package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetter holds a message that exhausted its retry budget, with the full
// failure history. Rows are replayable on operator demand and never dropped.
type DeadLetter struct {
	UUID           string
	Source         string
	Message        json.RawMessage
	FailureHistory FailureHistory
	CreatedAt      time.Time
	ReplayedAt     *time.Time
}

type FailureAttempt struct {
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

type FailureHistory []FailureAttempt

func (h *FailureHistory) Scan(value interface{}) error {
	if value == nil {
		*h = FailureHistory{}
		return nil
	}

	switch b := value.(type) {
	case string:
		return json.Unmarshal([]byte(b), h)
	case []byte:
		return json.Unmarshal(b, h)
	default:
		return fmt.Errorf("models/dead_letter: failure history invalid format error, expected json")
	}
}

func (h FailureHistory) Value() (driver.Value, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("models/dead_letter: failure history json marshal error %w", err)
	}

	return b, nil
}
