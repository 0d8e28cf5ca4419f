package models

import "time"

const (
	IdempotencyStatusPending = "PENDING"
	IdempotencyStatusDone    = "DONE"
)

// IdempotencyRecord is a pure lookup keyed off client input. A record past
// ExpiresAt is treated as absent: an expired duplicate starts over as NEW.
type IdempotencyRecord struct {
	Key             string
	RequestHash     string
	TransactionUUID string
	Status          string
	ResultStatus    string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
