package models

import "time"

// TransactionLimit rows are versioned reference data: a change inserts a new
// row with a fresh version and closes the previous effective window, never
// mutating a row in use.
type TransactionLimit struct {
	ID                int64
	Type              string
	PerOperationLimit int64
	DailyLimit        int64
	Version           int64
	EffectiveFrom     time.Time
	EffectiveTo       *time.Time
}
