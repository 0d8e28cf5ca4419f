package models

import "time"

const (
	AccountStatusActive  = "ACTIVE"
	AccountStatusBlocked = "BLOCKED"
)

// Account balances are integer minor units. Version bumps on every committed
// mutation; the row is mutated only through AccountsRepository.TransferTX.
type Account struct {
	ID        string
	Balance   int64
	Version   int64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Account) Active() bool {
	return a.Status == AccountStatusActive
}
