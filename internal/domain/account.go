package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountBanned    AccountStatus = "banned"
)

// Valid reports whether s is a known account status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountSuspended, AccountBanned:
		return true
	}
	return false
}

// Account holds the authoritative balance for a player, in minor units.
type Account struct {
	ID        uuid.UUID     `json:"id"`
	Balance   int64         `json:"balance"`
	Currency  string        `json:"currency"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsActive reports whether the account may wager and transact.
func (a *Account) IsActive() bool { return a.Status == AccountActive }
