package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no wallet exists for the given identifier.
	ErrNotFound = errors.New("wallet not found")

	// ErrUserTaken indicates the user already owns a wallet.
	ErrUserTaken = errors.New("user already has a wallet")

	// ErrInvalidInput wraps validation failures on wallet input.
	ErrInvalidInput = errors.New("invalid wallet input")
)

// Wallet holds a user's balance in the base currency. The balance is only
// changed by the ledger inside a unit of work and never goes negative.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot is the view of a wallet returned alongside ledger results.
type Snapshot struct {
	ID      string          `json:"id"`
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Snapshot returns the identifying fields and balance of w.
func (w Wallet) Snapshot() Snapshot {
	return Snapshot{ID: w.ID, UserID: w.UserID, Balance: w.Balance}
}
