package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nile-pay/nile_pay/internal/currency"
	"github.com/nile-pay/nile_pay/internal/uow"
	"github.com/nile-pay/nile_pay/internal/wallet"
)

var (
	// ErrInsufficientFunds occurs when a withdrawal exceeds the wallet balance
	// once converted to the base currency.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the external transaction key was
	// already recorded. Nothing is changed.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrInvalidRequest wraps malformed transaction requests.
	ErrInvalidRequest = errors.New("invalid transaction request")

	// ErrWalletNotFound is returned when the target wallet does not exist.
	ErrWalletNotFound = wallet.ErrNotFound

	// ErrUnsupportedCurrency is returned when the currency has no rate.
	ErrUnsupportedCurrency = currency.ErrUnsupportedCurrency

	// ErrStoreFailure classifies persistence failures inside a unit of work.
	ErrStoreFailure = uow.ErrStoreFailure
)

// Type is the direction of a transaction.
type Type string

const (
	Deposit    Type = "deposit"
	Withdrawal Type = "withdrawal"
)

// ParseType normalises s into a known transaction type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case Deposit, Withdrawal:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, s)
	}
}

// Transaction is an immutable ledger record. Amount and Currency are kept as
// submitted; the wallet balance moved by the converted amount.
type Transaction struct {
	ID         string
	ExternalID string
	WalletID   string
	Type       Type
	Amount     decimal.Decimal
	Currency   currency.Code
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Request asks the processor to apply one transaction to a wallet.
type Request struct {
	WalletID   string
	ExternalID string
	Type       Type
	Amount     decimal.Decimal
	Currency   currency.Code
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.WalletID) == "":
		return fmt.Errorf("%w: wallet id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.ExternalID) == "":
		return fmt.Errorf("%w: transaction id is required", ErrInvalidRequest)
	case r.Type != Deposit && r.Type != Withdrawal:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, r.Type)
	case r.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidRequest)
	}
	if err := currency.CheckMoney(r.Amount); err != nil {
		return fmt.Errorf("%w: amount: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Result is the committed transaction and the wallet as it stood after it.
type Result struct {
	Transaction Transaction
	Wallet      wallet.Snapshot
}

// Store persists transaction records. FindByExternalID and Insert run inside
// the caller's unit of work.
type Store interface {
	FindByExternalID(ctx context.Context, tx uow.Tx, externalID string) (Transaction, bool, error)
	Insert(ctx context.Context, tx uow.Tx, t Transaction) error
	ListByWallet(ctx context.Context, walletID string) ([]Transaction, error)
}

// NextBalance computes the balance after applying normalized, an amount
// already in the base currency. A withdrawal may empty the wallet but never
// overdraw it. Both normalized and the result must be storable exactly.
func NextBalance(balance decimal.Decimal, t Type, normalized decimal.Decimal) (decimal.Decimal, error) {
	if err := currency.CheckMoney(normalized); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: converted amount: %w", ErrInvalidRequest, err)
	}
	switch t {
	case Deposit:
		next := balance.Add(normalized)
		if err := currency.CheckMoney(next); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: balance: %w", ErrInvalidRequest, err)
		}
		return next, nil
	case Withdrawal:
		if balance.LessThan(normalized) {
			return decimal.Decimal{}, ErrInsufficientFunds
		}
		return balance.Sub(normalized), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, t)
	}
}

// Code maps an error to the stable identifier reported to callers.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateTransaction):
		return "duplicate_transaction"
	case errors.Is(err, ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrUnsupportedCurrency):
		return "unsupported_currency"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "store_failure"
	}
}
