package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Seed is a test helper that stores a wallet with the given owner and
// opening balance directly in repo.
func Seed(ctx context.Context, repo Repository, userID string, balance int64) (Wallet, error) {
	now := time.Now().UTC()
	w := Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}
	return w, nil
}
