package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nile-pay/nile_pay/internal/currency"
)

// Service exposes wallet operations outside the ledger. It never changes a
// balance after creation.
type Service struct {
	repo   Repository
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a wallet service instance. cache may be nil.
func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	UserID  string
	Balance decimal.Decimal
}

// UpdateInput captures the fields a caller may change on a wallet.
type UpdateInput struct {
	UserID string
}

// Create provisions a wallet with an opening balance.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return Wallet{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if input.Balance.IsNegative() {
		return Wallet{}, fmt.Errorf("%w: balance must not be negative", ErrInvalidInput)
	}
	if err := currency.CheckMoney(input.Balance); err != nil {
		return Wallet{}, fmt.Errorf("%w: balance: %w", ErrInvalidInput, err)
	}

	now := s.now().UTC()
	wallet := Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Balance:   input.Balance,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// Get retrieves a wallet, consulting the cache first when one is configured.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	if s.cache != nil {
		w, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn("wallet cache read failed", slog.String("wallet_id", id), slog.Any("error", err))
		} else if ok {
			return w, nil
		}
	}

	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, w); err != nil {
			s.logger.Warn("wallet cache write failed", slog.String("wallet_id", id), slog.Any("error", err))
		}
	}
	return w, nil
}

// UpdateUser reassigns the wallet to another user.
func (s *Service) UpdateUser(ctx context.Context, id string, input UpdateInput) (Wallet, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return Wallet{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	w, err := s.repo.UpdateUser(ctx, id, userID, s.now().UTC())
	if err != nil {
		return Wallet{}, err
	}
	if err := s.Invalidate(ctx, id); err != nil {
		s.logger.Warn("wallet cache invalidate failed", slog.String("wallet_id", id), slog.Any("error", err))
	}
	return w, nil
}

// Invalidate drops any cached copy of the wallet.
func (s *Service) Invalidate(ctx context.Context, id string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, id)
}
