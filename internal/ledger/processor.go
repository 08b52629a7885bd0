package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nile-pay/nile_pay/internal/currency"
	"github.com/nile-pay/nile_pay/internal/notification"
	"github.com/nile-pay/nile_pay/internal/uow"
	"github.com/nile-pay/nile_pay/internal/wallet"
)

// WalletCache is invalidated after a wallet balance changes.
type WalletCache interface {
	Invalidate(ctx context.Context, walletID string) error
}

// Metrics receives one observation per application.
type Metrics interface {
	ObserveApply(kind, outcome string, elapsed time.Duration)
}

// Deps lists the collaborators of a Processor. Runner, Wallets, Transactions
// and Converter are required.
type Deps struct {
	Runner       uow.Runner
	Wallets      wallet.Repository
	Transactions Store
	Converter    *currency.Converter
	Notifier     notification.Notifier
	Cache        WalletCache
	Metrics      Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Processor applies deposits and withdrawals to wallets.
type Processor struct {
	runner    uow.Runner
	wallets   wallet.Repository
	txns      Store
	converter *currency.Converter
	notifier  notification.Notifier
	cache     WalletCache
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor validates d and builds a Processor.
func NewProcessor(d Deps) (*Processor, error) {
	switch {
	case d.Runner == nil:
		return nil, errors.New("ledger: runner is required")
	case d.Wallets == nil:
		return nil, errors.New("ledger: wallet repository is required")
	case d.Transactions == nil:
		return nil, errors.New("ledger: transaction store is required")
	case d.Converter == nil:
		return nil, errors.New("ledger: currency converter is required")
	}
	p := &Processor{
		runner:    d.Runner,
		wallets:   d.Wallets,
		txns:      d.Transactions,
		converter: d.Converter,
		notifier:  d.Notifier,
		cache:     d.Cache,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Apply records req against its wallet in a new unit of work. On success the
// wallet cache is invalidated and the owner notified.
func (p *Processor) Apply(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := p.apply(ctx, nil, req)
	p.observe(req, err, time.Since(start))
	if err != nil {
		p.logger.WarnContext(ctx, "ledger transaction rejected",
			slog.String("wallet_id", req.WalletID),
			slog.String("transaction_id", req.ExternalID),
			slog.String("type", string(req.Type)),
			slog.String("code", Code(err)),
			slog.Any("error", err),
		)
		return Result{}, err
	}

	p.logger.InfoContext(ctx, "ledger transaction applied",
		slog.String("wallet_id", res.Wallet.ID),
		slog.String("transaction_id", res.Transaction.ExternalID),
		slog.String("type", string(res.Transaction.Type)),
		slog.String("amount", res.Transaction.Amount.String()),
		slog.String("currency", string(res.Transaction.Currency)),
		slog.String("balance", res.Wallet.Balance.String()),
	)
	p.afterCommit(ctx, res)
	return res, nil
}

// ApplyWithin records req inside tx, leaving commit and rollback to the
// caller. No post-commit side effects run. A nil tx behaves like Apply.
func (p *Processor) ApplyWithin(ctx context.Context, tx uow.Tx, req Request) (Result, error) {
	if tx == nil {
		return p.Apply(ctx, req)
	}
	return p.apply(ctx, tx, req)
}

// History lists the committed transactions of a wallet, oldest first.
func (p *Processor) History(ctx context.Context, walletID string) ([]Transaction, error) {
	if _, err := p.wallets.Get(ctx, walletID); err != nil {
		return nil, err
	}
	return p.txns.ListByWallet(ctx, walletID)
}

func (p *Processor) apply(ctx context.Context, existing uow.Tx, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	return uow.Run(ctx, p.runner, existing, func(ctx context.Context, tx uow.Tx) (Result, error) {
		_, found, err := p.txns.FindByExternalID(ctx, tx, req.ExternalID)
		if err != nil {
			return Result{}, err
		}
		if found {
			return Result{}, fmt.Errorf("%w: %s", ErrDuplicateTransaction, req.ExternalID)
		}

		w, err := p.wallets.LockForUpdate(ctx, tx, req.WalletID)
		if err != nil {
			return Result{}, err
		}

		normalized, err := p.converter.Convert(req.Amount, req.Currency)
		if err != nil {
			return Result{}, err
		}

		next, err := NextBalance(w.Balance, req.Type, normalized)
		if err != nil {
			return Result{}, err
		}

		now := p.now().UTC()
		w, err = p.wallets.SaveBalance(ctx, tx, w.ID, next, now)
		if err != nil {
			return Result{}, err
		}

		t := Transaction{
			ID:         uuid.NewString(),
			ExternalID: req.ExternalID,
			WalletID:   w.ID,
			Type:       req.Type,
			Amount:     req.Amount,
			Currency:   req.Currency,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.txns.Insert(ctx, tx, t); err != nil {
			return Result{}, err
		}

		return Result{Transaction: t, Wallet: w.Snapshot()}, nil
	})
}

func (p *Processor) observe(req Request, err error, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	kind := string(req.Type)
	if req.Type != Deposit && req.Type != Withdrawal {
		kind = "unknown"
	}
	p.metrics.ObserveApply(kind, Code(err), elapsed)
}

func (p *Processor) afterCommit(ctx context.Context, res Result) {
	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, res.Wallet.ID); err != nil {
			p.logger.WarnContext(ctx, "wallet cache invalidate failed",
				slog.String("wallet_id", res.Wallet.ID), slog.Any("error", err))
		}
	}

	if p.notifier == nil {
		return
	}
	kind, verb := notification.KindDeposit, "credited with"
	if res.Transaction.Type == Withdrawal {
		kind, verb = notification.KindWithdrawal, "debited by"
	}
	msg := notification.Message{
		Kind:        kind,
		Destination: res.Wallet.UserID,
		Body: fmt.Sprintf("Your wallet was %s %s %s. New balance: %s %s",
			verb, res.Transaction.Amount, res.Transaction.Currency, res.Wallet.Balance, currency.Base),
	}
	if err := p.notifier.Send(ctx, msg); err != nil {
		p.logger.WarnContext(ctx, "notification failed",
			slog.String("wallet_id", res.Wallet.ID), slog.Any("error", err))
	}
}
