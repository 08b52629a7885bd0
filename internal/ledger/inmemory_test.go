package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nile-pay/nile_pay/internal/currency"
	"github.com/nile-pay/nile_pay/internal/logging"
	"github.com/nile-pay/nile_pay/internal/notification"
	"github.com/nile-pay/nile_pay/internal/uow"
	"github.com/nile-pay/nile_pay/internal/wallet"
)

type fixture struct {
	proc    *Processor
	wallets wallet.Repository
	store   Store
	runner  uow.MemoryRunner
}

func newFixture(t *testing.T, mutate func(*Deps)) fixture {
	t.Helper()
	conv, err := currency.NewConverter(currency.DefaultRates())
	require.NoError(t, err)

	f := fixture{
		wallets: wallet.NewMemoryRepository(),
		store:   NewInMemory(),
		runner:  uow.NewMemoryRunner(),
	}
	d := Deps{
		Runner:       f.runner,
		Wallets:      f.wallets,
		Transactions: f.store,
		Converter:    conv,
		Logger:       logging.Discard(),
	}
	if mutate != nil {
		mutate(&d)
	}
	f.proc, err = NewProcessor(d)
	require.NoError(t, err)
	return f
}

var seeded atomic.Int64

func (f fixture) seed(t *testing.T, balance int64) wallet.Wallet {
	t.Helper()
	w, err := wallet.Seed(context.Background(), f.wallets, fmt.Sprintf("user-%d", seeded.Add(1)), balance)
	require.NoError(t, err)
	return w
}

func (f fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	w, err := f.wallets.Get(context.Background(), id)
	require.NoError(t, err)
	return w.Balance
}

func (f fixture) history(t *testing.T, id string) []Transaction {
	t.Helper()
	txs, err := f.store.ListByWallet(context.Background(), id)
	require.NoError(t, err)
	return txs
}

func req(walletID, key string, typ Type, amount string, code currency.Code) Request {
	return Request{
		WalletID:   walletID,
		ExternalID: key,
		Type:       typ,
		Amount:     decimal.RequireFromString(amount),
		Currency:   code,
	}
}

func requireDecimal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.NewFromInt(want)), "expected %d, got %s", want, got)
}

func TestApplyBalances(t *testing.T) {
	tests := []struct {
		name    string
		opening int64
		typ     Type
		amount  string
		code    currency.Code
		want    int64
	}{
		{name: "deposit", opening: 500, typ: Deposit, amount: "100", code: currency.EGP, want: 600},
		{name: "deposit in usd", opening: 100, typ: Deposit, amount: "10", code: currency.USD, want: 580},
		{name: "deposit in sar", opening: 0, typ: Deposit, amount: "5", code: currency.SAR, want: 64},
		{name: "withdrawal", opening: 500, typ: Withdrawal, amount: "200", code: currency.EGP, want: 300},
		{name: "withdrawal in eur", opening: 1000, typ: Withdrawal, amount: "10", code: currency.EUR, want: 480},
		{name: "zero deposit", opening: 500, typ: Deposit, amount: "0", code: currency.EGP, want: 500},
		{name: "withdraw everything", opening: 500, typ: Withdrawal, amount: "500", code: currency.EGP, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			w := f.seed(t, tt.opening)

			res, err := f.proc.Apply(context.Background(), req(w.ID, "tx-"+tt.name, tt.typ, tt.amount, tt.code))
			require.NoError(t, err)

			requireDecimal(t, tt.want, res.Wallet.Balance)
			requireDecimal(t, tt.want, f.balance(t, w.ID))
			require.Equal(t, w.ID, res.Wallet.ID)
			require.Equal(t, w.UserID, res.Wallet.UserID)

			// the record keeps what was submitted, not the converted amount
			require.Equal(t, tt.code, res.Transaction.Currency)
			require.True(t, res.Transaction.Amount.Equal(decimal.RequireFromString(tt.amount)))
			require.Equal(t, []Transaction{res.Transaction}, f.history(t, w.ID))
		})
	}
}

func TestApplyRejections(t *testing.T) {
	tests := []struct {
		name    string
		opening int64
		request func(walletID string) Request
		wantErr error
	}{
		{
			name:    "insufficient funds",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Withdrawal, "600", currency.EGP) },
			wantErr: ErrInsufficientFunds,
		},
		{
			name:    "insufficient after conversion",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Withdrawal, "20", currency.USD) },
			wantErr: ErrInsufficientFunds,
		},
		{
			name:    "unknown wallet",
			opening: 500,
			request: func(string) Request { return req("7b0c3f7e-missing", "k", Deposit, "1", currency.EGP) },
			wantErr: ErrWalletNotFound,
		},
		{
			name:    "unsupported currency",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Deposit, "1", currency.Code("GBP")) },
			wantErr: ErrUnsupportedCurrency,
		},
		{
			name:    "negative amount",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Deposit, "-1", currency.EGP) },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing key",
			opening: 500,
			request: func(id string) Request { return req(id, "", Deposit, "1", currency.EGP) },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown type",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Type("refund"), "1", currency.EGP) },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "amount beyond stored scale",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Deposit, "0.123456789", currency.USD) },
			wantErr: currency.ErrOutOfRange,
		},
		{
			name:    "converted amount beyond stored scale",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Deposit, "0.12345678", currency.SAR) },
			wantErr: currency.ErrOutOfRange,
		},
		{
			name:    "amount overflows",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Deposit, "1e17", currency.USD) },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "converted amount overflows",
			opening: 500,
			request: func(id string) Request { return req(id, "k", Deposit, "1e15", currency.USD) },
			wantErr: currency.ErrOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			w := f.seed(t, tt.opening)

			_, err := f.proc.Apply(context.Background(), tt.request(w.ID))
			require.ErrorIs(t, err, tt.wantErr)

			requireDecimal(t, tt.opening, f.balance(t, w.ID))
			require.Empty(t, f.history(t, w.ID))

			// a rejected key stays usable
			_, found, err := f.store.FindByExternalID(context.Background(), uow.NewMemTx(), "k")
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestApplyDuplicateLeavesBalanceUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 500)
	ctx := context.Background()

	first, err := f.proc.Apply(ctx, req(w.ID, "dup", Deposit, "100", currency.EGP))
	require.NoError(t, err)

	_, err = f.proc.Apply(ctx, req(w.ID, "dup", Deposit, "100", currency.EGP))
	require.ErrorIs(t, err, ErrDuplicateTransaction)

	// the key is global, not per wallet
	other := f.seed(t, 0)
	_, err = f.proc.Apply(ctx, req(other.ID, "dup", Withdrawal, "0", currency.EGP))
	require.ErrorIs(t, err, ErrDuplicateTransaction)

	requireDecimal(t, 600, f.balance(t, w.ID))
	requireDecimal(t, 0, f.balance(t, other.ID))
	require.Equal(t, []Transaction{first.Transaction}, f.history(t, w.ID))
}

func TestApplyConcurrentDeposits(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 1000)

	amounts := []string{"100", "200", "150"}
	var wg sync.WaitGroup
	for i, amount := range amounts {
		wg.Add(1)
		go func(i int, amount string) {
			defer wg.Done()
			if _, err := f.proc.Apply(context.Background(), req(w.ID, fmt.Sprintf("tx-%d", i), Deposit, amount, currency.EGP)); err != nil {
				t.Errorf("deposit %d failed: %v", i, err)
			}
		}(i, amount)
	}
	wg.Wait()

	requireDecimal(t, 1450, f.balance(t, w.ID))
	require.Len(t, f.history(t, w.ID), 3)
}

func TestApplyConcurrentMixed(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 1500)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := f.proc.Apply(context.Background(), req(w.ID, "w-300", Withdrawal, "300", currency.EGP)); err != nil {
			t.Errorf("withdrawal failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := f.proc.Apply(context.Background(), req(w.ID, "d-200", Deposit, "200", currency.EGP)); err != nil {
			t.Errorf("deposit failed: %v", err)
		}
	}()
	wg.Wait()

	requireDecimal(t, 1400, f.balance(t, w.ID))
	require.Len(t, f.history(t, w.ID), 2)
}

func TestApplyConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 1000)

	const workers = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.proc.Apply(context.Background(), req(w.ID, fmt.Sprintf("w-%d", i), Withdrawal, "300", currency.EGP))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("withdrawal %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 3, ok)
	require.Equal(t, workers-3, rejected)
	requireDecimal(t, 100, f.balance(t, w.ID))
}

func TestApplyConcurrentSameKey(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 0)

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.proc.Apply(context.Background(), req(w.ID, "same", Deposit, "10", currency.EGP))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrDuplicateTransaction)
	}
	require.Equal(t, 1, succeeded)
	requireDecimal(t, 10, f.balance(t, w.ID))
	require.Len(t, f.history(t, w.ID), 1)
}

func TestApplyDifferentWalletsDoNotContend(t *testing.T) {
	f := newFixture(t, nil)
	busy := f.seed(t, 100)
	free := f.seed(t, 100)
	ctx := context.Background()

	// Hold the first wallet's lock in an open unit of work.
	holder := uow.NewMemTx()
	_, err := f.wallets.LockForUpdate(ctx, holder, busy.ID)
	require.NoError(t, err)
	defer holder.Rollback(ctx) // nolint:errcheck

	done := make(chan error, 1)
	go func() {
		_, err := f.proc.Apply(ctx, req(free.ID, "free-1", Deposit, "5", currency.EGP))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("deposit on an unrelated wallet blocked")
	}
	requireDecimal(t, 105, f.balance(t, free.ID))
}

func TestApplyFractionalAmountsStayExact(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 0)
	ctx := context.Background()

	_, err := f.proc.Apply(ctx, req(w.ID, "frac-1", Deposit, "0.12345678", currency.USD))
	require.NoError(t, err)
	_, err = f.proc.Apply(ctx, req(w.ID, "frac-2", Withdrawal, "0.25", currency.SAR))
	require.NoError(t, err)

	conv, err := currency.NewConverter(currency.DefaultRates())
	require.NoError(t, err)
	sum := decimal.Zero
	for _, rec := range f.history(t, w.ID) {
		require.NoError(t, currency.CheckMoney(rec.Amount))
		normalized, err := conv.Convert(rec.Amount, rec.Currency)
		require.NoError(t, err)
		if rec.Type == Withdrawal {
			normalized = normalized.Neg()
		}
		sum = sum.Add(normalized)
	}

	balance := f.balance(t, w.ID)
	require.NoError(t, currency.CheckMoney(balance))
	require.True(t, balance.Equal(sum), "balance %s does not match records %s", balance, sum)
	require.True(t, balance.Equal(decimal.RequireFromString("2.72592544")), "got %s", balance)
}

type failingInsertStore struct {
	Store
	err error
}

func (s failingInsertStore) Insert(context.Context, uow.Tx, Transaction) error {
	return s.err
}

func TestApplyFailureAfterBalanceWriteRollsBack(t *testing.T) {
	injected := uow.StoreError("insert transaction", errors.New("disk full"))
	var store Store
	f := newFixture(t, func(d *Deps) {
		store = d.Transactions
		d.Transactions = failingInsertStore{Store: d.Transactions, err: injected}
	})
	w := f.seed(t, 1000)

	_, err := f.proc.Apply(context.Background(), req(w.ID, "boom", Withdrawal, "400", currency.EGP))
	require.ErrorIs(t, err, ErrStoreFailure)
	require.True(t, err == injected, "expected the injected error unchanged, got %v", err)

	requireDecimal(t, 1000, f.balance(t, w.ID))
	require.Empty(t, f.history(t, w.ID))
	_, found, err := store.FindByExternalID(context.Background(), uow.NewMemTx(), "boom")
	require.NoError(t, err)
	require.False(t, found)

	// the wallet lock was released by the abort
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = f.wallets.LockForUpdate(ctx, uow.NewMemTx(), w.ID)
	require.NoError(t, err)
}

func TestApplyWithinJoinsCallerTransaction(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 1000)
	ctx := context.Background()

	outer, err := f.runner.Begin(ctx)
	require.NoError(t, err)

	first, err := f.proc.ApplyWithin(ctx, outer, req(w.ID, "n-1", Deposit, "100", currency.EGP))
	require.NoError(t, err)
	requireDecimal(t, 1100, first.Wallet.Balance)

	// the second application sees the first one's uncommitted write
	second, err := f.proc.ApplyWithin(ctx, outer, req(w.ID, "n-2", Deposit, "200", currency.EGP))
	require.NoError(t, err)
	requireDecimal(t, 1300, second.Wallet.Balance)

	_, err = f.proc.ApplyWithin(ctx, outer, req(w.ID, "n-1", Deposit, "1", currency.EGP))
	require.ErrorIs(t, err, ErrDuplicateTransaction)

	// nothing is visible until the caller commits
	requireDecimal(t, 1000, f.balance(t, w.ID))
	require.Empty(t, f.history(t, w.ID))

	require.NoError(t, outer.Commit(ctx))
	requireDecimal(t, 1300, f.balance(t, w.ID))
	require.Len(t, f.history(t, w.ID), 2)
}

func TestApplyWithinCallerRollbackDiscardsEverything(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 1000)
	ctx := context.Background()

	outer, err := f.runner.Begin(ctx)
	require.NoError(t, err)
	_, err = f.proc.ApplyWithin(ctx, outer, req(w.ID, "r-1", Withdrawal, "250", currency.EGP))
	require.NoError(t, err)
	require.NoError(t, outer.Rollback(ctx))

	requireDecimal(t, 1000, f.balance(t, w.ID))
	require.Empty(t, f.history(t, w.ID))

	// the key was never committed and can be reused
	_, err = f.proc.Apply(ctx, req(w.ID, "r-1", Withdrawal, "250", currency.EGP))
	require.NoError(t, err)
	requireDecimal(t, 750, f.balance(t, w.ID))
}

func TestApplyCancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.proc.Apply(ctx, req(w.ID, "c-1", Deposit, "50", currency.EGP))
	require.ErrorIs(t, err, context.Canceled)
	requireDecimal(t, 100, f.balance(t, w.ID))
	require.Empty(t, f.history(t, w.ID))
}

func TestApplyCancelledWhileWaitingForLock(t *testing.T) {
	f := newFixture(t, nil)
	w := f.seed(t, 100)
	bg := context.Background()

	holder := uow.NewMemTx()
	_, err := f.wallets.LockForUpdate(bg, holder, w.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(bg, 30*time.Millisecond)
	defer cancel()
	_, err = f.proc.Apply(ctx, req(w.ID, "c-2", Deposit, "50", currency.EGP))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, holder.Rollback(bg))
	requireDecimal(t, 100, f.balance(t, w.ID))

	// the aborted request left no reservation behind
	_, err = f.proc.Apply(bg, req(w.ID, "c-2", Deposit, "50", currency.EGP))
	require.NoError(t, err)
	requireDecimal(t, 150, f.balance(t, w.ID))
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, id string) error {
	c.invalidated = append(c.invalidated, id)
	return nil
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) ObserveApply(kind, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, kind+":"+outcome)
}

func TestApplyPostCommitHooks(t *testing.T) {
	notifier := &recordingNotifier{}
	cache := &recordingCache{}
	metrics := &recordingMetrics{}
	f := newFixture(t, func(d *Deps) {
		d.Notifier = notifier
		d.Cache = cache
		d.Metrics = metrics
	})
	w := f.seed(t, 500)
	ctx := context.Background()

	_, err := f.proc.Apply(ctx, req(w.ID, "h-1", Withdrawal, "5", currency.USD))
	require.NoError(t, err)
	_, err = f.proc.Apply(ctx, req(w.ID, "h-2", Withdrawal, "500", currency.EGP))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.Len(t, notifier.msgs, 1)
	require.Equal(t, notification.KindWithdrawal, notifier.msgs[0].Kind)
	require.Equal(t, w.UserID, notifier.msgs[0].Destination)
	require.Equal(t, []string{w.ID}, cache.invalidated)
	require.Equal(t, []string{"withdrawal:ok", "withdrawal:insufficient_funds"}, metrics.outcomes)

	// joined units of work leave side effects to the caller
	outer := uow.NewMemTx()
	_, err = f.proc.ApplyWithin(ctx, outer, req(w.ID, "h-3", Deposit, "1", currency.EGP))
	require.NoError(t, err)
	require.NoError(t, outer.Commit(ctx))
	require.Len(t, notifier.msgs, 1)
	require.Len(t, cache.invalidated, 1)
}

func TestHistory(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, func(d *Deps) {
		d.Now = func() time.Time {
			now = now.Add(time.Second)
			return now
		}
	})
	w := f.seed(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.proc.Apply(ctx, req(w.ID, fmt.Sprintf("hist-%d", i), Deposit, "1", currency.EGP))
		require.NoError(t, err)
	}

	txs, err := f.proc.History(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, tx := range txs {
		require.Equal(t, fmt.Sprintf("hist-%d", i), tx.ExternalID)
	}

	_, err = f.proc.History(ctx, "missing")
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	_, err := NewProcessor(Deps{})
	require.Error(t, err)
}
