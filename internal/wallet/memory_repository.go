package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nile-pay/nile_pay/internal/uow"
)

var errDuplicateID = errors.New("wallet id exists")

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Wallet
	byUser  map[string]string
	locks   uow.KeyedLocks
}

// NewMemoryRepository constructs an in-memory repository. Transactional
// methods expect a *uow.MemTx.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		storage: make(map[string]Wallet),
		byUser:  make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byUser[wallet.UserID]; exists {
		return ErrUserTaken
	}
	if _, exists := r.storage[wallet.ID]; exists {
		return uow.StoreError("insert wallet", errDuplicateID)
	}
	r.storage[wallet.ID] = wallet
	r.byUser[wallet.UserID] = wallet.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return wallet, nil
}

func (r *memoryRepository) UpdateUser(_ context.Context, id, userID string, at time.Time) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if owner, taken := r.byUser[userID]; taken && owner != id {
		return Wallet{}, ErrUserTaken
	}
	delete(r.byUser, wallet.UserID)
	wallet.UserID = userID
	wallet.UpdatedAt = at
	r.storage[id] = wallet
	r.byUser[userID] = id
	return wallet, nil
}

func (r *memoryRepository) LockForUpdate(ctx context.Context, tx uow.Tx, id string) (Wallet, error) {
	mtx, err := r.lock(ctx, tx, id)
	if err != nil {
		return Wallet{}, err
	}
	return r.view(mtx, id)
}

func (r *memoryRepository) SaveBalance(ctx context.Context, tx uow.Tx, id string, balance decimal.Decimal, at time.Time) (Wallet, error) {
	mtx, err := r.lock(ctx, tx, id)
	if err != nil {
		return Wallet{}, err
	}
	wallet, err := r.view(mtx, id)
	if err != nil {
		return Wallet{}, err
	}
	wallet.Balance = balance
	wallet.UpdatedAt = at

	err = mtx.Stage(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Only the ledger-owned fields; the owner may have changed meanwhile.
		current := r.storage[id]
		current.Balance = balance
		current.UpdatedAt = at
		r.storage[id] = current
	}, nil)
	if err != nil {
		return Wallet{}, err
	}
	mtx.Put(pendingKey(id), wallet)
	return wallet, nil
}

func (r *memoryRepository) lock(ctx context.Context, tx uow.Tx, id string) (*uow.MemTx, error) {
	mtx, err := uow.Mem(tx)
	if err != nil {
		return nil, err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := mtx.LockKey(ctx, &r.locks, id); err != nil {
		return nil, err
	}
	return mtx, nil
}

// view returns the wallet as tx sees it: its own pending write if any,
// otherwise the committed record.
func (r *memoryRepository) view(mtx *uow.MemTx, id string) (Wallet, error) {
	if v, ok := mtx.Value(pendingKey(id)); ok {
		return v.(Wallet), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return wallet, nil
}

func pendingKey(id string) string {
	return "wallet:" + id
}
