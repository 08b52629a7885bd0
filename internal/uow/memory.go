package uow

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRunner begins in-process transactions for the memory stores.
type MemoryRunner struct{}

// NewMemoryRunner returns a runner for MemTx transactions.
func NewMemoryRunner() MemoryRunner {
	return MemoryRunner{}
}

// Begin starts a MemTx.
func (MemoryRunner) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewMemTx(), nil
}

// MemTx is an in-process transaction. Stores stage their writes on it and
// keep a private view of pending values; locks taken through Lock are held
// until the transaction finishes.
type MemTx struct {
	mu        sync.Mutex
	done      bool
	commits   []func()
	rollbacks []func()
	held      map[chan struct{}]func()
	pending   map[string]any
}

// NewMemTx returns an open transaction.
func NewMemTx() *MemTx {
	return &MemTx{
		held:    make(map[chan struct{}]func()),
		pending: make(map[string]any),
	}
}

// Mem returns the MemTx behind tx.
func Mem(tx Tx) (*MemTx, error) {
	mtx, ok := tx.(*MemTx)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignTx, tx)
	}
	return mtx, nil
}

// LockKey acquires the lock for key in locks until the transaction
// finishes. It is reentrant and gives up when ctx is done.
func (t *MemTx) LockKey(ctx context.Context, locks *KeyedLocks, key string) error {
	sem := locks.acquire(key)
	return t.lock(ctx, sem, func() { locks.release(key) })
}

// lock takes sem and records it as held. unref runs once the reference is
// no longer needed: at once when nothing new is held, otherwise when the
// transaction finishes.
func (t *MemTx) lock(ctx context.Context, sem chan struct{}, unref func()) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		unref()
		return ErrTxDone
	}
	if _, ok := t.held[sem]; ok {
		t.mu.Unlock()
		unref()
		return nil
	}
	t.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		unref()
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		<-sem
		unref()
		return ErrTxDone
	}
	t.held[sem] = unref
	return nil
}

// Stage registers callbacks run when the transaction commits or rolls back.
// Either may be nil.
func (t *MemTx) Stage(commit, rollback func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	if commit != nil {
		t.commits = append(t.commits, commit)
	}
	if rollback != nil {
		t.rollbacks = append(t.rollbacks, rollback)
	}
	return nil
}

// Put records a value visible only through this transaction.
func (t *MemTx) Put(key string, v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.pending[key] = v
}

// Value returns a value previously recorded with Put.
func (t *MemTx) Value(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.pending[key]
	return v, ok
}

// Commit applies staged writes in order, then releases held locks.
func (t *MemTx) Commit(context.Context) error {
	return t.finish(true)
}

// Rollback discards staged writes and releases held locks.
func (t *MemTx) Rollback(context.Context) error {
	return t.finish(false)
}

func (t *MemTx) finish(commit bool) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTxDone
	}
	t.done = true
	fns := t.rollbacks
	if commit {
		fns = t.commits
	}
	held := t.held
	t.held, t.pending = nil, nil
	t.commits, t.rollbacks = nil, nil
	t.mu.Unlock()

	// Callbacks take store locks, so they run outside t.mu.
	for _, fn := range fns {
		fn()
	}
	for sem, unref := range held {
		<-sem
		unref()
	}
	return nil
}

// KeyedLocks hands out one binary semaphore per key for MemTx.LockKey. A
// key's semaphore is dropped once no transaction holds or waits on it, so
// the table only grows with the number of keys in use.
type KeyedLocks struct {
	mu   sync.Mutex
	sems map[string]*keyedSem
}

type keyedSem struct {
	ch   chan struct{}
	refs int
}

func (k *KeyedLocks) acquire(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.sems == nil {
		k.sems = make(map[string]*keyedSem)
	}
	s, ok := k.sems[key]
	if !ok {
		s = &keyedSem{ch: make(chan struct{}, 1)}
		k.sems[key] = s
	}
	s.refs++
	return s.ch
}

func (k *KeyedLocks) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sems[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(k.sems, key)
	}
}

// Len returns the number of keys currently locked or waited on.
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sems)
}
