package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nile-pay/nile_pay/internal/uow"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	byKey    map[string]Transaction
	byWallet map[string][]string
	// reserved holds keys inserted by transactions that have not finished,
	// standing in for the unique index.
	reserved map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory transaction store for use
// with uow.MemoryRunner.
func NewInMemory() Store {
	return &inMemoryStore{
		byKey:    make(map[string]Transaction),
		byWallet: make(map[string][]string),
		reserved: make(map[string]struct{}),
	}
}

func (s *inMemoryStore) FindByExternalID(_ context.Context, tx uow.Tx, externalID string) (Transaction, bool, error) {
	mtx, err := uow.Mem(tx)
	if err != nil {
		return Transaction{}, false, err
	}
	if v, ok := mtx.Value(pendingKey(externalID)); ok {
		return v.(Transaction), true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byKey[externalID]
	return t, ok, nil
}

func (s *inMemoryStore) Insert(_ context.Context, tx uow.Tx, t Transaction) error {
	mtx, err := uow.Mem(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, committed := s.byKey[t.ExternalID]
	_, inFlight := s.reserved[t.ExternalID]
	if committed || inFlight {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, t.ExternalID)
	}
	s.reserved[t.ExternalID] = struct{}{}
	s.mu.Unlock()

	err = mtx.Stage(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.reserved, t.ExternalID)
		s.byKey[t.ExternalID] = t
		s.byWallet[t.WalletID] = append(s.byWallet[t.WalletID], t.ExternalID)
	}, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.reserved, t.ExternalID)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.reserved, t.ExternalID)
		s.mu.Unlock()
		return err
	}
	mtx.Put(pendingKey(t.ExternalID), t)
	return nil
}

func (s *inMemoryStore) ListByWallet(_ context.Context, walletID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byWallet[walletID]
	out := make([]Transaction, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func pendingKey(externalID string) string {
	return "transaction:" + externalID
}
