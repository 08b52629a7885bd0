package uow

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreFailure classifies errors raised by a persistence backend.
	ErrStoreFailure = errors.New("store failure")

	// ErrForeignTx is returned when a store receives a transaction begun by a
	// different backend.
	ErrForeignTx = errors.New("transaction belongs to another backend")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("transaction already finished")
)

// StoreError tags err as a store failure for operation op. It returns nil
// when err is nil.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}
