// Package uow provides the unit of work that groups store operations into a
// single atomic transaction.
package uow

import (
	"context"
)

// Tx is a transaction handle threaded explicitly through store calls.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Runner begins transactions against a backend.
type Runner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Run executes work atomically.
//
// When existing is non-nil work joins that transaction and the caller keeps
// ownership of commit and rollback. Otherwise Run begins a transaction,
// commits it when work succeeds and rolls it back when work fails, returning
// work's error value unchanged. The transaction is always released, including
// when commit fails or ctx is cancelled.
func Run[T any](ctx context.Context, runner Runner, existing Tx, work func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	if existing != nil {
		return work(ctx, existing)
	}

	var zero T
	tx, err := runner.Begin(ctx)
	if err != nil {
		return zero, err
	}
	// Rollback after Commit is a no-op. It must run even if ctx is done.
	defer tx.Rollback(context.WithoutCancel(ctx)) // nolint:errcheck

	out, err := work(ctx, tx)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, err
	}
	return out, nil
}
