package uow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresRunner begins read-committed transactions on a pgx pool. Row
// locks taken with SELECT ... FOR UPDATE serialise writers per row.
type PostgresRunner struct {
	db *pgxpool.Pool
}

// NewPostgresRunner builds a runner over db.
func NewPostgresRunner(db *pgxpool.Pool) *PostgresRunner {
	return &PostgresRunner{db: db}
}

// Begin starts a transaction and acquires a pooled connection for it.
func (r *PostgresRunner) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, StoreError("begin", err)
	}
	return tx, nil
}

// Pgx returns the pgx transaction behind tx.
func Pgx(tx Tx) (pgx.Tx, error) {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignTx, tx)
	}
	return ptx, nil
}

// IsUniqueViolation reports whether err is a Postgres unique violation of
// the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}
