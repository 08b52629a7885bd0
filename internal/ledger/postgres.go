package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nile-pay/nile_pay/internal/currency"
	"github.com/nile-pay/nile_pay/internal/uow"
)

const (
	externalIDConstraint = "transactions_external_id_key"
	transactionColumns   = `id, external_id, wallet_id, type, amount, currency, created_at, updated_at`
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed transaction store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByExternalID looks up a transaction by its caller-supplied key inside tx.
func (s *PostgresStore) FindByExternalID(ctx context.Context, tx uow.Tx, externalID string) (Transaction, bool, error) {
	ptx, err := uow.Pgx(tx)
	if err != nil {
		return Transaction{}, false, err
	}
	row := ptx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_id = $1`, externalID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, uow.StoreError("find transaction", err)
	}
	return t, true, nil
}

// Insert writes t inside tx. A concurrent insert of the same external key is
// reported as ErrDuplicateTransaction.
func (s *PostgresStore) Insert(ctx context.Context, tx uow.Tx, t Transaction) error {
	ptx, err := uow.Pgx(tx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return fmt.Errorf("%w: transaction id: %v", ErrInvalidRequest, err)
	}
	walletID, err := uuid.Parse(t.WalletID)
	if err != nil {
		return ErrWalletNotFound
	}
	_, err = ptx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, t.ExternalID, walletID, string(t.Type), t.Amount, string(t.Currency), t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	return insertError(t.ExternalID, err)
}

// insertError maps a failed insert. A clash on the external key constraint
// means a concurrent unit of work recorded the same key first.
func insertError(externalID string, err error) error {
	switch {
	case err == nil:
		return nil
	case uow.IsUniqueViolation(err, externalIDConstraint):
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, externalID)
	default:
		return uow.StoreError("insert transaction", err)
	}
}

// ListByWallet returns a wallet's transactions ordered by creation time.
func (s *PostgresStore) ListByWallet(ctx context.Context, walletID string) ([]Transaction, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE wallet_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, uow.StoreError("list transactions", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, uow.StoreError("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, uow.StoreError("list transactions", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t        Transaction
		id       uuid.UUID
		walletID uuid.UUID
		kind     string
		code     string
	)
	if err := row.Scan(&id, &t.ExternalID, &walletID, &kind, &t.Amount, &code, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.ID = id.String()
	t.WalletID = walletID.String()
	t.Type = Type(kind)
	t.Currency = currency.Code(code)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
