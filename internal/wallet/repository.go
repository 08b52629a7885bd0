package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nile-pay/nile_pay/internal/uow"
)

// Repository persists wallets. Methods taking a uow.Tx run inside that
// transaction; the rest use their own connection.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (Wallet, error)
	UpdateUser(ctx context.Context, id, userID string, at time.Time) (Wallet, error)
	// LockForUpdate reads the wallet and blocks other writers to it until tx
	// finishes.
	LockForUpdate(ctx context.Context, tx uow.Tx, id string) (Wallet, error)
	// SaveBalance stores balance and returns the wallet as written.
	SaveBalance(ctx context.Context, tx uow.Tx, id string, balance decimal.Decimal, at time.Time) (Wallet, error)
}

const (
	userIDConstraint = "wallets_user_id_key"
	walletColumns    = `id, user_id, balance, created_at, updated_at`
)

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5)`, walletID, wallet.UserID, wallet.Balance, wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	return ownerError("insert wallet", err)
}

// Get fetches a wallet by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Wallet, error) {
	walletUUID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletUUID)
	return scanWallet(row, "get wallet")
}

// UpdateUser reassigns the wallet owner.
func (r *PostgresRepository) UpdateUser(ctx context.Context, id, userID string, at time.Time) (Wallet, error) {
	walletUUID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `UPDATE wallets SET user_id = $2, updated_at = $3
        WHERE id = $1 RETURNING `+walletColumns, walletUUID, userID, at.UTC())
	w, err := scanWallet(row, "update wallet user")
	if err != nil {
		return Wallet{}, ownerError("update wallet user", err)
	}
	return w, nil
}

// ownerError maps a failed write touching user_id. A clash on the unique
// owner constraint is ErrUserTaken; everything else is a store failure.
func ownerError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case uow.IsUniqueViolation(err, userIDConstraint):
		return ErrUserTaken
	case errors.Is(err, ErrNotFound), errors.Is(err, uow.ErrStoreFailure):
		return err
	default:
		return uow.StoreError(op, err)
	}
}

// LockForUpdate reads the wallet row with FOR UPDATE inside tx.
func (r *PostgresRepository) LockForUpdate(ctx context.Context, tx uow.Tx, id string) (Wallet, error) {
	ptx, err := uow.Pgx(tx)
	if err != nil {
		return Wallet{}, err
	}
	walletUUID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := ptx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletUUID)
	return scanWallet(row, "lock wallet")
}

// SaveBalance writes balance inside tx and returns the updated row.
func (r *PostgresRepository) SaveBalance(ctx context.Context, tx uow.Tx, id string, balance decimal.Decimal, at time.Time) (Wallet, error) {
	ptx, err := uow.Pgx(tx)
	if err != nil {
		return Wallet{}, err
	}
	walletUUID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := ptx.QueryRow(ctx, `UPDATE wallets SET balance = $2, updated_at = $3
        WHERE id = $1 RETURNING `+walletColumns, walletUUID, balance, at.UTC())
	return scanWallet(row, "save wallet balance")
}

func scanWallet(row pgx.Row, op string) (Wallet, error) {
	var w Wallet
	var idVal uuid.UUID
	if err := row.Scan(&idVal, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, uow.StoreError(op, err)
	}
	w.ID = idVal.String()
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
