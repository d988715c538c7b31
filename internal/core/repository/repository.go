package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateLedgerEntry    = errors.New("duplicate ledger entry")
	ErrNegativeBalance         = errors.New("balance would become negative")
)

// WalletStore holds the balance buckets and the guarded update primitive.
type WalletStore interface {
	// EnsureWallet creates the wallet on first use and returns the current record.
	EnsureWallet(ctx context.Context, accountID uuid.UUID, currency string) (*models.Wallet, error)
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	// ApplyDelta increments or decrements buckets unconditionally.
	// It still fails with ErrNegativeBalance rather than leave a bucket below zero.
	ApplyDelta(ctx context.Context, accountID uuid.UUID, delta models.BalanceDelta) (*models.Wallet, error)
	// ApplyGuardedDelta applies delta only if every guarded bucket currently holds at least
	// its threshold. When a guard fails nothing changes and applied is false; failed names
	// the first bucket that was too low.
	ApplyGuardedDelta(ctx context.Context, accountID uuid.UUID, delta models.BalanceDelta, guard models.BalanceGuard) (w *models.Wallet, applied bool, failed models.BalanceField, err error)
}

// LedgerJournal is the append-only movement log.
type LedgerJournal interface {
	// Append fails with ErrDuplicateLedgerEntry when the reference key already exists.
	Append(ctx context.Context, entry *models.LedgerEntry) error
	Exists(ctx context.Context, ref models.LedgerRef) (bool, error)
	// GetByRef fails with ErrNotFound when no entry carries the reference key.
	GetByRef(ctx context.Context, ref models.LedgerRef) (*models.LedgerEntry, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, filter models.LedgerFilter) ([]models.LedgerEntry, int, error)
}

type PixRepository interface {
	// Insert fails with ErrDuplicateIdempotencyKey when the key is taken.
	Insert(ctx context.Context, tx *models.PixTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PixTransaction, error)
	// GetByIDForUpdate reads the row and holds it until the enclosing transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PixTransaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.PixTransaction, error)
	GetByTxid(ctx context.Context, txid string) (*models.PixTransaction, error)
	// Transition moves id from `from` to `to` only if the status is still `from`.
	Transition(ctx context.Context, id uuid.UUID, from, to models.PixStatus, change models.PixTransition) (applied bool, err error)
	// ListByStatus returns transactions of a type and status created before createdBefore,
	// oldest first.
	ListByStatus(ctx context.Context, txType models.PixTxType, status models.PixStatus, createdBefore time.Time, limit int) ([]models.PixTransaction, error)
	// ListConfirmedDepositsMissingLedger finds confirmed deposits created since `since`
	// without a DEPOSIT ledger entry referencing them.
	ListConfirmedDepositsMissingLedger(ctx context.Context, since time.Time, limit int) ([]models.PixTransaction, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.PixTransaction, int, error)
}

type RunRepository interface {
	Insert(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	// Settle moves a PREPARING run to a terminal status. applied is false when the run
	// was already terminal.
	Settle(ctx context.Context, id uuid.UUID, settlement models.RunSettlement) (applied bool, err error)
}

// Tx exposes the repositories bound to one unit of atomicity.
type Tx interface {
	Wallets() WalletStore
	Ledger() LedgerJournal
	Pix() PixRepository
	Runs() RunRepository
}

// Store is the transactional source of truth. Repositories taken directly from the Store
// run each call in its own transaction; WithinTx hands fn a handle whose calls share one
// transaction, committed when fn returns nil and rolled back otherwise.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
