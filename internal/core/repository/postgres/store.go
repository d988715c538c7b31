package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// PostgresStore implements repository.Store on top of sqlx.
// Guarded updates are single-row UPDATE ... WHERE statements, so READ COMMITTED is enough:
// a writer blocked on the same row re-evaluates its WHERE clause against the committed row.
type PostgresStore struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewPostgresStore(db *sqlx.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Wallets() repository.WalletStore {
	return &postgresWalletRepo{q: s.db, log: s.log}
}

func (s *PostgresStore) Ledger() repository.LedgerJournal {
	return &postgresLedgerRepo{q: s.db}
}

func (s *PostgresStore) Pix() repository.PixRepository {
	return &postgresPixRepo{q: s.db}
}

func (s *PostgresStore) Runs() repository.RunRepository {
	return &postgresRunRepo{q: s.db}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	var isCommitted bool
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if isCommitted {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
	}()

	if err = fn(&txHandle{q: tx, log: s.log}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		s.log.Error("Error committing transaction", logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}

type txHandle struct {
	q   sqlx.ExtContext
	log logger.Logger
}

func (t *txHandle) Wallets() repository.WalletStore { return &postgresWalletRepo{q: t.q, log: t.log} }
func (t *txHandle) Ledger() repository.LedgerJournal { return &postgresLedgerRepo{q: t.q} }
func (t *txHandle) Pix() repository.PixRepository { return &postgresPixRepo{q: t.q} }
func (t *txHandle) Runs() repository.RunRepository { return &postgresRunRepo{q: t.q} }

// mapError turns constraint violations into repository sentinels.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pgUniqueViolation:
		switch pqErr.Constraint {
		case "pix_transactions_idempotency_key_key":
			return fmt.Errorf("%w: %s", repository.ErrDuplicateIdempotencyKey, pqErr.Detail)
		case "ledger_entries_reference_key":
			return fmt.Errorf("%w: %s", repository.ErrDuplicateLedgerEntry, pqErr.Detail)
		}
	case pgCheckViolation:
		switch pqErr.Constraint {
		case "wallets_available_non_negative", "wallets_in_game_non_negative", "wallets_blocked_non_negative":
			return fmt.Errorf("%w: %s", repository.ErrNegativeBalance, pqErr.Constraint)
		}
	}
	return err
}
