package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const walletColumns = `id, account_id, available_balance_cents, in_game_balance_cents, blocked_balance_cents, currency, created_at, updated_at`

type postgresWalletRepo struct {
	q   sqlx.ExtContext
	log logger.Logger
}

func (r *postgresWalletRepo) EnsureWallet(ctx context.Context, accountID uuid.UUID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `
        INSERT INTO wallets (id, account_id, currency)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id) DO UPDATE SET updated_at = wallets.updated_at
        RETURNING ` + walletColumns
	err := sqlx.GetContext(ctx, r.q, &wallet, query, uuid.New(), accountID, models.NormalizeCurrency(currency))
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	return &wallet, nil
}

func (r *postgresWalletRepo) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE account_id = $1`
	err := sqlx.GetContext(ctx, r.q, &wallet, query, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: wallet for account %s", repository.ErrNotFound, accountID)
		}
		return nil, fmt.Errorf("error getting wallet: %w", err)
	}
	return &wallet, nil
}

func (r *postgresWalletRepo) ApplyDelta(ctx context.Context, accountID uuid.UUID, delta models.BalanceDelta) (*models.Wallet, error) {
	query, args := buildDeltaUpdate(accountID, delta, nil)

	var wallet models.Wallet
	err := sqlx.GetContext(ctx, r.q, &wallet, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: wallet for account %s", repository.ErrNotFound, accountID)
		}
		return nil, fmt.Errorf("apply delta: %w", mapError(err))
	}
	return &wallet, nil
}

func (r *postgresWalletRepo) ApplyGuardedDelta(ctx context.Context, accountID uuid.UUID, delta models.BalanceDelta, guard models.BalanceGuard) (*models.Wallet, bool, models.BalanceField, error) {
	effective := guard.Effective(delta)
	query, args := buildDeltaUpdate(accountID, delta, effective)

	var wallet models.Wallet
	err := sqlx.GetContext(ctx, r.q, &wallet, query, args...)
	if err == nil {
		return &wallet, true, "", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, "", fmt.Errorf("apply guarded delta: %w", mapError(err))
	}

	// No row matched: either the wallet is missing or a guard failed. Read the
	// post-state to name the bucket.
	current, getErr := r.GetByAccount(ctx, accountID)
	if getErr != nil {
		if errors.Is(getErr, repository.ErrNotFound) {
			return nil, false, firstGuarded(effective), nil
		}
		return nil, false, "", getErr
	}
	if ok, failed := effective.Allows(current); !ok {
		r.log.Debug("Guarded update rejected",
			logger.StringField("account_id", accountID.String()),
			logger.StringField("bucket", string(failed)))
		return current, false, failed, nil
	}
	// The winner of a race changed the row between our UPDATE and the read.
	return current, false, firstGuarded(effective), nil
}

// buildDeltaUpdate renders a single-row conditional UPDATE. Field names come from the
// closed BalanceField set, never from input.
func buildDeltaUpdate(accountID uuid.UUID, delta models.BalanceDelta, guard models.BalanceGuard) (string, []any) {
	args := []any{accountID}
	sets := make([]string, 0, len(delta)+1)
	for _, f := range models.BalanceFields {
		d, ok := delta[f]
		if !ok || d == 0 {
			continue
		}
		args = append(args, d)
		sets = append(sets, fmt.Sprintf("%s = %s + $%d", f, f, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	where := []string{"account_id = $1"}
	for _, f := range models.BalanceFields {
		floor, ok := guard[f]
		if !ok {
			continue
		}
		args = append(args, floor)
		where = append(where, fmt.Sprintf("%s >= $%d", f, len(args)))
	}

	query := `UPDATE wallets SET ` + strings.Join(sets, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + walletColumns
	return query, args
}

func firstGuarded(guard models.BalanceGuard) models.BalanceField {
	for _, f := range models.BalanceFields {
		if _, ok := guard[f]; ok {
			return f
		}
	}
	return models.BalanceAvailable
}
