package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const pixColumns = `id, account_id, tx_type, status, amount_cents, currency, idempotency_key, txid, e2e_id,
        provider, external_reference, payload, created_at, updated_at, completed_at`

type postgresPixRepo struct {
	q sqlx.ExtContext
}

func (r *postgresPixRepo) Insert(ctx context.Context, tx *models.PixTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Payload == nil {
		tx.Payload = models.JSONMap{}
	}

	const query = `INSERT INTO pix_transactions
        (id, account_id, tx_type, status, amount_cents, currency, idempotency_key, txid, e2e_id,
         provider, external_reference, payload, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
        RETURNING updated_at`

	err := sqlx.GetContext(ctx, r.q, &tx.UpdatedAt, query,
		tx.ID,
		tx.AccountID,
		tx.TxType,
		tx.Status,
		tx.AmountCents,
		tx.Currency,
		tx.IdempotencyKey,
		tx.Txid,
		tx.E2EID,
		tx.Provider,
		tx.ExternalReference,
		tx.Payload,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pix transaction: %w", mapError(err))
	}
	return nil
}

func (r *postgresPixRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PixTransaction, error) {
	return r.getOne(ctx, `SELECT `+pixColumns+` FROM pix_transactions WHERE id = $1`, id)
}

func (r *postgresPixRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PixTransaction, error) {
	return r.getOne(ctx, `SELECT `+pixColumns+` FROM pix_transactions WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresPixRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.PixTransaction, error) {
	return r.getOne(ctx, `SELECT `+pixColumns+` FROM pix_transactions WHERE idempotency_key = $1`, key)
}

func (r *postgresPixRepo) GetByTxid(ctx context.Context, txid string) (*models.PixTransaction, error) {
	return r.getOne(ctx, `SELECT `+pixColumns+` FROM pix_transactions WHERE txid = $1`, txid)
}

func (r *postgresPixRepo) getOne(ctx context.Context, query string, arg any) (*models.PixTransaction, error) {
	var tx models.PixTransaction
	if err := sqlx.GetContext(ctx, r.q, &tx, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: pix transaction %v", repository.ErrNotFound, arg)
		}
		return nil, fmt.Errorf("get pix transaction: %w", err)
	}
	return &tx, nil
}

func (r *postgresPixRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.PixStatus, change models.PixTransition) (bool, error) {
	const query = `UPDATE pix_transactions
        SET status = $3,
            e2e_id = COALESCE($4, e2e_id),
            completed_at = COALESCE($5, completed_at),
            payload = payload || $6::jsonb,
            updated_at = NOW()
        WHERE id = $1 AND status = $2`

	res, err := r.q.ExecContext(ctx, query, id, from, to, change.E2EID, change.CompletedAt, change.Payload)
	if err != nil {
		return false, fmt.Errorf("transition pix transaction %s->%s: %w", from, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *postgresPixRepo) ListByStatus(ctx context.Context, txType models.PixTxType, status models.PixStatus, createdBefore time.Time, limit int) ([]models.PixTransaction, error) {
	query := `SELECT ` + pixColumns + ` FROM pix_transactions
        WHERE tx_type = $1 AND status = $2 AND created_at < $3
        ORDER BY created_at, id
        LIMIT $4`

	txs := []models.PixTransaction{}
	if err := sqlx.SelectContext(ctx, r.q, &txs, query, txType, status, createdBefore, limit); err != nil {
		return nil, fmt.Errorf("list pix transactions by status: %w", err)
	}
	return txs, nil
}

func (r *postgresPixRepo) ListConfirmedDepositsMissingLedger(ctx context.Context, since time.Time, limit int) ([]models.PixTransaction, error) {
	query := `SELECT ` + pixColumns + ` FROM pix_transactions p
        WHERE p.tx_type = 'DEPOSIT'
          AND p.status = 'CONFIRMED'
          AND p.created_at >= $1
          AND NOT EXISTS (
              SELECT 1 FROM ledger_entries l
              WHERE l.reference_type = 'PIX'
                AND l.reference_id = p.id::text
                AND l.entry_type = 'DEPOSIT')
        ORDER BY p.created_at, p.id
        LIMIT $2`

	txs := []models.PixTransaction{}
	if err := sqlx.SelectContext(ctx, r.q, &txs, query, since, limit); err != nil {
		return nil, fmt.Errorf("list unbooked deposits: %w", err)
	}
	return txs, nil
}

func (r *postgresPixRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.PixTransaction, int, error) {
	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, `SELECT COUNT(*) FROM pix_transactions WHERE account_id = $1`, accountID); err != nil {
		return nil, 0, fmt.Errorf("count pix transactions: %w", err)
	}

	query := `SELECT ` + pixColumns + ` FROM pix_transactions
        WHERE account_id = $1
        ORDER BY created_at DESC, id
        LIMIT $2 OFFSET $3`

	txs := []models.PixTransaction{}
	if err := sqlx.SelectContext(ctx, r.q, &txs, query, accountID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list pix transactions: %w", err)
	}
	return txs, total, nil
}
