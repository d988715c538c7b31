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

const runColumns = `id, account_id, arena_id, stake_cents, status, multiplier, payout_cents, house_fee_cents,
        result_reason, created_at, updated_at, ended_at`

type postgresRunRepo struct {
	q sqlx.ExtContext
}

func (r *postgresRunRepo) Insert(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO runs
        (id, account_id, arena_id, stake_cents, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        RETURNING updated_at`

	err := sqlx.GetContext(ctx, r.q, &run.UpdatedAt, query,
		run.ID,
		run.AccountID,
		run.ArenaID,
		run.StakeCents,
		run.Status,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", mapError(err))
	}
	return nil
}

func (r *postgresRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	err := sqlx.GetContext(ctx, r.q, &run, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

func (r *postgresRunRepo) Settle(ctx context.Context, id uuid.UUID, s models.RunSettlement) (bool, error) {
	const query = `UPDATE runs
        SET status = $2,
            multiplier = $3,
            payout_cents = $4,
            house_fee_cents = $5,
            result_reason = $6,
            ended_at = $7,
            updated_at = NOW()
        WHERE id = $1 AND status = 'PREPARING'`

	res, err := r.q.ExecContext(ctx, query,
		id, s.Status, s.Multiplier, s.PayoutCents, s.HouseFeeCents, s.ResultReason, s.EndedAt)
	if err != nil {
		return false, fmt.Errorf("settle run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}
