package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const ledgerColumns = `id, account_id, wallet_id, entry_type, direction, amount_cents, currency,
        reference_type, reference_id, external_reference, metadata, created_at`

type postgresLedgerRepo struct {
	q sqlx.ExtContext
}

func (r *postgresLedgerRepo) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Metadata == nil {
		entry.Metadata = models.JSONMap{}
	}

	const query = `INSERT INTO ledger_entries
        (id, account_id, wallet_id, entry_type, direction, amount_cents, currency,
         reference_type, reference_id, external_reference, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING created_at`

	err := sqlx.GetContext(ctx, r.q, &entry.CreatedAt, query,
		entry.ID,
		entry.AccountID,
		entry.WalletID,
		entry.EntryType,
		entry.Direction,
		entry.AmountCents,
		entry.Currency,
		entry.ReferenceType,
		entry.ReferenceID,
		entry.ExternalReference,
		entry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", mapError(err))
	}
	return nil
}

func (r *postgresLedgerRepo) Exists(ctx context.Context, ref models.LedgerRef) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (
        SELECT 1 FROM ledger_entries
        WHERE reference_type = $1 AND reference_id = $2 AND entry_type = $3)`
	if err := sqlx.GetContext(ctx, r.q, &exists, query, ref.ReferenceType, ref.ReferenceID, ref.EntryType); err != nil {
		return false, fmt.Errorf("ledger entry exists: %w", err)
	}
	return exists, nil
}

func (r *postgresLedgerRepo) GetByRef(ctx context.Context, ref models.LedgerRef) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
        WHERE reference_type = $1 AND reference_id = $2 AND entry_type = $3`
	if err := sqlx.GetContext(ctx, r.q, &entry, query, ref.ReferenceType, ref.ReferenceID, ref.EntryType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: ledger entry %s %s", repository.ErrNotFound, ref.ReferenceType, ref.ReferenceID)
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return &entry, nil
}

// ListByAccount returns the newest entries first along with the unpaginated total.
func (r *postgresLedgerRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, filter models.LedgerFilter) ([]models.LedgerEntry, int, error) {
	args := []any{accountID}
	where := []string{"account_id = $1"}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		where = append(where, fmt.Sprintf("entry_type = ANY($%d)", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, `SELECT COUNT(*) FROM ledger_entries WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE ` + cond + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	entries := []models.LedgerEntry{}
	if err := sqlx.SelectContext(ctx, r.q, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, total, nil
}
