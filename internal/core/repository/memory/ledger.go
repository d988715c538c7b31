package memory

import (
	"context"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

type ledger struct{ *view }

func (r ledger) Append(ctx context.Context, entry *models.LedgerEntry) error {
	st, done, err := r.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, dup := st.ledgerRefs[entry.Ref()]; dup {
		return repository.ErrDuplicateLedgerEntry
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	stored := *entry
	stored.Metadata = entry.Metadata.Clone()
	st.ledger = append(st.ledger, stored)
	st.ledgerRefs[entry.Ref()] = struct{}{}
	return nil
}

func (r ledger) Exists(ctx context.Context, ref models.LedgerRef) (bool, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return false, err
	}
	defer done()

	_, ok := st.ledgerRefs[ref]
	return ok, nil
}

func (r ledger) GetByRef(ctx context.Context, ref models.LedgerRef) (*models.LedgerEntry, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if _, ok := st.ledgerRefs[ref]; !ok {
		return nil, repository.ErrNotFound
	}
	for i := range st.ledger {
		if st.ledger[i].Ref() == ref {
			e := st.ledger[i]
			e.Metadata = e.Metadata.Clone()
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListByAccount returns the newest entries first.
func (r ledger) ListByAccount(ctx context.Context, accountID uuid.UUID, filter models.LedgerFilter) ([]models.LedgerEntry, int, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer done()

	types := make(map[models.EntryType]bool, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = true
	}

	var matched []models.LedgerEntry
	for i := len(st.ledger) - 1; i >= 0; i-- {
		e := st.ledger[i]
		if e.AccountID != accountID {
			continue
		}
		if len(types) > 0 && !types[e.EntryType] {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	return page(matched, filter.Limit, filter.Offset), total, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
