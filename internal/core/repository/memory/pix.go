package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

type pixRepo struct{ *view }

func (r pixRepo) Insert(ctx context.Context, tx *models.PixTransaction) error {
	st, done, err := r.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, dup := st.pixByKey[tx.IdempotencyKey]; dup {
		return repository.ErrDuplicateIdempotencyKey
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := r.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	stored := *tx
	stored.Payload = tx.Payload.Clone()
	st.pix[tx.ID] = stored
	st.pixByKey[tx.IdempotencyKey] = tx.ID
	if tx.Txid != nil {
		st.pixByTxid[*tx.Txid] = tx.ID
	}
	return nil
}

func (r pixRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PixTransaction, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return st.getPix(id)
}

// GetByIDForUpdate needs no extra locking here: transactions are already serialized.
func (r pixRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PixTransaction, error) {
	return r.GetByID(ctx, id)
}

func (r pixRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.PixTransaction, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	id, ok := st.pixByKey[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return st.getPix(id)
}

func (r pixRepo) GetByTxid(ctx context.Context, txid string) (*models.PixTransaction, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	id, ok := st.pixByTxid[txid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return st.getPix(id)
}

func (r pixRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.PixStatus, change models.PixTransition) (bool, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return false, err
	}
	defer done()

	tx, ok := st.pix[id]
	if !ok || tx.Status != from {
		return false, nil
	}
	tx.Status = to
	tx.UpdatedAt = r.now()
	if change.E2EID != nil {
		tx.E2EID = change.E2EID
	}
	if change.CompletedAt != nil {
		tx.CompletedAt = change.CompletedAt
	}
	if len(change.Payload) > 0 {
		merged := tx.Payload.Clone()
		if merged == nil {
			merged = models.JSONMap{}
		}
		for k, v := range change.Payload {
			merged[k] = v
		}
		tx.Payload = merged
	}
	st.pix[id] = tx
	return true, nil
}

func (r pixRepo) ListByStatus(ctx context.Context, txType models.PixTxType, status models.PixStatus, createdBefore time.Time, limit int) ([]models.PixTransaction, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	out := st.filterPix(func(tx *models.PixTransaction) bool {
		return tx.TxType == txType && tx.Status == status && tx.CreatedAt.Before(createdBefore)
	})
	sortOldestFirst(out)
	return page(out, limit, 0), nil
}

func (r pixRepo) ListConfirmedDepositsMissingLedger(ctx context.Context, since time.Time, limit int) ([]models.PixTransaction, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	out := st.filterPix(func(tx *models.PixTransaction) bool {
		if tx.TxType != models.PixDeposit || tx.Status != models.PixConfirmed || tx.CreatedAt.Before(since) {
			return false
		}
		ref := models.LedgerRef{
			ReferenceType: models.ReferencePix,
			ReferenceID:   tx.ID.String(),
			EntryType:     models.EntryDeposit,
		}
		_, booked := st.ledgerRefs[ref]
		return !booked
	})
	sortOldestFirst(out)
	return page(out, limit, 0), nil
}

func (r pixRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.PixTransaction, int, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer done()

	out := st.filterPix(func(tx *models.PixTransaction) bool { return tx.AccountID == accountID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

func (s *state) getPix(id uuid.UUID) (*models.PixTransaction, error) {
	tx, ok := s.pix[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tx.Payload = tx.Payload.Clone()
	return &tx, nil
}

func (s *state) filterPix(keep func(*models.PixTransaction) bool) []models.PixTransaction {
	var out []models.PixTransaction
	for _, tx := range s.pix {
		if keep(&tx) {
			tx.Payload = tx.Payload.Clone()
			out = append(out, tx)
		}
	}
	return out
}

func sortOldestFirst(txs []models.PixTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID.String() < txs[j].ID.String()
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}
