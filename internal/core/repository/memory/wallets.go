package memory

import (
	"context"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

type wallets struct{ *view }

func (r wallets) EnsureWallet(ctx context.Context, accountID uuid.UUID, currency string) (*models.Wallet, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if w, ok := st.wallets[accountID]; ok {
		return &w, nil
	}
	now := r.now()
	w := models.Wallet{
		ID:        uuid.New(),
		AccountID: accountID,
		Currency:  models.NormalizeCurrency(currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.wallets[accountID] = w
	return &w, nil
}

func (r wallets) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	w, ok := st.wallets[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (r wallets) ApplyDelta(ctx context.Context, accountID uuid.UUID, delta models.BalanceDelta) (*models.Wallet, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	w, ok := st.wallets[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delta.Apply(&w)
	for _, f := range models.BalanceFields {
		if w.Balance(f) < 0 {
			return nil, repository.ErrNegativeBalance
		}
	}
	w.UpdatedAt = r.now()
	st.wallets[accountID] = w
	return &w, nil
}

func (r wallets) ApplyGuardedDelta(ctx context.Context, accountID uuid.UUID, delta models.BalanceDelta, guard models.BalanceGuard) (*models.Wallet, bool, models.BalanceField, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, false, "", err
	}
	defer done()

	w, ok := st.wallets[accountID]
	if !ok {
		return nil, false, firstGuarded(guard, delta), nil
	}
	if allowed, failed := guard.Effective(delta).Allows(&w); !allowed {
		return &w, false, failed, nil
	}
	delta.Apply(&w)
	w.UpdatedAt = r.now()
	st.wallets[accountID] = w
	return &w, true, "", nil
}

func firstGuarded(guard models.BalanceGuard, delta models.BalanceDelta) models.BalanceField {
	eff := guard.Effective(delta)
	for _, f := range models.BalanceFields {
		if _, ok := eff[f]; ok {
			return f
		}
	}
	return models.BalanceAvailable
}
