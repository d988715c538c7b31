package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/jointoken"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/pix"
	"github.com/Nzyazin/arenapay/internal/core/repository/memory"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type env struct {
	store   *memory.Store
	events  *recorder
	wallets usecase.WalletUsecase
	pix     usecase.PixUsecase
	runs    usecase.RunUsecase
	tokens  *jointoken.Issuer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := memory.New(memory.WithClock(clock))
	events := &recorder{}
	deps := usecase.Deps{
		Store:  store,
		Events: events,
		Log:    zaptest.NewLogger(t),
		Now:    clock,
	}
	sandbox := pix.NewSandbox(time.Hour)
	sandbox.Now = clock
	tokens := jointoken.NewIssuer("join-secret", 5*time.Minute)
	return &env{
		store:   store,
		events:  events,
		wallets: usecase.NewWalletUsecase(deps),
		pix:     usecase.NewPixUsecase(deps, sandbox, pix.SandboxProvider),
		runs: usecase.NewRunUsecase(deps, usecase.RunRules{
			MinStakeCents: 100,
			MaxStakeCents: 100000,
			HouseFeeBps:   275,
		}, tokens),
		tokens: tokens,
	}
}

// fund deposits and confirms amount for account.
func (e *env) fund(t *testing.T, account uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: amount})
	require.NoError(t, err)
	_, err = e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: *tx.Txid, AmountCents: amount})
	require.NoError(t, err)
}

func (e *env) wallet(t *testing.T, account uuid.UUID) *models.Wallet {
	t.Helper()
	w, err := e.store.Wallets().GetByAccount(context.Background(), account)
	require.NoError(t, err)
	return w
}

func (e *env) entries(t *testing.T, account uuid.UUID, types ...models.EntryType) []models.LedgerEntry {
	t.Helper()
	entries, _, err := e.store.Ledger().ListByAccount(context.Background(), account, models.LedgerFilter{Types: types})
	require.NoError(t, err)
	return entries
}
