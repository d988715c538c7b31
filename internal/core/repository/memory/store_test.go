package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/Nzyazin/arenapay/internal/core/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWallet(t *testing.T, s *memory.Store, available int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	account := uuid.New()
	_, err := s.Wallets().EnsureWallet(ctx, account, "")
	require.NoError(t, err)
	if available > 0 {
		_, err = s.Wallets().ApplyDelta(ctx, account, models.BalanceDelta{models.BalanceAvailable: available})
		require.NoError(t, err)
	}
	return account
}

func TestWithinTx_RollbackDiscardsWrites(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	account := seedWallet(t, s, 1000)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Wallets().ApplyDelta(ctx, account, models.BalanceDelta{models.BalanceAvailable: 500}); err != nil {
			return err
		}
		if err := tx.Pix().Insert(ctx, &models.PixTransaction{AccountID: account, IdempotencyKey: "k"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := s.Wallets().GetByAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(1000), w.AvailableBalanceCents)
	_, err = s.Pix().GetByIdempotencyKey(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestApplyGuardedDelta(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	account := seedWallet(t, s, 1000)

	w, applied, failed, err := s.Wallets().ApplyGuardedDelta(ctx, account, models.BalanceDelta{
		models.BalanceAvailable: -1001,
		models.BalanceInGame:    1001,
	}, nil)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.BalanceAvailable, failed)
	assert.Equal(t, models.Cents(1000), w.AvailableBalanceCents)

	w, applied, _, err = s.Wallets().ApplyGuardedDelta(ctx, account, models.BalanceDelta{
		models.BalanceAvailable: -1000,
		models.BalanceInGame:    1000,
	}, nil)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Zero(t, w.AvailableBalanceCents)
	assert.Equal(t, models.Cents(1000), w.InGameBalanceCents)

	_, applied, failed, err = s.Wallets().ApplyGuardedDelta(ctx, uuid.New(), models.BalanceDelta{models.BalanceBlocked: -1}, nil)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.BalanceBlocked, failed)
}

func TestApplyDelta_NeverNegative(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	account := seedWallet(t, s, 10)

	_, err := s.Wallets().ApplyDelta(ctx, account, models.BalanceDelta{models.BalanceAvailable: -11})
	assert.ErrorIs(t, err, repository.ErrNegativeBalance)

	w, err := s.Wallets().GetByAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(10), w.AvailableBalanceCents)
}

func TestConcurrentGuardedDebits(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	account := seedWallet(t, s, 1000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _, err := s.Wallets().ApplyGuardedDelta(ctx, account, models.BalanceDelta{models.BalanceAvailable: -700}, nil)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	w, err := s.Wallets().GetByAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(300), w.AvailableBalanceCents)
}

func TestLedger_DuplicateReferenceRejected(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	account := seedWallet(t, s, 0)

	entry := func() *models.LedgerEntry {
		return &models.LedgerEntry{
			AccountID:     account,
			EntryType:     models.EntryDeposit,
			Direction:     models.DirectionCredit,
			AmountCents:   100,
			ReferenceType: models.ReferencePix,
			ReferenceID:   "tx-1",
		}
	}
	require.NoError(t, s.Ledger().Append(ctx, entry()))
	assert.ErrorIs(t, s.Ledger().Append(ctx, entry()), repository.ErrDuplicateLedgerEntry)

	exists, err := s.Ledger().Exists(ctx, entry().Ref())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLedger_GetByRef(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	account := seedWallet(t, s, 0)

	entry := &models.LedgerEntry{
		AccountID:     account,
		EntryType:     models.EntryAdminAdjust,
		Direction:     models.DirectionDebit,
		AmountCents:   250,
		Currency:      models.DefaultCurrency,
		ReferenceType: models.ReferenceAdmin,
		ReferenceID:   "ops-7",
		Metadata:      models.JSONMap{"reason": "chargeback"},
	}
	require.NoError(t, s.Ledger().Append(ctx, entry))

	got, err := s.Ledger().GetByRef(ctx, entry.Ref())
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, account, got.AccountID)
	assert.Equal(t, models.DirectionDebit, got.Direction)
	assert.Equal(t, models.Cents(250), got.AmountCents)
	assert.Equal(t, "chargeback", got.Metadata["reason"])

	got.Metadata["reason"] = "changed"
	again, err := s.Ledger().GetByRef(ctx, entry.Ref())
	require.NoError(t, err)
	assert.Equal(t, "chargeback", again.Metadata["reason"])

	other := entry.Ref()
	other.ReferenceID = "ops-8"
	_, err = s.Ledger().GetByRef(ctx, other)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLedger_ListNewestFirstWithPaging(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	s := memory.New(memory.WithClock(func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}))
	ctx := context.Background()
	account := seedWallet(t, s, 0)

	for i, typ := range []models.EntryType{models.EntryDeposit, models.EntryStakeReserved, models.EntryPrize, models.EntryDeposit} {
		require.NoError(t, s.Ledger().Append(ctx, &models.LedgerEntry{
			AccountID:     account,
			EntryType:     typ,
			Direction:     models.DirectionCredit,
			AmountCents:   models.Cents(100 * (i + 1)),
			ReferenceType: models.ReferenceRun,
			ReferenceID:   uuid.NewString(),
		}))
	}

	all, total, err := s.Ledger().ListByAccount(ctx, account, models.LedgerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, all, 4)
	assert.Equal(t, models.Cents(400), all[0].AmountCents)
	assert.Equal(t, models.Cents(100), all[3].AmountCents)

	page, total, err := s.Ledger().ListByAccount(ctx, account, models.LedgerFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, models.Cents(300), page[0].AmountCents)

	deposits, total, err := s.Ledger().ListByAccount(ctx, account, models.LedgerFilter{Types: []models.EntryType{models.EntryDeposit}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, deposits, 2)
}

func TestPix_TransitionOnlyFromExpectedStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	txid := "abc"
	tx := &models.PixTransaction{
		AccountID:      uuid.New(),
		TxType:         models.PixDeposit,
		Status:         models.PixPending,
		AmountCents:    100,
		IdempotencyKey: "dep-1",
		Txid:           &txid,
	}
	require.NoError(t, s.Pix().Insert(ctx, tx))
	assert.ErrorIs(t, s.Pix().Insert(ctx, &models.PixTransaction{IdempotencyKey: "dep-1"}), repository.ErrDuplicateIdempotencyKey)

	e2e := "E2E"
	applied, err := s.Pix().Transition(ctx, tx.ID, models.PixPending, models.PixConfirmed, models.PixTransition{
		E2EID:   &e2e,
		Payload: models.JSONMap{"note": "x"},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Pix().Transition(ctx, tx.ID, models.PixPending, models.PixFailed, models.PixTransition{})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.Pix().GetByTxid(ctx, txid)
	require.NoError(t, err)
	assert.Equal(t, models.PixConfirmed, got.Status)
	require.NotNil(t, got.E2EID)
	assert.Equal(t, "E2E", *got.E2EID)
	note, _ := got.Payload.String("note")
	assert.Equal(t, "x", note)

	missing, err := s.Pix().ListConfirmedDepositsMissingLedger(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, tx.ID, missing[0].ID)
}
