package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/pix"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCreateDeposit_IdempotentReplay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	req := usecase.DepositRequest{AccountID: account, AmountCents: 1500, IdempotencyKey: "dep-key-1"}

	first, err := e.pix.CreateDeposit(ctx, req)
	require.NoError(t, err)
	second, err := e.pix.CreateDeposit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.PixPending, first.Status)
	assert.Equal(t, models.DefaultCurrency, first.Currency)
	_, ok := first.ExpiresAt()
	assert.True(t, ok)

	txs, page, err := e.pix.ListTransactions(ctx, account, 0, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, 1, page.Total)
}

func TestCreateDeposit_KeyReuseWithDifferentRequestConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()

	_, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 1500, IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 1600, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, usecase.ErrIdempotencyConflict)
	assert.Equal(t, usecase.KindConflict, usecase.KindOf(err))

	_, err = e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: uuid.New(), AmountCents: 1500, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, usecase.ErrIdempotencyConflict)
}

func TestCreateDeposit_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := map[string]usecase.DepositRequest{
		"zero amount":     {AccountID: uuid.New(), AmountCents: 0},
		"negative amount": {AccountID: uuid.New(), AmountCents: -5},
		"no account":      {AmountCents: 100},
		"bad currency":    {AccountID: uuid.New(), AmountCents: 100, Currency: "REAL"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.pix.CreateDeposit(ctx, req)
			assert.Equal(t, usecase.KindValidation, usecase.KindOf(err))
		})
	}
}

func TestConfirmDeposit_CreditsExactlyOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()

	tx, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 2500})
	require.NoError(t, err)

	c := usecase.DepositConfirmation{Txid: *tx.Txid, AmountCents: 2500, E2EID: "E2E-1"}
	first, err := e.pix.ConfirmDeposit(ctx, c)
	require.NoError(t, err)
	second, err := e.pix.ConfirmDeposit(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, models.PixConfirmed, first.Status)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, first.E2EID)
	assert.Equal(t, "E2E-1", *first.E2EID)
	assert.NotNil(t, first.CompletedAt)

	assert.Equal(t, models.Cents(2500), e.wallet(t, account).AvailableBalanceCents)
	deposits := e.entries(t, account, models.EntryDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, models.DirectionCredit, deposits[0].Direction)
	assert.Equal(t, tx.ID.String(), deposits[0].ReferenceID)
	assert.Equal(t, []string{notify.DepositConfirmed}, e.events.types())
}

func TestConfirmDeposit_ConcurrentWebhooksCreditOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()

	tx, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 700})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: *tx.Txid, AmountCents: 700})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, models.Cents(700), e.wallet(t, account).AvailableBalanceCents)
	assert.Len(t, e.entries(t, account, models.EntryDeposit), 1)
}

func TestConfirmDeposit_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()

	tx, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 900})
	require.NoError(t, err)

	_, err = e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: "unknown", AmountCents: 900})
	assert.Equal(t, usecase.KindNotFound, usecase.KindOf(err))

	_, err = e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: *tx.Txid, AmountCents: 901})
	assert.Equal(t, usecase.KindConflict, usecase.KindOf(err))

	_, err = e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: *tx.Txid, AmountCents: 900, Currency: "USD"})
	assert.Equal(t, usecase.KindConflict, usecase.KindOf(err))

	_, err = e.pix.FailDeposit(ctx, *tx.Txid, "")
	require.NoError(t, err)
	_, err = e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: *tx.Txid, AmountCents: 900})
	assert.Equal(t, usecase.KindConflict, usecase.KindOf(err))

	assert.Empty(t, e.entries(t, account))
}

func TestFailDeposit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()

	tx, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 300})
	require.NoError(t, err)

	failed, err := e.pix.FailDeposit(ctx, *tx.Txid, "payer_cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.PixFailed, failed.Status)
	reason, _ := failed.Payload.String(models.PayloadFailReason)
	assert.Equal(t, "payer_cancelled", reason)

	again, err := e.pix.FailDeposit(ctx, *tx.Txid, "payer_cancelled")
	require.NoError(t, err)
	assert.Equal(t, failed.ID, again.ID)

	other, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 300})
	require.NoError(t, err)
	_, err = e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: *other.Txid, AmountCents: 300})
	require.NoError(t, err)
	_, err = e.pix.FailDeposit(ctx, *other.Txid, "late")
	assert.Equal(t, usecase.KindConflict, usecase.KindOf(err))
}

func TestRequestWithdrawal_EscrowAndIdempotency(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 5000)

	req := usecase.WithdrawalRequest{
		AccountID:      account,
		AmountCents:    2000,
		PixKey:         "player@example.com",
		PixKeyType:     models.PixKeyEmail,
		IdempotencyKey: "wd-1",
	}
	first, err := e.pix.RequestWithdrawal(ctx, req)
	require.NoError(t, err)
	second, err := e.pix.RequestWithdrawal(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.PixRequested, first.Status)

	w := e.wallet(t, account)
	assert.Equal(t, models.Cents(3000), w.AvailableBalanceCents)
	assert.Equal(t, models.Cents(2000), w.BlockedBalanceCents)
	assert.Equal(t, int64(5000), w.Total())
	assert.Len(t, e.entries(t, account, models.EntryWithdrawRequest), 1)

	req.PixKey = "someone-else@example.com"
	_, err = e.pix.RequestWithdrawal(ctx, req)
	assert.ErrorIs(t, err, usecase.ErrIdempotencyConflict)
}

func TestRequestWithdrawal_InsufficientFundsLeavesNoTrace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 1000)

	_, err := e.pix.RequestWithdrawal(ctx, usecase.WithdrawalRequest{
		AccountID:      account,
		AmountCents:    1001,
		PixKey:         "12345678901",
		PixKeyType:     models.PixKeyCPF,
		IdempotencyKey: "wd-too-much",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, usecase.ErrInsufficientFunds)
	var funds *usecase.FundsError
	require.ErrorAs(t, err, &funds)
	assert.Equal(t, models.BalanceAvailable, funds.Bucket)

	_, err = e.store.Pix().GetByIdempotencyKey(ctx, "wd-too-much")
	assert.Error(t, err)
	w := e.wallet(t, account)
	assert.Equal(t, models.Cents(1000), w.AvailableBalanceCents)
	assert.Zero(t, w.BlockedBalanceCents)
	assert.Empty(t, e.entries(t, account, models.EntryWithdrawRequest))
}

func TestRequestWithdrawal_ConcurrentDebitsOnlyOneWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 1000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.pix.RequestWithdrawal(ctx, usecase.WithdrawalRequest{
				AccountID:   account,
				AmountCents: 700,
				PixKey:      "key",
				PixKeyType:  models.PixKeyRandom,
			})
		}(i)
	}
	wg.Wait()

	var ok, funds int
	for _, err := range errs {
		switch usecase.KindOf(err) {
		case usecase.KindOK:
			ok++
		case usecase.KindInsufficientFunds:
			funds++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, funds)
	assert.Equal(t, models.Cents(300), e.wallet(t, account).AvailableBalanceCents)
}

func TestCompleteWithdrawal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 5000)

	tx, err := e.pix.RequestWithdrawal(ctx, usecase.WithdrawalRequest{
		AccountID: account, AmountCents: 2000, PixKey: "k", PixKeyType: models.PixKeyRandom,
	})
	require.NoError(t, err)

	receipt := &pix.PayoutReceipt{E2EID: "E2E-PAY", ExternalReference: "prov-1"}
	paid, err := e.pix.CompleteWithdrawal(ctx, tx.ID, receipt)
	require.NoError(t, err)
	assert.Equal(t, models.PixPaid, paid.Status)

	again, err := e.pix.CompleteWithdrawal(ctx, tx.ID, receipt)
	require.NoError(t, err)
	assert.Equal(t, models.PixPaid, again.Status)

	w := e.wallet(t, account)
	assert.Equal(t, models.Cents(3000), w.AvailableBalanceCents)
	assert.Zero(t, w.BlockedBalanceCents)
	paidEntries := e.entries(t, account, models.EntryWithdrawPaid)
	require.Len(t, paidEntries, 1)
	require.NotNil(t, paidEntries[0].ExternalReference)
	assert.Equal(t, "E2E-PAY", *paidEntries[0].ExternalReference)

	_, err = e.pix.FailWithdrawal(ctx, tx.ID, "too late")
	assert.Equal(t, usecase.KindConflict, usecase.KindOf(err))
}

func TestCompleteWithdrawal_MissingEscrowStaysPaid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	_, err := e.store.Wallets().EnsureWallet(ctx, account, "")
	require.NoError(t, err)

	tx := &models.PixTransaction{
		AccountID:      account,
		TxType:         models.PixWithdrawal,
		Status:         models.PixRequested,
		AmountCents:    400,
		Currency:       models.DefaultCurrency,
		IdempotencyKey: "orphan",
		Provider:       pix.SandboxProvider,
	}
	require.NoError(t, e.store.Pix().Insert(ctx, tx))

	paid, err := e.pix.CompleteWithdrawal(ctx, tx.ID, &pix.PayoutReceipt{E2EID: "E2E"})
	assert.ErrorIs(t, err, usecase.ErrLedgerInconsistency)
	require.NotNil(t, paid)
	assert.Equal(t, models.PixPaid, paid.Status)
	assert.Empty(t, e.entries(t, account))
}

func TestFailWithdrawal_ReturnsFunds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 5000)

	tx, err := e.pix.RequestWithdrawal(ctx, usecase.WithdrawalRequest{
		AccountID: account, AmountCents: 2000, PixKey: "k", PixKeyType: models.PixKeyRandom,
	})
	require.NoError(t, err)

	failed, err := e.pix.FailWithdrawal(ctx, tx.ID, "key not found")
	require.NoError(t, err)
	assert.Equal(t, models.PixFailed, failed.Status)

	_, err = e.pix.FailWithdrawal(ctx, tx.ID, "key not found")
	require.NoError(t, err)

	w := e.wallet(t, account)
	assert.Equal(t, models.Cents(5000), w.AvailableBalanceCents)
	assert.Zero(t, w.BlockedBalanceCents)
	refunds := e.entries(t, account, models.EntryWithdrawFailed)
	require.Len(t, refunds, 1)
	assert.Equal(t, models.DirectionCredit, refunds[0].Direction)
}

func TestRepairDeposit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	_, err := e.store.Wallets().EnsureWallet(ctx, account, "")
	require.NoError(t, err)

	tx := &models.PixTransaction{
		AccountID:      account,
		TxType:         models.PixDeposit,
		Status:         models.PixConfirmed,
		AmountCents:    1200,
		Currency:       models.DefaultCurrency,
		IdempotencyKey: "crashed",
		Provider:       pix.SandboxProvider,
	}
	require.NoError(t, e.store.Pix().Insert(ctx, tx))

	repaired, err := e.pix.RepairDeposit(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, repaired)

	repaired, err = e.pix.RepairDeposit(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, repaired)

	assert.Equal(t, models.Cents(1200), e.wallet(t, account).AvailableBalanceCents)
	entries := e.entries(t, account, models.EntryDeposit)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Metadata["repaired"])
}

func TestGetTransaction_ScopedToAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()

	tx, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 100})
	require.NoError(t, err)

	got, err := e.pix.GetTransaction(ctx, account, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	_, err = e.pix.GetTransaction(ctx, uuid.New(), tx.ID)
	assert.Equal(t, usecase.KindNotFound, usecase.KindOf(err))
}

func TestCreateDeposit_CurrencyFixedByWallet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 1000)

	_, err := e.pix.CreateDeposit(ctx, usecase.DepositRequest{AccountID: account, AmountCents: 500, Currency: "USD", IdempotencyKey: "dep-usd"})
	assert.ErrorIs(t, err, usecase.ErrCurrencyMismatch)
	assert.Equal(t, usecase.KindValidation, usecase.KindOf(err))

	_, err = e.store.Pix().GetByIdempotencyKey(ctx, "dep-usd")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	w := e.wallet(t, account)
	assert.Equal(t, models.DefaultCurrency, w.Currency)
	assert.Equal(t, models.Cents(1000), w.AvailableBalanceCents)
}

func TestConfirmDeposit_ForeignCurrencyNotCredited(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 1000)

	txid := "usd-charge-0001"
	deposit := &models.PixTransaction{
		ID:             uuid.New(),
		AccountID:      account,
		TxType:         models.PixDeposit,
		Status:         models.PixPending,
		AmountCents:    700,
		Currency:       "USD",
		IdempotencyKey: "dep-usd-direct",
		Txid:           &txid,
		Provider:       pix.SandboxProvider,
	}
	require.NoError(t, e.store.Pix().Insert(ctx, deposit))

	_, err := e.pix.ConfirmDeposit(ctx, usecase.DepositConfirmation{Txid: txid, AmountCents: 700, Currency: "USD"})
	assert.ErrorIs(t, err, usecase.ErrCurrencyMismatch)

	stored, err := e.store.Pix().GetByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PixPending, stored.Status)
	assert.Equal(t, models.Cents(1000), e.wallet(t, account).AvailableBalanceCents)
	assert.Len(t, e.entries(t, account, models.EntryDeposit), 1)
}

func TestRequestWithdrawal_CurrencyFixedByWallet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 1000)

	_, err := e.pix.RequestWithdrawal(ctx, usecase.WithdrawalRequest{
		AccountID:      account,
		AmountCents:    400,
		Currency:       "EUR",
		PixKey:         "player@example.com",
		PixKeyType:     models.PixKeyEmail,
		IdempotencyKey: "wd-eur",
	})
	assert.ErrorIs(t, err, usecase.ErrCurrencyMismatch)
	assert.Equal(t, usecase.KindValidation, usecase.KindOf(err))

	_, err = e.store.Pix().GetByIdempotencyKey(ctx, "wd-eur")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	w := e.wallet(t, account)
	assert.Equal(t, models.Cents(1000), w.AvailableBalanceCents)
	assert.Zero(t, w.BlockedBalanceCents)
	assert.Empty(t, e.entries(t, account, models.EntryWithdrawRequest))
}

// rendezvousGateway holds every charge until parties callers have asked for one.
type rendezvousGateway struct {
	pix.ChargeGateway
	arrived sync.WaitGroup
}

func newRendezvousGateway(inner pix.ChargeGateway, parties int) *rendezvousGateway {
	g := &rendezvousGateway{ChargeGateway: inner}
	g.arrived.Add(parties)
	return g
}

func (g *rendezvousGateway) CreateCharge(ctx context.Context, req pix.ChargeRequest) (*pix.Charge, error) {
	g.arrived.Done()
	g.arrived.Wait()
	return g.ChargeGateway.CreateCharge(ctx, req)
}

func TestCreateDeposit_ConcurrentSameKeyYieldsOneDeposit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	sandbox := pix.NewSandbox(time.Hour)
	sandbox.Now = func() time.Time { return testNow }
	deps := usecase.Deps{Store: e.store, Events: e.events, Log: zaptest.NewLogger(t), Now: sandbox.Now}
	uc := usecase.NewPixUsecase(deps, newRendezvousGateway(sandbox, 2), pix.SandboxProvider)

	req := usecase.DepositRequest{AccountID: account, AmountCents: 2500, IdempotencyKey: "dep-race"}
	var wg sync.WaitGroup
	results := make([]*models.PixTransaction, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = uc.CreateDeposit(ctx, req)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)
	assert.Equal(t, results[0].Txid, results[1].Txid)

	txs, page, err := uc.ListTransactions(ctx, account, 0, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, 1, page.Total)
}

// staleKeyStore makes the first parties idempotency lookups that miss wait for
// each other, so all of them go on to insert.
type staleKeyStore struct {
	repository.Store
	pix *staleKeyPix
}

func (s *staleKeyStore) Pix() repository.PixRepository { return s.pix }

type staleKeyPix struct {
	repository.PixRepository
	parties int32
	misses  atomic.Int32
	arrived sync.WaitGroup
}

func newStaleKeyStore(inner repository.Store, parties int) *staleKeyStore {
	p := &staleKeyPix{PixRepository: inner.Pix(), parties: int32(parties)}
	p.arrived.Add(parties)
	return &staleKeyStore{Store: inner, pix: p}
}

func (p *staleKeyPix) GetByIdempotencyKey(ctx context.Context, key string) (*models.PixTransaction, error) {
	tx, err := p.PixRepository.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) && p.misses.Add(1) <= p.parties {
		p.arrived.Done()
		p.arrived.Wait()
	}
	return tx, err
}

func TestRequestWithdrawal_ConcurrentSameKeyEscrowsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := uuid.New()
	e.fund(t, account, 1000)

	deps := usecase.Deps{Store: newStaleKeyStore(e.store, 2), Events: e.events, Log: zaptest.NewLogger(t), Now: func() time.Time { return testNow }}
	uc := usecase.NewPixUsecase(deps, pix.NewSandbox(time.Hour), pix.SandboxProvider)

	req := usecase.WithdrawalRequest{
		AccountID:      account,
		AmountCents:    400,
		PixKey:         "player@example.com",
		PixKeyType:     models.PixKeyEmail,
		IdempotencyKey: "wd-race",
	}
	var wg sync.WaitGroup
	results := make([]*models.PixTransaction, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = uc.RequestWithdrawal(ctx, req)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)

	w := e.wallet(t, account)
	assert.Equal(t, models.Cents(600), w.AvailableBalanceCents)
	assert.Equal(t, models.Cents(400), w.BlockedBalanceCents)
	assert.Len(t, e.entries(t, account, models.EntryWithdrawRequest), 1)
}
