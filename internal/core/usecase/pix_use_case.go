package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/pix"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

const maxPixKeyLen = 140

type PixUsecase interface {
	CreateDeposit(ctx context.Context, req DepositRequest) (*models.PixTransaction, error)
	ConfirmDeposit(ctx context.Context, c DepositConfirmation) (*models.PixTransaction, error)
	FailDeposit(ctx context.Context, txid, reason string) (*models.PixTransaction, error)
	RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.PixTransaction, error)
	GetTransaction(ctx context.Context, accountID, id uuid.UUID) (*models.PixTransaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.PixTransaction, models.Pagination, error)

	// RepairDeposit books a confirmed deposit whose ledger entry is missing.
	// It reports false when there was nothing to repair.
	RepairDeposit(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteWithdrawal(ctx context.Context, id uuid.UUID, receipt *pix.PayoutReceipt) (*models.PixTransaction, error)
	FailWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*models.PixTransaction, error)
	// ExpireDeposit fails a pending deposit. It reports false when the deposit had already moved on.
	ExpireDeposit(ctx context.Context, id uuid.UUID) (bool, error)
}

type DepositRequest struct {
	AccountID      uuid.UUID
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

// DepositConfirmation is what the provider webhook reports for a paid charge.
type DepositConfirmation struct {
	Txid        string
	E2EID       string
	AmountCents int64
	Currency    string
}

type WithdrawalRequest struct {
	AccountID      uuid.UUID
	AmountCents    int64
	Currency       string
	PixKey         string
	PixKeyType     models.PixKeyType
	IdempotencyKey string
}

type pixUsecase struct {
	Deps
	gateway  pix.ChargeGateway
	provider string
}

// NewPixUsecase wires the Pix lifecycle. provider names the payout rail recorded on withdrawals.
func NewPixUsecase(deps Deps, gateway pix.ChargeGateway, provider string) PixUsecase {
	return &pixUsecase{Deps: deps, gateway: gateway, provider: provider}
}

func (uc *pixUsecase) CreateDeposit(ctx context.Context, req DepositRequest) (*models.PixTransaction, error) {
	currency, key, err := uc.validateCreate(req.AccountID, req.AmountCents, req.Currency, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	req.Currency, req.IdempotencyKey = currency, key
	match := func(tx *models.PixTransaction) bool {
		return tx.TxType == models.PixDeposit &&
			tx.AccountID == req.AccountID &&
			int64(tx.AmountCents) == req.AmountCents &&
			tx.Currency == req.Currency
	}

	existing, err := uc.replay(ctx, key, match)
	if existing != nil || err != nil {
		return existing, err
	}

	if _, err := walletIn(ctx, uc.Store.Wallets(), req.AccountID, currency); err != nil {
		return nil, err
	}
	charge, err := uc.gateway.CreateCharge(ctx, pix.ChargeRequest{
		IdempotencyKey: key,
		AccountID:      req.AccountID,
		AmountCents:    req.AmountCents,
		Currency:       currency,
	})
	if err != nil {
		uc.Log.Error("Charge creation failed",
			logger.StringField("account_id", req.AccountID.String()),
			logger.StringField("idempotency_key", key),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("create charge: %w", err)
	}

	tx := &models.PixTransaction{
		ID:                uuid.New(),
		AccountID:         req.AccountID,
		TxType:            models.PixDeposit,
		Status:            models.PixPending,
		AmountCents:       models.Cents(req.AmountCents),
		Currency:          currency,
		IdempotencyKey:    key,
		Txid:              strPtr(charge.Txid),
		Provider:          charge.Provider,
		ExternalReference: strPtr(charge.ExternalReference),
		Payload:           charge.Payload.Clone(),
	}
	if err := uc.Store.Pix().Insert(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			return uc.refetch(ctx, key, match)
		}
		return nil, fmt.Errorf("insert deposit: %w", err)
	}

	uc.Log.Info("Deposit created",
		logger.StringField("tx_id", tx.ID.String()),
		logger.StringField("account_id", req.AccountID.String()),
		logger.Int64Field("amount_cents", req.AmountCents))
	return tx, nil
}

func (uc *pixUsecase) ConfirmDeposit(ctx context.Context, c DepositConfirmation) (*models.PixTransaction, error) {
	if c.Txid == "" {
		return nil, validationf("txid is required")
	}
	if c.AmountCents <= 0 {
		return nil, validationf("amount must be a positive integer")
	}

	tx, err := uc.Store.Pix().GetByTxid(ctx, c.Txid)
	if err != nil {
		return nil, notFound("pix transaction", err)
	}
	if tx.TxType != models.PixDeposit {
		return nil, conflictf("transaction %s is not a deposit", tx.ID)
	}
	switch tx.Status {
	case models.PixPending, models.PixConfirmed, models.PixFailed:
	default:
		return nil, conflictf("deposit %s in unexpected status %s", tx.ID, tx.Status)
	}
	currency := tx.Currency
	if c.Currency != "" {
		currency = models.NormalizeCurrency(c.Currency)
	}
	if int64(tx.AmountCents) != c.AmountCents || currency != tx.Currency {
		uc.Log.Warn("Deposit confirmation mismatch",
			logger.StringField("tx_id", tx.ID.String()),
			logger.Int64Field("expected_cents", int64(tx.AmountCents)),
			logger.Int64Field("reported_cents", c.AmountCents))
		return nil, conflictf("amount or currency differ from deposit %s", tx.ID)
	}
	switch tx.Status {
	case models.PixConfirmed:
		return tx, nil
	case models.PixFailed:
		return nil, conflictf("deposit %s already failed", tx.ID)
	}

	now := uc.now()
	var (
		current *models.PixTransaction
		entry   *models.LedgerEntry
	)
	err = uc.Store.WithinTx(ctx, func(t repository.Tx) error {
		applied, err := t.Pix().Transition(ctx, tx.ID, models.PixPending, models.PixConfirmed, models.PixTransition{
			E2EID:       strPtr(c.E2EID),
			CompletedAt: &now,
		})
		if err != nil {
			return err
		}
		if applied {
			if entry, err = creditDeposit(ctx, t, tx, c.E2EID, false); err != nil {
				return err
			}
		}
		current, err = t.Pix().GetByID(ctx, tx.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCurrencyMismatch) {
			uc.Log.Warn("Deposit currency rejected",
				logger.StringField("tx_id", tx.ID.String()),
				logger.ErrorField("error", err))
			return nil, err
		}
		uc.Log.Error("Deposit confirmation failed",
			logger.StringField("tx_id", tx.ID.String()),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("confirm deposit: %w", err)
	}
	if entry == nil {
		if current.Status == models.PixFailed {
			return nil, conflictf("deposit %s already failed", tx.ID)
		}
		return current, nil
	}

	uc.Log.Info("Deposit confirmed",
		logger.StringField("tx_id", tx.ID.String()),
		logger.StringField("account_id", tx.AccountID.String()),
		logger.Int64Field("amount_cents", int64(tx.AmountCents)))
	uc.committed(ctx, pixEvent(notify.DepositConfirmed, current), entry)
	return current, nil
}

// creditDeposit credits available balance and books the DEPOSIT entry for tx.
func creditDeposit(ctx context.Context, t repository.Tx, tx *models.PixTransaction, e2eID string, repaired bool) (*models.LedgerEntry, error) {
	if _, err := walletIn(ctx, t.Wallets(), tx.AccountID, tx.Currency); err != nil {
		return nil, err
	}
	wallet, err := t.Wallets().ApplyDelta(ctx, tx.AccountID, models.BalanceDelta{
		models.BalanceAvailable: int64(tx.AmountCents),
	})
	if err != nil {
		return nil, err
	}
	entry := newEntry(wallet, models.EntryDeposit, models.DirectionCredit, int64(tx.AmountCents), models.ReferencePix, tx.ID.String())
	entry.Currency = tx.Currency
	if e2eID == "" && tx.E2EID != nil {
		e2eID = *tx.E2EID
	}
	entry.ExternalReference = strPtr(e2eID)
	if tx.Txid != nil {
		entry.Metadata["txid"] = *tx.Txid
	}
	if repaired {
		entry.Metadata["repaired"] = true
	}
	if err := appendOnce(ctx, t.Ledger(), entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (uc *pixUsecase) FailDeposit(ctx context.Context, txid, reason string) (*models.PixTransaction, error) {
	if txid == "" {
		return nil, validationf("txid is required")
	}
	if reason == "" {
		reason = "provider_failed"
	}
	tx, err := uc.Store.Pix().GetByTxid(ctx, txid)
	if err != nil {
		return nil, notFound("pix transaction", err)
	}
	if tx.TxType != models.PixDeposit {
		return nil, conflictf("transaction %s is not a deposit", tx.ID)
	}

	applied, current, err := uc.failPending(ctx, tx.ID, reason)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case models.PixFailed:
		if applied {
			uc.Log.Info("Deposit failed",
				logger.StringField("tx_id", tx.ID.String()),
				logger.StringField("reason", reason))
			uc.committed(ctx, pixEvent(notify.DepositFailed, current))
		}
		return current, nil
	case models.PixConfirmed:
		return nil, conflictf("deposit %s already confirmed", tx.ID)
	}
	return nil, conflictf("deposit %s in unexpected status %s", tx.ID, current.Status)
}

func (uc *pixUsecase) ExpireDeposit(ctx context.Context, id uuid.UUID) (bool, error) {
	applied, current, err := uc.failPending(ctx, id, "expired")
	if err != nil {
		return false, err
	}
	if applied {
		uc.committed(ctx, pixEvent(notify.DepositFailed, current))
	}
	return applied, nil
}

func (uc *pixUsecase) failPending(ctx context.Context, id uuid.UUID, reason string) (bool, *models.PixTransaction, error) {
	now := uc.now()
	applied, err := uc.Store.Pix().Transition(ctx, id, models.PixPending, models.PixFailed, models.PixTransition{
		CompletedAt: &now,
		Payload:     models.JSONMap{models.PayloadFailReason: reason},
	})
	if err != nil {
		return false, nil, fmt.Errorf("fail deposit: %w", err)
	}
	current, err := uc.Store.Pix().GetByID(ctx, id)
	if err != nil {
		return false, nil, notFound("pix transaction", err)
	}
	return applied, current, nil
}

func (uc *pixUsecase) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.PixTransaction, error) {
	currency, key, err := uc.validateCreate(req.AccountID, req.AmountCents, req.Currency, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if req.PixKey == "" || len(req.PixKey) > maxPixKeyLen {
		return nil, validationf("pix key is required and at most %d chars", maxPixKeyLen)
	}
	if !req.PixKeyType.Valid() {
		return nil, validationf("unknown pix key type %q", req.PixKeyType)
	}
	match := func(tx *models.PixTransaction) bool {
		k, _ := tx.Payload.String(models.PayloadPixKey)
		kt, _ := tx.Payload.String(models.PayloadPixKeyType)
		return tx.TxType == models.PixWithdrawal &&
			tx.AccountID == req.AccountID &&
			int64(tx.AmountCents) == req.AmountCents &&
			tx.Currency == currency &&
			k == req.PixKey &&
			kt == string(req.PixKeyType)
	}

	existing, err := uc.replay(ctx, key, match)
	if existing != nil || err != nil {
		return existing, err
	}

	tx := &models.PixTransaction{
		ID:             uuid.New(),
		AccountID:      req.AccountID,
		TxType:         models.PixWithdrawal,
		Status:         models.PixRequested,
		AmountCents:    models.Cents(req.AmountCents),
		Currency:       currency,
		IdempotencyKey: key,
		Provider:       uc.provider,
		Payload: models.JSONMap{
			models.PayloadPixKey:     req.PixKey,
			models.PayloadPixKeyType: string(req.PixKeyType),
		},
	}
	var entry *models.LedgerEntry
	err = uc.Store.WithinTx(ctx, func(t repository.Tx) error {
		if _, err := walletIn(ctx, t.Wallets(), req.AccountID, currency); err != nil {
			return err
		}
		if err := t.Pix().Insert(ctx, tx); err != nil {
			return err
		}
		wallet, err := moveGuarded(ctx, t.Wallets(), req.AccountID, models.BalanceDelta{
			models.BalanceAvailable: -req.AmountCents,
			models.BalanceBlocked:   req.AmountCents,
		}, models.BalanceGuard{models.BalanceAvailable: req.AmountCents})
		if err != nil {
			return err
		}
		entry = newEntry(wallet, models.EntryWithdrawRequest, models.DirectionDebit, req.AmountCents, models.ReferencePix, tx.ID.String())
		entry.Currency = currency
		entry.Metadata[models.PayloadPixKeyType] = string(req.PixKeyType)
		return appendOnce(ctx, t.Ledger(), entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			return uc.refetch(ctx, key, match)
		}
		var funds *FundsError
		if errors.As(err, &funds) {
			uc.Log.Warn("Withdrawal rejected",
				logger.StringField("account_id", req.AccountID.String()),
				logger.Int64Field("amount_cents", req.AmountCents),
				logger.StringField("bucket", string(funds.Bucket)))
			return nil, err
		}
		if errors.Is(err, ErrValidation) {
			uc.Log.Warn("Withdrawal rejected",
				logger.StringField("account_id", req.AccountID.String()),
				logger.ErrorField("error", err))
			return nil, err
		}
		uc.Log.Error("Withdrawal request failed",
			logger.StringField("account_id", req.AccountID.String()),
			logger.StringField("idempotency_key", key),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("request withdrawal: %w", err)
	}

	uc.Log.Info("Withdrawal requested",
		logger.StringField("tx_id", tx.ID.String()),
		logger.StringField("account_id", req.AccountID.String()),
		logger.Int64Field("amount_cents", req.AmountCents))
	uc.committed(ctx, pixEvent(notify.WithdrawalRequested, tx), entry)
	return tx, nil
}

func (uc *pixUsecase) CompleteWithdrawal(ctx context.Context, id uuid.UUID, receipt *pix.PayoutReceipt) (*models.PixTransaction, error) {
	if receipt == nil {
		receipt = &pix.PayoutReceipt{}
	}
	now := uc.now()
	var (
		current      *models.PixTransaction
		entry        *models.LedgerEntry
		inconsistent error
	)
	err := uc.Store.WithinTx(ctx, func(t repository.Tx) error {
		tx, err := t.Pix().GetByIDForUpdate(ctx, id)
		if err != nil {
			return notFound("pix transaction", err)
		}
		if tx.TxType != models.PixWithdrawal {
			return conflictf("transaction %s is not a withdrawal", id)
		}
		applied, err := t.Pix().Transition(ctx, id, models.PixRequested, models.PixPaid, models.PixTransition{
			E2EID:       strPtr(receipt.E2EID),
			CompletedAt: &now,
			Payload:     receipt.Payload,
		})
		if err != nil {
			return err
		}
		if applied {
			wallet, err := moveGuarded(ctx, t.Wallets(), tx.AccountID, models.BalanceDelta{
				models.BalanceBlocked: -int64(tx.AmountCents),
			}, nil)
			var funds *FundsError
			switch {
			case errors.As(err, &funds):
				// The provider already paid out; keep PAID and surface the gap.
				inconsistent = fmt.Errorf("%w: blocked balance below %d for withdrawal %s", ErrLedgerInconsistency, funds.Required, id)
			case err != nil:
				return err
			default:
				entry = newEntry(wallet, models.EntryWithdrawPaid, models.DirectionDebit, int64(tx.AmountCents), models.ReferencePix, id.String())
				entry.Currency = tx.Currency
				entry.ExternalReference = strPtr(receipt.E2EID)
				if receipt.ExternalReference != "" {
					entry.Metadata["provider_reference"] = receipt.ExternalReference
				}
				if err := appendOnce(ctx, t.Ledger(), entry); err != nil {
					return err
				}
			}
		}
		current, err = t.Pix().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("complete withdrawal: %w", err)
	}
	if inconsistent != nil {
		uc.Log.Error("Withdrawal paid without escrow",
			logger.StringField("tx_id", id.String()),
			logger.StringField("account_id", current.AccountID.String()),
			logger.ErrorField("error", inconsistent))
		uc.committed(ctx, pixEvent(notify.WithdrawalPaid, current))
		return current, inconsistent
	}
	if current.Status != models.PixPaid {
		return nil, conflictf("withdrawal %s already %s", id, current.Status)
	}
	if entry != nil {
		uc.Log.Info("Withdrawal paid",
			logger.StringField("tx_id", id.String()),
			logger.StringField("account_id", current.AccountID.String()))
		uc.committed(ctx, pixEvent(notify.WithdrawalPaid, current), entry)
	}
	return current, nil
}

func (uc *pixUsecase) FailWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*models.PixTransaction, error) {
	now := uc.now()
	var (
		current *models.PixTransaction
		entry   *models.LedgerEntry
	)
	err := uc.Store.WithinTx(ctx, func(t repository.Tx) error {
		tx, err := t.Pix().GetByIDForUpdate(ctx, id)
		if err != nil {
			return notFound("pix transaction", err)
		}
		if tx.TxType != models.PixWithdrawal {
			return conflictf("transaction %s is not a withdrawal", id)
		}
		applied, err := t.Pix().Transition(ctx, id, models.PixRequested, models.PixFailed, models.PixTransition{
			CompletedAt: &now,
			Payload:     models.JSONMap{models.PayloadFailReason: reason},
		})
		if err != nil {
			return err
		}
		if applied {
			amount := int64(tx.AmountCents)
			wallet, err := moveGuarded(ctx, t.Wallets(), tx.AccountID, models.BalanceDelta{
				models.BalanceBlocked:   -amount,
				models.BalanceAvailable: amount,
			}, nil)
			if err != nil {
				var funds *FundsError
				if errors.As(err, &funds) {
					return fmt.Errorf("%w: blocked balance below %d for withdrawal %s", ErrLedgerInconsistency, funds.Required, id)
				}
				return err
			}
			entry = newEntry(wallet, models.EntryWithdrawFailed, models.DirectionCredit, amount, models.ReferencePix, id.String())
			entry.Currency = tx.Currency
			entry.Metadata["reason"] = reason
			if err := appendOnce(ctx, t.Ledger(), entry); err != nil {
				return err
			}
		}
		current, err = t.Pix().GetByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrLedgerInconsistency) {
			uc.Log.Error("Withdrawal refund blocked",
				logger.StringField("tx_id", id.String()),
				logger.ErrorField("error", err))
		}
		return nil, fmt.Errorf("fail withdrawal: %w", err)
	}
	if current.Status != models.PixFailed {
		return nil, conflictf("withdrawal %s already %s", id, current.Status)
	}
	if entry != nil {
		uc.Log.Info("Withdrawal failed",
			logger.StringField("tx_id", id.String()),
			logger.StringField("reason", reason))
		uc.committed(ctx, pixEvent(notify.WithdrawalFailed, current), entry)
	}
	return current, nil
}

func (uc *pixUsecase) RepairDeposit(ctx context.Context, id uuid.UUID) (bool, error) {
	var entry *models.LedgerEntry
	err := uc.Store.WithinTx(ctx, func(t repository.Tx) error {
		tx, err := t.Pix().GetByIDForUpdate(ctx, id)
		if err != nil {
			return notFound("pix transaction", err)
		}
		if tx.TxType != models.PixDeposit || tx.Status != models.PixConfirmed {
			return nil
		}
		booked, err := t.Ledger().Exists(ctx, models.LedgerRef{
			ReferenceType: models.ReferencePix,
			ReferenceID:   id.String(),
			EntryType:     models.EntryDeposit,
		})
		if err != nil || booked {
			return err
		}
		entry, err = creditDeposit(ctx, t, tx, "", true)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("repair deposit: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	uc.Log.Warn("Deposit ledger entry repaired",
		logger.StringField("tx_id", id.String()),
		logger.StringField("account_id", entry.AccountID.String()),
		logger.Int64Field("amount_cents", int64(entry.AmountCents)))
	uc.committed(ctx, nil, entry)
	return true, nil
}

func (uc *pixUsecase) GetTransaction(ctx context.Context, accountID, id uuid.UUID) (*models.PixTransaction, error) {
	tx, err := uc.Store.Pix().GetByID(ctx, id)
	if err != nil {
		return nil, notFound("pix transaction", err)
	}
	if tx.AccountID != accountID {
		return nil, fmt.Errorf("%w: pix transaction", ErrNotFound)
	}
	return tx, nil
}

func (uc *pixUsecase) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.PixTransaction, models.Pagination, error) {
	limit, offset, err := normalizePage(limit, offset)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	txs, total, err := uc.Store.Pix().ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("list pix transactions: %w", err)
	}
	return txs, models.Pagination{Limit: limit, Offset: offset, Total: total}, nil
}

func (uc *pixUsecase) validateCreate(accountID uuid.UUID, amount int64, currency, key string) (string, string, error) {
	if accountID == uuid.Nil {
		return "", "", validationf("account id is required")
	}
	if amount <= 0 {
		return "", "", validationf("amount must be a positive integer")
	}
	currency, err := normalizeCurrency(currency)
	if err != nil {
		return "", "", err
	}
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > maxIdempotencyKeyLen {
		return "", "", validationf("idempotency key longer than %d chars", maxIdempotencyKeyLen)
	}
	return currency, key, nil
}

// replay returns the stored transaction for key when the request matches it.
// Both results are nil when the key is unused.
func (uc *pixUsecase) replay(ctx context.Context, key string, match func(*models.PixTransaction) bool) (*models.PixTransaction, error) {
	existing, err := uc.Store.Pix().GetByIdempotencyKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if !match(existing) {
		uc.Log.Warn("Idempotency key reused",
			logger.StringField("idempotency_key", key),
			logger.StringField("tx_id", existing.ID.String()))
		return nil, ErrIdempotencyConflict
	}
	return existing, nil
}

// refetch resolves a lost insert race into the winner's record.
func (uc *pixUsecase) refetch(ctx context.Context, key string, match func(*models.PixTransaction) bool) (*models.PixTransaction, error) {
	existing, err := uc.replay(ctx, key, match)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("idempotency key %s vanished after conflict", key)
	}
	return existing, nil
}

func pixEvent(typ string, tx *models.PixTransaction) *notify.Event {
	return &notify.Event{
		Type:        typ,
		AccountID:   tx.AccountID,
		ReferenceID: tx.ID.String(),
		Status:      string(tx.Status),
		AmountCents: int64(tx.AmountCents),
	}
}
