package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

type WalletUsecase interface {
	GetWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	ListLedger(ctx context.Context, accountID uuid.UUID, filter models.LedgerFilter) ([]models.LedgerEntry, models.Pagination, error)
	AdminAdjust(ctx context.Context, adj AdminAdjustment) (*models.Wallet, error)
}

// AdminAdjustment moves available balance by DeltaCents. AdminRef makes it idempotent.
type AdminAdjustment struct {
	AccountID  uuid.UUID
	DeltaCents int64
	Currency   string
	Reason     string
	AdminRef   string
}

type walletUsecase struct {
	Deps
}

func NewWalletUsecase(deps Deps) WalletUsecase {
	return &walletUsecase{Deps: deps}
}

func (uc *walletUsecase) GetWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	if accountID == uuid.Nil {
		return nil, validationf("account id is required")
	}
	wallet, err := uc.Store.Wallets().EnsureWallet(ctx, accountID, models.DefaultCurrency)
	if err != nil {
		uc.Log.Error("Wallet lookup failed",
			logger.StringField("account_id", accountID.String()),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return wallet, nil
}

func (uc *walletUsecase) ListLedger(ctx context.Context, accountID uuid.UUID, filter models.LedgerFilter) ([]models.LedgerEntry, models.Pagination, error) {
	limit, offset, err := normalizePage(filter.Limit, filter.Offset)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	for _, t := range filter.Types {
		if !t.Valid() {
			return nil, models.Pagination{}, validationf("unknown entry type %q", t)
		}
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, models.Pagination{}, validationf("from must not be after to")
	}
	filter.Limit, filter.Offset = limit, offset

	entries, total, err := uc.Store.Ledger().ListByAccount(ctx, accountID, filter)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("list ledger: %w", err)
	}
	return entries, models.Pagination{Limit: limit, Offset: offset, Total: total}, nil
}

func (uc *walletUsecase) AdminAdjust(ctx context.Context, adj AdminAdjustment) (*models.Wallet, error) {
	if adj.AccountID == uuid.Nil {
		return nil, validationf("account id is required")
	}
	if adj.DeltaCents == 0 {
		return nil, validationf("delta must not be zero")
	}
	if adj.AdminRef == "" || len(adj.AdminRef) > maxIdempotencyKeyLen {
		return nil, validationf("admin reference is required and at most %d chars", maxIdempotencyKeyLen)
	}
	if adj.Reason == "" {
		return nil, validationf("reason is required")
	}
	currency, err := normalizeCurrency(adj.Currency)
	if err != nil {
		return nil, err
	}

	dir, amount := models.DirectionCredit, adj.DeltaCents
	if amount < 0 {
		dir, amount = models.DirectionDebit, -amount
	}
	ref := models.LedgerRef{ReferenceType: models.ReferenceAdmin, ReferenceID: adj.AdminRef, EntryType: models.EntryAdminAdjust}
	var (
		wallet *models.Wallet
		entry  *models.LedgerEntry
	)
	err = uc.Store.WithinTx(ctx, func(tx repository.Tx) error {
		existing, err := tx.Ledger().GetByRef(ctx, ref)
		switch {
		case err == nil:
			if existing.AccountID != adj.AccountID || existing.Direction != dir ||
				int64(existing.AmountCents) != amount || existing.Currency != currency {
				uc.Log.Warn("Admin reference reused",
					logger.StringField("admin_ref", adj.AdminRef),
					logger.StringField("entry_id", existing.ID.String()))
				return ErrIdempotencyConflict
			}
			wallet, err = tx.Wallets().GetByAccount(ctx, adj.AccountID)
			return err
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if _, err := walletIn(ctx, tx.Wallets(), adj.AccountID, currency); err != nil {
			return err
		}
		delta := models.BalanceDelta{models.BalanceAvailable: adj.DeltaCents}
		if adj.DeltaCents > 0 {
			wallet, err = tx.Wallets().ApplyDelta(ctx, adj.AccountID, delta)
		} else {
			wallet, err = moveGuarded(ctx, tx.Wallets(), adj.AccountID, delta, nil)
		}
		if err != nil {
			return err
		}

		entry = newEntry(wallet, models.EntryAdminAdjust, dir, amount, models.ReferenceAdmin, adj.AdminRef)
		entry.Metadata["reason"] = adj.Reason
		return appendOnce(ctx, tx.Ledger(), entry)
	})
	if err != nil {
		var funds *FundsError
		if errors.As(err, &funds) {
			uc.Log.Warn("Admin debit rejected",
				logger.StringField("account_id", adj.AccountID.String()),
				logger.Int64Field("delta_cents", adj.DeltaCents))
			return nil, err
		}
		if kind := KindOf(err); kind == KindValidation || kind == KindConflict {
			return nil, err
		}
		uc.Log.Error("Admin adjustment failed",
			logger.StringField("account_id", adj.AccountID.String()),
			logger.StringField("admin_ref", adj.AdminRef),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("admin adjust: %w", err)
	}

	if entry != nil {
		uc.Log.Info("Wallet adjusted",
			logger.StringField("account_id", adj.AccountID.String()),
			logger.StringField("admin_ref", adj.AdminRef),
			logger.Int64Field("delta_cents", adj.DeltaCents))
		uc.committed(ctx, &notify.Event{
			Type:        notify.WalletAdjusted,
			AccountID:   adj.AccountID,
			ReferenceID: adj.AdminRef,
			AmountCents: adj.DeltaCents,
		}, entry)
	}
	return wallet, nil
}
