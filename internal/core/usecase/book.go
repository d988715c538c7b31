package usecase

import (
	"context"
	"fmt"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

// appendOnce checks the reference key right before appending so no path can book the
// same movement twice.
func appendOnce(ctx context.Context, journal repository.LedgerJournal, entry *models.LedgerEntry) error {
	exists, err := journal.Exists(ctx, entry.Ref())
	if err != nil {
		return fmt.Errorf("check ledger entry: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s %s %s", repository.ErrDuplicateLedgerEntry,
			entry.ReferenceType, entry.ReferenceID, entry.EntryType)
	}
	if err := journal.Append(ctx, entry); err != nil {
		return err
	}
	return nil
}

// walletIn ensures the account's wallet and rejects money in any other currency.
// A wallet keeps the currency it was created with.
func walletIn(ctx context.Context, wallets repository.WalletStore, accountID uuid.UUID, currency string) (*models.Wallet, error) {
	w, err := wallets.EnsureWallet(ctx, accountID, currency)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	if w.Currency != currency {
		return nil, fmt.Errorf("%w: wallet holds %s, got %s", ErrCurrencyMismatch, w.Currency, currency)
	}
	return w, nil
}

// moveGuarded applies delta under guard and reports a failed guard as a FundsError.
func moveGuarded(ctx context.Context, wallets repository.WalletStore, accountID uuid.UUID, delta models.BalanceDelta, guard models.BalanceGuard) (*models.Wallet, error) {
	w, applied, failed, err := wallets.ApplyGuardedDelta(ctx, accountID, delta, guard)
	if err != nil {
		return nil, fmt.Errorf("apply guarded delta: %w", err)
	}
	if !applied {
		return w, &FundsError{Bucket: failed, Required: guard.Effective(delta)[failed]}
	}
	return w, nil
}

func newEntry(w *models.Wallet, typ models.EntryType, dir models.Direction, amount int64, refType models.ReferenceType, refID string) *models.LedgerEntry {
	return &models.LedgerEntry{
		AccountID:     w.AccountID,
		WalletID:      w.ID,
		EntryType:     typ,
		Direction:     dir,
		AmountCents:   models.Cents(amount),
		Currency:      w.Currency,
		ReferenceType: refType,
		ReferenceID:   refID,
		Metadata:      models.JSONMap{},
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
