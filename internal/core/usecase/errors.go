package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")

	ErrIdempotencyConflict = fmt.Errorf("%w: idempotency key reused with a different request", ErrConflict)
	ErrInvalidSettlement   = fmt.Errorf("%w: invalid settlement", ErrValidation)
	ErrCurrencyMismatch    = fmt.Errorf("%w: currency differs from the wallet", ErrValidation)

	// ErrLedgerInconsistency means escrowed money is missing from its bucket.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)

// FundsError is returned when a guard on a balance bucket fails.
type FundsError struct {
	Bucket   models.BalanceField
	Required int64
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s below %d", e.Bucket, e.Required)
}

func (e *FundsError) Unwrap() error { return ErrInsufficientFunds }

type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindValidation
	KindInsufficientFunds
	KindConflict
	KindNotFound
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindValidation:
		return "validation_error"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	}
	return "internal"
}

// KindOf classifies err into the closed set callers branch on.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrConflict), errors.Is(err, repository.ErrDuplicateLedgerEntry):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func notFound(what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// isCanceled reports whether err comes from the caller giving up.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
