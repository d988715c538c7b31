package usecase

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	bpsScale = 10000
	// MultiplierPlaces is the scale multipliers are stored with.
	MultiplierPlaces = 6
)

var (
	bpsMultiplier = decimal.NewFromInt(bpsScale)
	// MaxMultiplier bounds a cashout multiplier to what a run can store.
	MaxMultiplier = decimal.NewFromInt(1_000_000)
)

// Cashout is the money split of a cashed out run, in cents.
type Cashout struct {
	MultiplierBps int64
	PrizeCents    int64
	FeeCents      int64
	PayoutCents   int64
}

// ComputeCashout converts the multiplier to basis points and splits the prize.
// Both divisions truncate toward zero, in the house's favor.
func ComputeCashout(stakeCents int64, multiplier decimal.Decimal, feeBps int64) (Cashout, error) {
	if !multiplier.IsPositive() {
		return Cashout{}, validationf("multiplier must be greater than zero")
	}
	if multiplier.GreaterThan(MaxMultiplier) {
		return Cashout{}, fmt.Errorf("%w: multiplier %s above %s", ErrInvalidSettlement, multiplier, MaxMultiplier)
	}
	if feeBps < 0 || feeBps > bpsScale {
		return Cashout{}, validationf("fee bps %d outside [0, %d]", feeBps, bpsScale)
	}
	scaled := multiplier.Mul(bpsMultiplier).Round(0)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return Cashout{}, validationf("multiplier %s out of range", multiplier)
	}
	bps := scaled.IntPart()
	if stakeCents <= 0 || (bps > 0 && stakeCents > math.MaxInt64/bps) {
		return Cashout{}, ErrInvalidSettlement
	}

	prize := stakeCents * bps / bpsScale
	if prize <= 0 {
		return Cashout{}, ErrInvalidSettlement
	}
	fee := prize * feeBps / bpsScale
	return Cashout{
		MultiplierBps: bps,
		PrizeCents:    prize,
		FeeCents:      fee,
		PayoutCents:   prize - fee,
	}, nil
}
