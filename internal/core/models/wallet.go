package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds the three balance buckets of one account, in cents.
type Wallet struct {
	ID                    uuid.UUID `json:"id" db:"id"`
	AccountID             uuid.UUID `json:"account_id" db:"account_id"`
	AvailableBalanceCents Cents     `json:"available_balance_cents" db:"available_balance_cents"`
	InGameBalanceCents    Cents     `json:"in_game_balance_cents" db:"in_game_balance_cents"`
	BlockedBalanceCents   Cents     `json:"blocked_balance_cents" db:"blocked_balance_cents"`
	Currency              string    `json:"currency" db:"currency"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// Total is the sum of all buckets.
func (w *Wallet) Total() int64 {
	return int64(w.AvailableBalanceCents) + int64(w.InGameBalanceCents) + int64(w.BlockedBalanceCents)
}

// Balance returns the value of one bucket.
func (w *Wallet) Balance(field BalanceField) int64 {
	switch field {
	case BalanceAvailable:
		return int64(w.AvailableBalanceCents)
	case BalanceInGame:
		return int64(w.InGameBalanceCents)
	case BalanceBlocked:
		return int64(w.BlockedBalanceCents)
	}
	return 0
}

// BalanceField names a balance bucket. The value is the column name.
type BalanceField string

const (
	BalanceAvailable BalanceField = "available_balance_cents"
	BalanceInGame    BalanceField = "in_game_balance_cents"
	BalanceBlocked   BalanceField = "blocked_balance_cents"
)

// BalanceFields lists the buckets in a stable order.
var BalanceFields = []BalanceField{BalanceAvailable, BalanceInGame, BalanceBlocked}

func (f BalanceField) Valid() bool {
	switch f {
	case BalanceAvailable, BalanceInGame, BalanceBlocked:
		return true
	}
	return false
}

// BalanceDelta maps a bucket to a signed change in cents.
type BalanceDelta map[BalanceField]int64

// BalanceGuard maps a bucket to the minimum value it must hold for an update to apply.
type BalanceGuard map[BalanceField]int64

// Effective merges the explicit guard with the non-negativity floor implied by delta:
// a bucket decremented by n must currently hold at least n.
func (g BalanceGuard) Effective(delta BalanceDelta) BalanceGuard {
	out := make(BalanceGuard, len(g)+len(delta))
	for f, floor := range g {
		out[f] = floor
	}
	for f, d := range delta {
		if d < 0 && out[f] < -d {
			out[f] = -d
		}
	}
	return out
}

// Allows reports whether w satisfies every threshold of the guard.
// The first failing bucket is returned when it does not.
func (g BalanceGuard) Allows(w *Wallet) (bool, BalanceField) {
	for _, f := range BalanceFields {
		floor, ok := g[f]
		if !ok {
			continue
		}
		if w.Balance(f) < floor {
			return false, f
		}
	}
	return true, ""
}

// Apply adds delta to w in place.
func (d BalanceDelta) Apply(w *Wallet) {
	w.AvailableBalanceCents += Cents(d[BalanceAvailable])
	w.InGameBalanceCents += Cents(d[BalanceInGame])
	w.BlockedBalanceCents += Cents(d[BalanceBlocked])
}
