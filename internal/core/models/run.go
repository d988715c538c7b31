package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RunStatus string

const (
	RunPreparing  RunStatus = "PREPARING"
	RunEliminated RunStatus = "ELIMINATED"
	RunCashedOut  RunStatus = "CASHED_OUT"
)

func (s RunStatus) Terminal() bool {
	return s == RunEliminated || s == RunCashedOut
}

// Run is a game session with money in escrow.
type Run struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	AccountID     uuid.UUID           `json:"account_id" db:"account_id"`
	ArenaID       string              `json:"arena_id" db:"arena_id"`
	StakeCents    Cents               `json:"stake_cents" db:"stake_cents"`
	Status        RunStatus           `json:"status" db:"status"`
	Multiplier    decimal.NullDecimal `json:"multiplier" db:"multiplier"`
	PayoutCents   Cents               `json:"payout_cents" db:"payout_cents"`
	HouseFeeCents Cents               `json:"house_fee_cents" db:"house_fee_cents"`
	ResultReason  *string             `json:"result_reason,omitempty" db:"result_reason"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
	EndedAt       *time.Time          `json:"ended_at,omitempty" db:"ended_at"`
}

// RunSettlement carries the fields written when a run reaches a terminal state.
type RunSettlement struct {
	Status        RunStatus
	Multiplier    decimal.NullDecimal
	PayoutCents   int64
	HouseFeeCents int64
	ResultReason  *string
	EndedAt       time.Time
}
