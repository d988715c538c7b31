package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryType is the reason of a ledger movement. The set is fixed; extend only by migration.
type EntryType string

const (
	EntryDeposit         EntryType = "DEPOSIT"
	EntryStakeReserved   EntryType = "STAKE_RESERVED"
	EntryStakeReleased   EntryType = "STAKE_RELEASED"
	EntryStakeLost       EntryType = "STAKE_LOST"
	EntryPrize           EntryType = "PRIZE"
	EntryHouseFee        EntryType = "HOUSE_FEE"
	EntryWithdrawRequest EntryType = "WITHDRAW_REQUEST"
	EntryWithdrawPaid    EntryType = "WITHDRAW_PAID"
	EntryWithdrawFailed  EntryType = "WITHDRAW_FAILED"
	EntryAdminAdjust     EntryType = "ADMIN_ADJUST"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryDeposit, EntryStakeReserved, EntryStakeReleased, EntryStakeLost, EntryPrize,
		EntryHouseFee, EntryWithdrawRequest, EntryWithdrawPaid, EntryWithdrawFailed, EntryAdminAdjust:
		return true
	}
	return false
}

type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// ReferenceType says what a ledger entry correlates to.
type ReferenceType string

const (
	ReferencePix   ReferenceType = "PIX"
	ReferenceRun   ReferenceType = "RUN"
	ReferenceAdmin ReferenceType = "ADMIN"
)

// LedgerEntry is an immutable record of one balance movement.
// (ReferenceType, ReferenceID, EntryType) is unique.
type LedgerEntry struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	AccountID         uuid.UUID     `json:"account_id" db:"account_id"`
	WalletID          uuid.UUID     `json:"wallet_id" db:"wallet_id"`
	EntryType         EntryType     `json:"entry_type" db:"entry_type"`
	Direction         Direction     `json:"direction" db:"direction"`
	AmountCents       Cents         `json:"amount_cents" db:"amount_cents"`
	Currency          string        `json:"currency" db:"currency"`
	ReferenceType     ReferenceType `json:"reference_type" db:"reference_type"`
	ReferenceID       string        `json:"reference_id" db:"reference_id"`
	ExternalReference *string       `json:"external_reference,omitempty" db:"external_reference"`
	Metadata          JSONMap       `json:"metadata" db:"metadata"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

// LedgerRef is the de-duplication key of a ledger entry.
type LedgerRef struct {
	ReferenceType ReferenceType
	ReferenceID   string
	EntryType     EntryType
}

func (e *LedgerEntry) Ref() LedgerRef {
	return LedgerRef{ReferenceType: e.ReferenceType, ReferenceID: e.ReferenceID, EntryType: e.EntryType}
}

// LedgerFilter narrows ListByAccount. Zero values mean "no filter".
type LedgerFilter struct {
	Types  []EntryType
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// Pagination is returned alongside list responses.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}
