package models

import (
	"time"

	"github.com/google/uuid"
)

type PixTxType string

const (
	PixDeposit    PixTxType = "DEPOSIT"
	PixWithdrawal PixTxType = "WITHDRAWAL"
)

type PixStatus string

const (
	PixPending   PixStatus = "PENDING"
	PixConfirmed PixStatus = "CONFIRMED"
	PixRequested PixStatus = "REQUESTED"
	PixPaid      PixStatus = "PAID"
	PixFailed    PixStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s PixStatus) Terminal() bool {
	return s == PixConfirmed || s == PixPaid || s == PixFailed
}

type PixKeyType string

const (
	PixKeyCPF    PixKeyType = "CPF"
	PixKeyCNPJ   PixKeyType = "CNPJ"
	PixKeyEmail  PixKeyType = "EMAIL"
	PixKeyPhone  PixKeyType = "PHONE"
	PixKeyRandom PixKeyType = "EVP"
)

func (t PixKeyType) Valid() bool {
	switch t {
	case PixKeyCPF, PixKeyCNPJ, PixKeyEmail, PixKeyPhone, PixKeyRandom:
		return true
	}
	return false
}

// Payload keys understood by the core.
const (
	PayloadExpiresAt  = "expires_at"
	PayloadPixKey     = "pix_key"
	PayloadPixKeyType = "pix_key_type"
	PayloadFailReason = "fail_reason"
)

// PixTransaction is one deposit or withdrawal attempt. Status only moves forward.
type PixTransaction struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	AccountID         uuid.UUID  `json:"account_id" db:"account_id"`
	TxType            PixTxType  `json:"tx_type" db:"tx_type"`
	Status            PixStatus  `json:"status" db:"status"`
	AmountCents       Cents      `json:"amount_cents" db:"amount_cents"`
	Currency          string     `json:"currency" db:"currency"`
	IdempotencyKey    string     `json:"idempotency_key" db:"idempotency_key"`
	Txid              *string    `json:"txid,omitempty" db:"txid"`
	E2EID             *string    `json:"e2e_id,omitempty" db:"e2e_id"`
	Provider          string     `json:"provider" db:"provider"`
	ExternalReference *string    `json:"external_reference,omitempty" db:"external_reference"`
	Payload           JSONMap    `json:"payload" db:"payload"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ExpiresAt returns the provider-supplied charge expiry, if any.
func (p *PixTransaction) ExpiresAt() (time.Time, bool) {
	raw, ok := p.Payload.String(PayloadExpiresAt)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PixTransition carries the fields written together with a status change.
type PixTransition struct {
	E2EID       *string
	CompletedAt *time.Time
	Payload     JSONMap
}
