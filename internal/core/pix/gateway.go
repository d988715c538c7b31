// Package pix defines the provider-facing side of the Pix rail.
package pix

import (
	"context"
	"errors"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/google/uuid"
)

// ErrPayoutRejected means the provider definitively refused a payout.
var ErrPayoutRejected = errors.New("payout rejected by provider")

type ChargeRequest struct {
	IdempotencyKey string
	AccountID      uuid.UUID
	AmountCents    int64
	Currency       string
}

// Charge is what the provider returns for a deposit request. Payload may carry
// models.PayloadExpiresAt as an RFC3339 timestamp.
type Charge struct {
	Txid              string
	Provider          string
	ExternalReference string
	Payload           models.JSONMap
}

type ChargeGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

type PayoutRequest struct {
	TransactionID  uuid.UUID
	IdempotencyKey string
	AccountID      uuid.UUID
	AmountCents    int64
	Currency       string
	PixKey         string
	PixKeyType     models.PixKeyType
}

type PayoutReceipt struct {
	E2EID             string
	ExternalReference string
	Payload           models.JSONMap
}

type PayoutExecutor interface {
	ExecutePayout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error)
}
