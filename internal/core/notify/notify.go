// Package notify fans settled money movements out to other services.
// Publishing happens after commit and is best effort.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	DepositConfirmed    = "deposit.confirmed"
	DepositFailed       = "deposit.failed"
	WithdrawalRequested = "withdrawal.requested"
	WithdrawalPaid      = "withdrawal.paid"
	WithdrawalFailed    = "withdrawal.failed"
	RunStarted          = "run.started"
	RunSettled          = "run.settled"
	WalletAdjusted      = "wallet.adjusted"
)

type Event struct {
	Type        string    `json:"type"`
	AccountID   uuid.UUID `json:"account_id"`
	ReferenceID string    `json:"reference_id"`
	Status      string    `json:"status,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes ev and logs instead of returning a failure.
func Emit(ctx context.Context, p Publisher, log logger.Logger, ev Event) {
	if p == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.Warn("Failed to publish event",
			logger.StringField("type", ev.Type),
			logger.StringField("reference_id", ev.ReferenceID),
			logger.ErrorField("error", err))
	}
}

type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("arenapay-ledger"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if subjectPrefix == "" {
		subjectPrefix = "arenapay"
	}
	return &NATSPublisher{nc: nc, prefix: subjectPrefix}, nil
}

func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
