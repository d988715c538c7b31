package pix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/google/uuid"
)

const SandboxProvider = "sandbox"

// Sandbox is an in-process provider for development. Charges expire after ChargeTTL;
// payouts to a Pix key containing "reject" are refused.
type Sandbox struct {
	ChargeTTL time.Duration
	Now       func() time.Time
}

func NewSandbox(chargeTTL time.Duration) *Sandbox {
	return &Sandbox{ChargeTTL: chargeTTL, Now: time.Now}
}

func (s *Sandbox) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txid := strings.ReplaceAll(uuid.NewString(), "-", "")
	expiresAt := s.Now().UTC().Add(s.ChargeTTL)
	return &Charge{
		Txid:              txid,
		Provider:          SandboxProvider,
		ExternalReference: "sbx-charge-" + txid[:12],
		Payload: models.JSONMap{
			models.PayloadExpiresAt: expiresAt.Format(time.RFC3339),
			"copy_paste":            fmt.Sprintf("00020126SANDBOX%s5204000053039865802BR%d", txid, req.AmountCents),
		},
	}, nil
}

func (s *Sandbox) ExecutePayout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(req.PixKey), "reject") {
		return nil, fmt.Errorf("%w: key %s", ErrPayoutRejected, req.PixKey)
	}
	e2e := "E" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:31]
	return &PayoutReceipt{
		E2EID:             e2e,
		ExternalReference: "sbx-payout-" + req.TransactionID.String(),
		Payload:           models.JSONMap{"paid_at": s.Now().UTC().Format(time.RFC3339)},
	}, nil
}
