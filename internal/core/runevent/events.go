package runevent

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	KindEliminated = "eliminated"
	KindCashout    = "cashout"
)

type EliminatedEvent struct {
	RunID        string           `json:"runId" validate:"required,uuid"`
	EventVersion int              `json:"eventVersion" validate:"gte=1"`
	Reason       string           `json:"reason,omitempty" validate:"max=64"`
	SizeScore    *float64         `json:"sizeScore,omitempty" validate:"omitempty,gte=0"`
	Multiplier   *decimal.Decimal `json:"multiplier,omitempty"`
}

type CashoutEvent struct {
	RunID        string          `json:"runId" validate:"required,uuid"`
	EventVersion int             `json:"eventVersion" validate:"gte=1"`
	Multiplier   decimal.Decimal `json:"multiplier"`
	SizeScore    *float64        `json:"sizeScore,omitempty" validate:"omitempty,gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates body into dst.
func Decode(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode run event: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validate run event: %w", err)
	}
	return nil
}
