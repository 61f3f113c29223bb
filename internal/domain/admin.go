package domain

import "github.com/google/uuid"

// AdjustDirection selects the sign of an admin adjustment.
type AdjustDirection string

const (
	AdjustAdd      AdjustDirection = "add"
	AdjustSubtract AdjustDirection = "subtract"
)

// AdjustParams is the input to an admin balance adjustment.
type AdjustParams struct {
	AccountID uuid.UUID       `validate:"required"`
	Direction AdjustDirection `validate:"required,oneof=add subtract"`
	Amount    int64           `validate:"gt=0"`
	Reason    string          `validate:"required"`
	ActorID   uuid.UUID       `validate:"required"`
	Reference string
}

// Signed returns amount with the direction's sign applied.
func (d AdjustDirection) Signed(amount int64) int64 {
	if d == AdjustSubtract {
		return -amount
	}
	return amount
}

// ReverseRequest is an operator's request to reverse a ledger row.
type ReverseRequest struct {
	TransactionID uuid.UUID `validate:"required"`
	ActorID       uuid.UUID `validate:"required"`
	Reason        string    `validate:"required,max=500"`
}
