package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// PostParams is the input to the ledger's atomic post operation.
type PostParams struct {
	AccountID   uuid.UUID
	Type        TransactionType
	Amount      int64
	Reference   string
	GameID      *uuid.UUID
	SessionID   *uuid.UUID
	RoundID     *string
	ProcessedBy *uuid.UUID
	Notes       []Note
	Metadata    json.RawMessage
}

// ReverseParams is the input to the ledger's reversal operation.
type ReverseParams struct {
	TransactionID uuid.UUID
	ActorID       *uuid.UUID
	Reason        string
}

// CompletePendingParams moves a pending transaction to completed.
type CompletePendingParams struct {
	TransactionID uuid.UUID
	ActorID       *uuid.UUID
	Note          string
}

// ClosePendingParams moves a pending transaction to failed or cancelled.
type ClosePendingParams struct {
	TransactionID uuid.UUID
	Status        TransactionStatus
	ActorID       *uuid.UUID
	Reason        string
}

// CommandResult is the return value of ledger commands.
type CommandResult struct {
	Transaction *Transaction
	Account     *Account
	Events      []Event
}
