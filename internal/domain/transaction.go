package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates all ledger transaction types.
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxBet        TransactionType = "bet"
	TxWin        TransactionType = "win"
	TxBonus      TransactionType = "bonus"
	TxAdjustment TransactionType = "adjustment"

	// TxReversal rows compensate a completed transaction. Never posted directly.
	TxReversal TransactionType = "reversal"
)

// Valid reports whether t can be posted through RecordTransaction.
func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxBet, TxWin, TxBonus, TxAdjustment:
		return true
	}
	return false
}

// IsDebit reports whether the type always removes funds.
func (t TransactionType) IsDebit() bool { return t == TxWithdrawal || t == TxBet }

// IsCredit reports whether the type always adds funds.
func (t TransactionType) IsCredit() bool { return t == TxDeposit || t == TxWin || t == TxBonus }

// Administrative reports whether the type may be posted against a non-active account.
func (t TransactionType) Administrative() bool { return t == TxAdjustment || t == TxReversal }

// NormalizeAmount forces the sign of amount to match the transaction type.
// Adjustments keep the caller's sign.
func (t TransactionType) NormalizeAmount(amount int64) int64 {
	switch {
	case t.IsDebit() && amount > 0:
		return -amount
	case t.IsCredit() && amount < 0:
		return -amount
	}
	return amount
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
	TxReversed  TransactionStatus = "reversed"
)

// Effective reports whether rows in this status carry their amount in the balance.
// A reversed row keeps its effect; the paired reversal row cancels it.
func (s TransactionStatus) Effective() bool { return s == TxCompleted || s == TxReversed }

// Note is one entry of a transaction's append-only audit trail.
type Note struct {
	At     time.Time `json:"at"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
}

// Transaction is one append-only ledger row.
type Transaction struct {
	ID                      uuid.UUID         `json:"id"`
	AccountID               uuid.UUID         `json:"account_id"`
	Type                    TransactionType   `json:"type"`
	Amount                  int64             `json:"amount"`
	Currency                string            `json:"currency"`
	Status                  TransactionStatus `json:"status"`
	BalanceBefore           int64             `json:"balance_before"`
	BalanceAfter            int64             `json:"balance_after"`
	GameID                  *uuid.UUID        `json:"game_id,omitempty"`
	SessionID               *uuid.UUID        `json:"session_id,omitempty"`
	RoundID                 *string           `json:"round_id,omitempty"`
	Reference               string            `json:"reference"`
	OriginalTransactionID   *uuid.UUID        `json:"original_transaction_id,omitempty"`
	ReversedByTransactionID *uuid.UUID        `json:"reversed_by_transaction_id,omitempty"`
	ProcessedBy             *uuid.UUID        `json:"processed_by,omitempty"`
	Notes                   []Note            `json:"notes"`
	Metadata                json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
	ProcessedAt             *time.Time        `json:"processed_at,omitempty"`
}

// Ledger-derived references live under these prefixes. Caller references
// cannot contain '/', so the two namespaces never collide.
const (
	reversalPrefix   = "rev/"
	betPrefix        = "bet/"
	winPrefix        = "win/"
	withdrawalPrefix = "wd/"
)

// ReversalReference derives the reference of the row that reverses original.
func ReversalReference(original string) string { return reversalPrefix + original }

// BetReference is the reference of the n-th stake debit of a round.
func BetReference(roundID string, n int) string {
	return fmt.Sprintf("%s%s/%d", betPrefix, roundID, n)
}

// WinReference is the reference of a round's payout.
func WinReference(roundID string) string { return winPrefix + roundID }

// WithdrawalReference scopes a player's withdrawal reference to the account,
// so one player's references never block another's.
func WithdrawalReference(accountID uuid.UUID, clientRef string) string {
	return withdrawalPrefix + accountID.String() + "/" + clientRef
}

// IsInternalReference reports whether ref belongs to a namespace only the
// ledger's own round and reversal logic may write.
func IsInternalReference(ref string) bool {
	for _, prefix := range []string{reversalPrefix, betPrefix, winPrefix} {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

// Reconciliation is the result of comparing a balance with its ledger.
type Reconciliation struct {
	AccountID  uuid.UUID `json:"account_id"`
	Balance    int64     `json:"balance"`
	LedgerSum  int64     `json:"ledger_sum"`
	Consistent bool      `json:"consistent"`
	CheckedAt  time.Time `json:"checked_at"`
}
