package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		wantErr  bool
	}{
		{"valid EUR", "EUR", false},
		{"valid USD", "USD", false},
		{"lowercase", "eur", true},
		{"too long", "EURO", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePositiveAmount(t *testing.T) {
	assert.NoError(t, ValidatePositiveAmount(1))
	assert.Error(t, ValidatePositiveAmount(0))
	assert.Error(t, ValidatePositiveAmount(-5))
}

func TestValidateReference(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"ulid style", "bet:01J9ZK7Q8W3X:1", false},
		{"reversal suffix", "dep-42:reversal", false},
		{"slash", "bet/01J9ZK7Q8W3X/1", true},
		{"empty", "", true},
		{"blank", "   ", true},
		{"spaces inside", "dep 42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReference(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- AppError Tests ---

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrNotFound("account", "abc-123")
		assert.Equal(t, "NOT_FOUND: account abc-123 not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrInternal("database error", cause)
		assert.Contains(t, err.Error(), "INTERNAL_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrInternal("wrapped", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsCode(t *testing.T) {
	wrapped := fmt.Errorf("place bet: %w", ErrInsufficientBalance())
	assert.True(t, IsCode(wrapped, CodeInsufficientBalance))
	assert.False(t, IsCode(wrapped, CodeInvalidBet))
	assert.False(t, IsCode(errors.New("plain"), CodeInsufficientBalance))
	assert.False(t, IsCode(nil, CodeInsufficientBalance))
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"ErrNotFound", ErrNotFound("account", "123"), CodeNotFound, 404},
		{"ErrConflict", ErrConflict("already exists"), CodeConflict, 409},
		{"ErrValidation", ErrValidation("bad input"), CodeValidation, 400},
		{"ErrUnauthorized", ErrUnauthorized("no token"), CodeUnauthorized, 401},
		{"ErrForbidden", ErrForbidden("not allowed"), CodeForbidden, 403},
		{"ErrRateLimited", ErrRateLimited("slow down"), CodeRateLimited, 429},
		{"ErrInvalidBet", ErrInvalidBet("amount below minimum"), CodeInvalidBet, 400},
		{"ErrInsufficientBalance", ErrInsufficientBalance(), CodeInsufficientBalance, 400},
		{"ErrGameUnavailable", ErrGameUnavailable("g1"), CodeGameUnavailable, 409},
		{"ErrSessionNotActive", ErrSessionNotActive("s1"), CodeSessionNotActive, 409},
		{"ErrDuplicateReference", ErrDuplicateReference("ref-1"), CodeDuplicateReference, 409},
		{"ErrInvalidState", ErrInvalidState("not completed"), CodeInvalidState, 409},
		{"ErrUnsupportedGameType", ErrUnsupportedGameType(GameTable), CodeUnsupportedGameType, 422},
		{"ErrAccountNotActive", ErrAccountNotActive("a1"), CodeAccountNotActive, 403},
		{"ErrLedgerInconsistent", ErrLedgerInconsistent("a1", 10, 12), CodeLedgerInconsistent, 500},
		{"ErrInternal", ErrInternal("oops", nil), CodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

// --- Transaction type Tests ---

func TestTransactionType_NormalizeAmount(t *testing.T) {
	tests := []struct {
		txType TransactionType
		in     int64
		want   int64
	}{
		{TxBet, 10, -10},
		{TxBet, -10, -10},
		{TxWithdrawal, 250, -250},
		{TxDeposit, -100, 100},
		{TxDeposit, 100, 100},
		{TxWin, 15, 15},
		{TxBonus, -5, 5},
		{TxAdjustment, -40, -40},
		{TxAdjustment, 40, 40},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %d", tt.txType, tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.txType.NormalizeAmount(tt.in))
		})
	}
}

func TestTransactionType_Valid(t *testing.T) {
	for _, tt := range []TransactionType{TxDeposit, TxWithdrawal, TxBet, TxWin, TxBonus, TxAdjustment} {
		assert.True(t, tt.Valid(), tt)
	}
	assert.False(t, TxReversal.Valid(), "reversal rows are only created by the ledger")
	assert.False(t, TransactionType("cashback").Valid())
}

func TestTransactionStatus_Effective(t *testing.T) {
	assert.True(t, TxCompleted.Effective())
	assert.True(t, TxReversed.Effective())
	assert.False(t, TxPending.Effective())
	assert.False(t, TxFailed.Effective())
	assert.False(t, TxCancelled.Effective())
}

func TestDerivedReferences(t *testing.T) {
	acct := uuid.MustParse("6f1c1f1e-4a4e-4f55-9d55-0d4b7c2b8a10")

	tests := []struct {
		name     string
		ref      string
		want     string
		internal bool
	}{
		{"reversal", ReversalReference("dep-1"), "rev/dep-1", true},
		{"bet", BetReference("R1", 2), "bet/R1/2", true},
		{"win", WinReference("R1"), "win/R1", true},
		{"withdrawal", WithdrawalReference(acct, "x-1"), "wd/6f1c1f1e-4a4e-4f55-9d55-0d4b7c2b8a10/x-1", false},
		{"client lookalike", "dep-1:reversal", "dep-1:reversal", false},
		{"client bet lookalike", "bet:R1:1", "bet:R1:1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ref)
			assert.Equal(t, tt.internal, IsInternalReference(tt.ref))
			assert.NoError(t, ValidateLedgerReference(tt.ref))
		})
	}
}

// --- Bet Tests ---

func TestBet_Defaults(t *testing.T) {
	b := Bet{Amount: 10}
	assert.Equal(t, 1, b.LineCount())
	assert.True(t, b.MultiplierOrOne().Equal(decimal.NewFromInt(1)))

	m := decimal.RequireFromString("2.5")
	b = Bet{Amount: 10, Lines: 5, Multiplier: &m}
	assert.Equal(t, 5, b.LineCount())
	assert.Equal(t, "2.5", b.MultiplierOrOne().String())
}

func TestBet_JSONMultiplier(t *testing.T) {
	var b Bet
	require.NoError(t, json.Unmarshal([]byte(`{"amount":10,"lines":3,"multiplier":"1.5"}`), &b))
	require.NotNil(t, b.Multiplier)
	assert.Equal(t, "1.5", b.Multiplier.String())

	require.NoError(t, json.Unmarshal([]byte(`{"amount":10,"multiplier":2}`), &b))
	assert.Equal(t, "2", b.Multiplier.String())
}

// --- Event Tests ---

func TestNewTransactionCompletedEvent(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), AccountID: uuid.New(), Type: TxBet, Amount: -10, Reference: "bet:1"}
	evt := NewTransactionCompletedEvent(tx)

	assert.Equal(t, EventTransactionCompleted, evt.EventType)
	assert.Equal(t, AggregateAccount, evt.AggregateType)
	assert.Equal(t, tx.AccountID.String(), evt.AggregateID)
	assert.Equal(t, tx.AccountID.String(), evt.AccountID)
	assert.NotEqual(t, uuid.Nil, evt.EventID)

	var payload Transaction
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, int64(-10), payload.Amount)
}

func TestNewRoundAppendedEvent(t *testing.T) {
	s := &GameSession{ID: uuid.New(), AccountID: uuid.New(), GameID: uuid.New(), TotalWagered: 10, TotalWon: 15}
	evt := NewRoundAppendedEvent(s, Round{RoundNumber: 1, RoundID: "r1", Bet: Bet{Amount: 10}, Result: RoundResult{WinAmount: 15}})

	assert.Equal(t, EventRoundAppended, evt.EventType)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, float64(1), payload["round_number"])
	assert.Equal(t, float64(15), payload["win_amount"])
}
