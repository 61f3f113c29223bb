package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced to callers.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
	CodeInvalidBet          = "INVALID_BET"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeGameUnavailable     = "GAME_UNAVAILABLE"
	CodeSessionNotActive    = "SESSION_NOT_ACTIVE"
	CodeDuplicateReference  = "DUPLICATE_REFERENCE"
	CodeInvalidState        = "INVALID_STATE"
	CodeUnsupportedGameType = "UNSUPPORTED_GAME_TYPE"
	CodeAccountNotActive    = "ACCOUNT_NOT_ACTIVE"
	CodeLedgerInconsistent  = "LEDGER_INCONSISTENT"
)

// AsAppError unwraps err to the first *AppError in its chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries an AppError with the given code.
func IsCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// Ledger and game errors.

func ErrInvalidBet(msg string) *AppError {
	return &AppError{Code: CodeInvalidBet, Message: msg, Status: 400}
}

func ErrInsufficientBalance() *AppError {
	return &AppError{Code: CodeInsufficientBalance, Message: "insufficient balance", Status: 400}
}

func ErrGameUnavailable(gameID string) *AppError {
	return &AppError{Code: CodeGameUnavailable, Message: fmt.Sprintf("game %s is not available", gameID), Status: 409}
}

func ErrSessionNotActive(sessionID string) *AppError {
	return &AppError{Code: CodeSessionNotActive, Message: fmt.Sprintf("session %s is not active", sessionID), Status: 409}
}

func ErrDuplicateReference(reference string) *AppError {
	return &AppError{Code: CodeDuplicateReference, Message: fmt.Sprintf("reference %q already recorded", reference), Status: 409}
}

func ErrInvalidState(msg string) *AppError {
	return &AppError{Code: CodeInvalidState, Message: msg, Status: 409}
}

func ErrUnsupportedGameType(t GameType) *AppError {
	return &AppError{Code: CodeUnsupportedGameType, Message: fmt.Sprintf("game type %q is not supported", t), Status: 422}
}

func ErrAccountNotActive(accountID string) *AppError {
	return &AppError{Code: CodeAccountNotActive, Message: fmt.Sprintf("account %s is not active", accountID), Status: 403}
}

// ErrLedgerInconsistent is fatal for the account: processing halts until an
// operator reconciles it.
func ErrLedgerInconsistent(accountID string, balance, ledgerSum int64) *AppError {
	return &AppError{
		Code:    CodeLedgerInconsistent,
		Message: fmt.Sprintf("account %s balance %d does not match ledger sum %d", accountID, balance, ledgerSum),
		Status:  500,
	}
}
