package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	currencyRegex        = regexp.MustCompile(`^[A-Z]{3}$`)
	referenceRegex       = regexp.MustCompile(`^[A-Za-z0-9:_\-.]{1,128}$`)
	ledgerReferenceRegex = regexp.MustCompile(`^[A-Za-z0-9:_\-./]{1,200}$`)
)

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidatePositiveAmount checks that an amount is positive (in cents).
func ValidatePositiveAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

// ValidateReference checks that a caller-supplied reference is usable as an
// idempotency key. Callers may not use '/', which only appears in
// references the ledger derives itself.
func ValidateReference(reference string) error {
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("reference is required")
	}
	if !referenceRegex.MatchString(reference) {
		return fmt.Errorf("invalid reference format")
	}
	return nil
}

// ValidateLedgerReference accepts caller references and ledger-derived ones.
func ValidateLedgerReference(reference string) error {
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("reference is required")
	}
	if !ledgerReferenceRegex.MatchString(reference) {
		return fmt.Errorf("invalid reference format")
	}
	return nil
}
