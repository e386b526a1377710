package errors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPaymentNotFound indicates that the specified payment was not found
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrWebhookNotFound indicates that the specified webhook event was not found
	ErrWebhookNotFound = errors.New("webhook event not found")

	// ErrSignatureVerification indicates a webhook whose signature did not
	// verify. Rejected at the HTTP boundary and never persisted.
	ErrSignatureVerification = errors.New("webhook signature verification failed")

	// ErrRetriesExhausted indicates a webhook whose retry budget is spent
	// and which needs manual intervention.
	ErrRetriesExhausted = errors.New("webhook retry limit exceeded")
)

// ValidationError is returned for malformed input, rejected before any
// external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// LimitExceededError is returned when an amount falls outside a provider's
// bounds or would push the user's same-day total over the daily limit.
type LimitExceededError struct {
	Provider string
	Limit    string
	Amount   decimal.Decimal
	Bound    decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s %s limit exceeded: amount %s, limit %s",
		e.Provider, e.Limit, e.Amount.String(), e.Bound.String())
}

// NewLimitExceededError creates a new LimitExceededError
func NewLimitExceededError(provider, limit string, amount, bound decimal.Decimal) *LimitExceededError {
	return &LimitExceededError{Provider: provider, Limit: limit, Amount: amount, Bound: bound}
}
