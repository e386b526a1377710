package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lipalink/payment-service/internal/domain/model"
)

// ErrRefundUnsupported is returned by adapters for rails that have no
// programmatic refund capability. It is a capability gap, not a transient
// failure, and must never be retried.
var ErrRefundUnsupported = errors.New("refunds are not supported by this provider")

// ErrUnmappedStatus wraps a provider-native status string that has no entry
// in the adapter's status table. The source system silently defaulted these
// to pending, which masked new provider states; here they are an error.
type ErrUnmappedStatus struct {
	Provider string
	Native   string
}

func (e *ErrUnmappedStatus) Error() string {
	return "unmapped " + e.Provider + " status: " + e.Native
}

// PaymentProvider defines the interface every rail adapter implements. All
// provider-specific detail (auth scheme, payload shape, signature algorithm,
// status vocabulary) stays behind this contract; the rest of the service
// never branches on provider identity except to pick an adapter from the
// registry.
type PaymentProvider interface {
	// Initiate submits a payment to the external rail.
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error)

	// CheckStatus fetches the rail's current view of a transaction. Rails
	// that split collection and disbursement flows across different APIs
	// route on the payment type.
	CheckStatus(ctx context.Context, providerTransactionID string, paymentType model.PaymentType) (*StatusResponse, error)

	// Cancel voids a not-yet-completed transaction.
	Cancel(ctx context.Context, providerTransactionID string) (*StatusResponse, error)

	// Refund reverses a completed transaction. Adapters for rails without
	// refund capability return ErrRefundUnsupported.
	Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error)

	// VerifySignature checks the authenticity of a raw webhook payload
	// against the provider-specific signature header value.
	VerifySignature(payload []byte, signature string) bool

	// InterpretWebhook extracts the event identity, correlation key and
	// canonical status from a provider-native webhook payload.
	InterpretWebhook(payload []byte) (*WebhookEvent, error)

	// GetProviderName returns the provider name
	GetProviderName() string
}

// InitiateRequest represents a provider-agnostic payment initiation request
type InitiateRequest struct {
	PaymentID     string                 `json:"payment_id"`
	Type          model.PaymentType      `json:"type"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	Reference     string                 `json:"reference"`
	MethodType    string                 `json:"method_type"`
	MethodDetails map[string]interface{} `json:"method_details,omitempty"`
}

// InitiateResponse represents the rail's synchronous answer to an initiation
type InitiateResponse struct {
	ProviderTransactionID string                 `json:"provider_transaction_id"`
	Status                model.PaymentStatus    `json:"status"`
	ProviderData          map[string]interface{} `json:"provider_data,omitempty"`
}

// StatusResponse represents the rail's view of a transaction
type StatusResponse struct {
	ProviderTransactionID string                 `json:"provider_transaction_id"`
	Status                model.PaymentStatus    `json:"status"`
	FailureReason         string                 `json:"failure_reason,omitempty"`
	ProviderData          map[string]interface{} `json:"provider_data,omitempty"`
}

// RefundRequest represents a refund of a completed transaction. A zero
// Amount means a full refund.
type RefundRequest struct {
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Reason                string          `json:"reason,omitempty"`
}

// RefundResponse represents the rail's answer to a refund
type RefundResponse struct {
	RefundID string              `json:"refund_id"`
	Status   model.PaymentStatus `json:"status"`
}

// WebhookEvent is the provider-agnostic interpretation of one webhook
// payload. CorrelationKey carries the internal payment id when the rail
// echoes our reference back; ProviderTransactionID correlates otherwise.
type WebhookEvent struct {
	EventID               string              `json:"event_id"`
	EventType             string              `json:"event_type"`
	CorrelationKey        string              `json:"correlation_key,omitempty"`
	ProviderTransactionID string              `json:"provider_transaction_id,omitempty"`
	Status                model.PaymentStatus `json:"status"`
	FailureReason         string              `json:"failure_reason,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
}

// ProviderError wraps a failed call to an external rail. These are
// transient from the caller's perspective and may be retried or picked up
// by reconciliation.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}
