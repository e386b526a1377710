package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentType classifies the direction of a payment attempt.
type PaymentType string

const (
	PaymentTypeDeposit    PaymentType = "deposit"
	PaymentTypeWithdrawal PaymentType = "withdrawal"
	PaymentTypePayment    PaymentType = "payment"
)

// PaymentStatus is the canonical status vocabulary, independent of any
// provider's native status strings.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// legalTransitions is the full edge set of the payment lifecycle.
// failed, cancelled and refunded are terminal.
var legalTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
}

// CanTransition reports whether moving from one canonical status to another
// is a legal lifecycle edge. A transition to the same status is a no-op and
// is never legal as an edge.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing edges.
func (s PaymentStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// Payment represents one deposit, withdrawal or payment attempt against an
// external rail. Records are append-only: they are never deleted and only
// their status-related fields are ever updated.
type Payment struct {
	ID                    uuid.UUID       `gorm:"primaryKey;type:uuid" json:"id"`
	UserID                uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Provider              string          `gorm:"size:50;not null;index" json:"provider"`
	Type                  PaymentType     `gorm:"size:20;not null" json:"type"`
	Amount                decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency              string          `gorm:"size:3;not null" json:"currency"`
	Status                PaymentStatus   `gorm:"size:20;not null;default:'pending';index" json:"status"`
	FeeAmount             decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"fee_amount"`
	FeeFixed              decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"fee_fixed"`
	FeePercent            decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"fee_percent"`
	MethodType            *string         `gorm:"size:50" json:"method_type,omitempty"`
	MethodDetails         JSONB           `gorm:"type:jsonb" json:"method_details,omitempty"`
	Metadata              JSONB           `gorm:"type:jsonb" json:"metadata,omitempty"`
	ProviderTransactionID *string         `gorm:"size:100;uniqueIndex" json:"provider_transaction_id,omitempty"`
	RefundID              *string         `gorm:"size:100" json:"refund_id,omitempty"`
	FailureReason         *string         `json:"failure_reason,omitempty"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty"`
	RefundedAt            *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt             time.Time       `gorm:"default:now()" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Payment) TableName() string {
	return "payments"
}
