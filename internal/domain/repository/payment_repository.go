package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lipalink/payment-service/internal/domain/model"
)

// PaymentFilter narrows List queries.
type PaymentFilter struct {
	UserID   *uuid.UUID
	Status   *model.PaymentStatus
	Provider *string
	Type     *model.PaymentType
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// StatusUpdate carries the side fields written together with a status
// transition.
type StatusUpdate struct {
	ProviderTransactionID *string
	RefundID              *string
	FailureReason         *string
	ProcessedAt           *time.Time
	RefundedAt            *time.Time
}

// ProviderStat is one row of the statistics aggregate.
type ProviderStat struct {
	Provider string          `json:"provider"`
	Type     string          `json:"type"`
	Status   string          `json:"status"`
	Count    int64           `json:"count"`
	Total    decimal.Decimal `json:"total"`
	Fees     decimal.Decimal `json:"fees"`
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	GetByProviderTransactionID(ctx context.Context, provider, transactionID string) (*model.Payment, error)
	List(ctx context.Context, filter PaymentFilter) ([]*model.Payment, int64, error)

	// TransitionStatus applies a guarded status update: the write succeeds
	// only if the payment's current status still equals expected. It returns
	// true when the row was updated and false when another writer got there
	// first (a safe no-op for the caller).
	TransitionStatus(ctx context.Context, id uuid.UUID, expected, next model.PaymentStatus, update *StatusUpdate) (bool, error)

	// SumForUserSince totals the user's completed and processing payments on
	// a provider created at or after the cutoff, for daily-limit admission.
	SumForUserSince(ctx context.Context, userID uuid.UUID, provider string, since time.Time) (decimal.Decimal, error)

	// ListStale returns pending or processing payments untouched for longer
	// than the threshold, for reconciliation.
	ListStale(ctx context.Context, provider string, olderThan time.Time, limit int) ([]*model.Payment, error)

	Statistics(ctx context.Context, from, to time.Time) ([]ProviderStat, error)
}
