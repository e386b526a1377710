package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/domain/repository"
	"github.com/lipalink/payment-service/internal/infrastructure/events"
)

// ProviderRegistry resolves adapters by provider name. Built once at
// startup; immutable afterwards.
type ProviderRegistry interface {
	Get(name string) (provider.PaymentProvider, error)
	Has(name string) bool
	Names() []string
}

// PaymentService orchestrates the payment lifecycle. Every status write,
// whether from a synchronous adapter response, a webhook or a
// reconciliation poll, goes through ApplyTransition so concurrent writers
// race safely on the repository's conditional update.
type PaymentService struct {
	paymentRepo repository.PaymentRepository
	registry    ProviderRegistry
	fees        *FeeCalculator
	publisher   events.Publisher
	logger      *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	registry ProviderRegistry,
	fees *FeeCalculator,
	publisher events.Publisher,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		registry:    registry,
		fees:        fees,
		publisher:   publisher,
		logger:      logger,
	}
}

// CreatePaymentRequest is the admission-checked creation input.
type CreatePaymentRequest struct {
	UserID   uuid.UUID
	Provider string
	Type     model.PaymentType
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]interface{}
}

// CreatePayment admits a new payment attempt. Fees are quoted here and
// frozen onto the record; limit or validation failures leave no record
// behind.
func (s *PaymentService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*model.Payment, error) {
	switch req.Type {
	case model.PaymentTypeDeposit, model.PaymentTypeWithdrawal, model.PaymentTypePayment:
	default:
		return nil, domainErrors.NewValidationError("type", "unknown payment type")
	}
	if !s.registry.Has(req.Provider) {
		return nil, domainErrors.NewValidationError("provider", "unknown provider "+req.Provider)
	}

	if err := s.fees.Validate(ctx, req.UserID, req.Provider, req.Amount, req.Currency); err != nil {
		return nil, err
	}

	quote, err := s.fees.Quote(req.Provider, req.Amount, req.Type)
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Provider:   req.Provider,
		Type:       req.Type,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     model.PaymentStatusPending,
		FeeAmount:  quote.Amount,
		FeeFixed:   quote.Fixed,
		FeePercent: quote.Percent,
		Metadata:   model.JSONB(req.Metadata),
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Info("Payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("provider", payment.Provider),
		zap.String("type", string(payment.Type)),
		zap.String("amount", payment.Amount.String()))

	return payment, nil
}

// ProcessPayment hands a pending payment to its rail. The record already
// exists in pending, so a failed initiation lands it in failed rather than
// leaving anything hanging.
func (s *PaymentService) ProcessPayment(ctx context.Context, id uuid.UUID, methodType string, methodDetails map[string]interface{}) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentStatusPending {
		return nil, domainErrors.NewValidationError("status", "payment is not pending")
	}

	adapter, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	resp, err := adapter.Initiate(ctx, &provider.InitiateRequest{
		PaymentID:     payment.ID.String(),
		Type:          payment.Type,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Reference:     payment.ID.String(),
		MethodType:    methodType,
		MethodDetails: methodDetails,
	})
	if err != nil {
		reason := err.Error()
		if _, applied, terr := s.ApplyTransition(ctx, payment, model.PaymentStatusFailed, &repository.StatusUpdate{
			FailureReason: &reason,
		}); terr != nil {
			s.logger.Error("Failed to record initiation failure",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(terr))
		} else if applied {
			s.logger.Warn("Payment initiation failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("reason", reason))
		}
		return nil, err
	}

	update := &repository.StatusUpdate{
		ProviderTransactionID: &resp.ProviderTransactionID,
	}
	if resp.Status == model.PaymentStatusCompleted {
		now := time.Now()
		update.ProcessedAt = &now
	}

	payment, _, err = s.ApplyTransition(ctx, payment, resp.Status, update)
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// CancelPayment voids a payment that has not reached a terminal state. The
// rail has the last word on the outcome: a charge it reports as already
// captured lands in completed here, not in a fictitious cancelled.
func (s *PaymentService) CancelPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return nil, domainErrors.NewValidationError("status", "payment is already terminal")
	}

	next := model.PaymentStatusCancelled
	var update *repository.StatusUpdate
	if payment.ProviderTransactionID != nil {
		adapter, err := s.registry.Get(payment.Provider)
		if err != nil {
			return nil, err
		}
		resp, err := adapter.Cancel(ctx, *payment.ProviderTransactionID)
		if err != nil {
			return nil, err
		}
		next = resp.Status
		if resp.FailureReason != "" {
			update = &repository.StatusUpdate{FailureReason: &resp.FailureReason}
		}
	}

	payment, _, err = s.ApplyTransition(ctx, payment, next, update)
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// RefundPayment reverses a completed payment on rails that support it.
// Capability gaps surface as provider.ErrRefundUnsupported, distinct from
// transient failures, and are never retried.
func (s *PaymentService) RefundPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reason string) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	// Capability before state: a rail without refunds reports the gap
	// regardless of payment status.
	limits, err := s.fees.Limits(payment.Provider)
	if err != nil {
		return nil, err
	}
	if !limits.SupportsRefund {
		return nil, provider.ErrRefundUnsupported
	}

	if payment.Status != model.PaymentStatusCompleted {
		return nil, domainErrors.NewValidationError("status", "only completed payments can be refunded")
	}
	if payment.ProviderTransactionID == nil {
		return nil, domainErrors.NewValidationError("status", "payment has no provider transaction")
	}

	resp, err := adapter.Refund(ctx, &provider.RefundRequest{
		ProviderTransactionID: *payment.ProviderTransactionID,
		Amount:                amount,
		Reason:                reason,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	payment, _, err = s.ApplyTransition(ctx, payment, model.PaymentStatusRefunded, &repository.StatusUpdate{
		RefundID:   &resp.RefundID,
		RefundedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// GetPayment fetches one payment by id.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return s.paymentRepo.GetByID(ctx, id)
}

// ListPayments returns a filtered, paginated page of payments.
func (s *PaymentService) ListPayments(ctx context.Context, filter repository.PaymentFilter) ([]*model.Payment, int64, error) {
	return s.paymentRepo.List(ctx, filter)
}

// Statistics aggregates payments by provider, type and status over a period.
func (s *PaymentService) Statistics(ctx context.Context, from, to time.Time) ([]repository.ProviderStat, error) {
	return s.paymentRepo.Statistics(ctx, from, to)
}

// ApplyTransition is the single integration point for all status writers.
// An illegal edge from the currently observed status (a stale or duplicate
// update) is a no-op, not an error: the caller lost a race that someone
// else won. The terminal-state event publishes only when this writer's
// conditional update actually applied, so duplicates can never double-fire.
func (s *PaymentService) ApplyTransition(ctx context.Context, payment *model.Payment, next model.PaymentStatus, update *repository.StatusUpdate) (*model.Payment, bool, error) {
	if payment.Status == next || !model.CanTransition(payment.Status, next) {
		s.logger.Debug("Skipping stale status update",
			zap.String("payment_id", payment.ID.String()),
			zap.String("current", string(payment.Status)),
			zap.String("proposed", string(next)))
		return payment, false, nil
	}

	if update == nil {
		update = &repository.StatusUpdate{}
	}
	if next == model.PaymentStatusCompleted && update.ProcessedAt == nil {
		now := time.Now()
		update.ProcessedAt = &now
	}

	applied, err := s.paymentRepo.TransitionStatus(ctx, payment.ID, payment.Status, next, update)
	if err != nil {
		return payment, false, err
	}
	if !applied {
		// Another writer transitioned first; re-read so the caller sees
		// the winning state.
		current, gerr := s.paymentRepo.GetByID(ctx, payment.ID)
		if gerr != nil {
			return payment, false, gerr
		}
		return current, false, nil
	}

	payment, err = s.paymentRepo.GetByID(ctx, payment.ID)
	if err != nil {
		return nil, true, err
	}

	s.logger.Info("Payment status transitioned",
		zap.String("payment_id", payment.ID.String()),
		zap.String("status", string(payment.Status)))

	if isNotifiable(next) {
		s.publishEvent(ctx, payment)
	}

	return payment, true, nil
}

// isNotifiable reports whether the ledger must hear about this status.
func isNotifiable(status model.PaymentStatus) bool {
	switch status {
	case model.PaymentStatusCompleted, model.PaymentStatusFailed,
		model.PaymentStatusCancelled, model.PaymentStatusRefunded:
		return true
	}
	return false
}

func (s *PaymentService) publishEvent(ctx context.Context, payment *model.Payment) {
	event := &events.PaymentEvent{
		PaymentID:  payment.ID,
		UserID:     payment.UserID,
		Provider:   payment.Provider,
		Type:       payment.Type,
		Status:     payment.Status,
		Amount:     payment.Amount,
		FeeAmount:  payment.FeeAmount,
		Currency:   payment.Currency,
		OccurredAt: time.Now(),
	}
	if payment.ProviderTransactionID != nil {
		event.ProviderTransactionID = *payment.ProviderTransactionID
	}
	if payment.FailureReason != nil {
		event.FailureReason = *payment.FailureReason
	}

	// Publish failures are logged, not propagated: delivery is
	// at-least-once and reconciliation re-drives stuck consumers.
	if err := s.publisher.PublishPaymentEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
	}
}
