package usecase_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/domain/repository"
	"github.com/lipalink/payment-service/internal/usecase"
)

func newPaymentService(repo *MockPaymentRepository, adapters map[string]provider.PaymentProvider, publisher *MockPublisher) *usecase.PaymentService {
	fees := usecase.NewFeeCalculator(testProviders(), repo)
	return usecase.NewPaymentService(repo, newStubRegistry(adapters), fees, publisher, zap.NewNop())
}

func pendingPayment(userID uuid.UUID) *model.Payment {
	return &model.Payment{
		ID:       uuid.New(),
		UserID:   userID,
		Provider: "cardnet",
		Type:     model.PaymentTypePayment,
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "USD",
		Status:   model.PaymentStatusPending,
	}
}

func TestPaymentService_CreatePayment(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("creates pending payment with frozen fees", func(t *testing.T) {
		mockRepo := new(MockPaymentRepository)
		mockRepo.On("SumForUserSince", ctx, userID, "cardnet", mock.Anything).
			Return(decimal.Zero, nil)
		mockRepo.On("Create", ctx, mock.MatchedBy(func(p *model.Payment) bool {
			return p.Status == model.PaymentStatusPending &&
				p.FeeAmount.Equal(decimal.RequireFromString("2.30"))
		})).Return(nil)

		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": new(MockProvider)}, nil)

		payment, err := service.CreatePayment(ctx, &usecase.CreatePaymentRequest{
			UserID:   userID,
			Provider: "cardnet",
			Type:     model.PaymentTypePayment,
			Amount:   decimal.RequireFromString("100.00"),
			Currency: "USD",
		})

		assert.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, payment.Status)
		assert.NotEqual(t, uuid.Nil, payment.ID)
		mockRepo.AssertExpectations(t)
	})

	t.Run("limit rejection writes nothing", func(t *testing.T) {
		mockRepo := new(MockPaymentRepository)
		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": new(MockProvider)}, nil)

		_, err := service.CreatePayment(ctx, &usecase.CreatePaymentRequest{
			UserID:   userID,
			Provider: "cardnet",
			Type:     model.PaymentTypePayment,
			Amount:   decimal.RequireFromString("20000.00"),
			Currency: "USD",
		})

		var limitErr *domainErrors.LimitExceededError
		assert.ErrorAs(t, err, &limitErr)
		mockRepo.AssertNotCalled(t, "Create")
	})

	t.Run("unknown provider", func(t *testing.T) {
		service := newPaymentService(new(MockPaymentRepository), map[string]provider.PaymentProvider{}, nil)

		_, err := service.CreatePayment(ctx, &usecase.CreatePaymentRequest{
			UserID:   userID,
			Provider: "paypal",
			Type:     model.PaymentTypePayment,
			Amount:   decimal.RequireFromString("10.00"),
			Currency: "USD",
		})

		var validationErr *domainErrors.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	t.Run("unknown payment type", func(t *testing.T) {
		service := newPaymentService(new(MockPaymentRepository), map[string]provider.PaymentProvider{"cardnet": new(MockProvider)}, nil)

		_, err := service.CreatePayment(ctx, &usecase.CreatePaymentRequest{
			UserID:   userID,
			Provider: "cardnet",
			Type:     model.PaymentType("chargeback"),
			Amount:   decimal.RequireFromString("10.00"),
			Currency: "USD",
		})

		var validationErr *domainErrors.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})
}

func TestPaymentService_ProcessPayment(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("successful initiation records transaction id", func(t *testing.T) {
		payment := pendingPayment(userID)
		txnID := "ch_123"

		processing := *payment
		processing.Status = model.PaymentStatusProcessing
		processing.ProviderTransactionID = &txnID

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil).Once()
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusPending, model.PaymentStatusProcessing, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&processing, nil)

		mockAdapter := new(MockProvider)
		mockAdapter.On("Initiate", ctx, mock.MatchedBy(func(req *provider.InitiateRequest) bool {
			return req.Reference == payment.ID.String()
		})).Return(&provider.InitiateResponse{
			ProviderTransactionID: txnID,
			Status:                model.PaymentStatusProcessing,
		}, nil)

		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": mockAdapter}, nil)

		result, err := service.ProcessPayment(ctx, payment.ID, "card", nil)

		assert.NoError(t, err)
		assert.Equal(t, model.PaymentStatusProcessing, result.Status)
		mockRepo.AssertExpectations(t)
		mockAdapter.AssertExpectations(t)
	})

	t.Run("initiation failure lands the payment in failed", func(t *testing.T) {
		payment := pendingPayment(userID)

		failed := *payment
		failed.Status = model.PaymentStatusFailed

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil).Once()
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusPending, model.PaymentStatusFailed, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&failed, nil)

		mockAdapter := new(MockProvider)
		mockAdapter.On("Initiate", ctx, mock.Anything).
			Return(nil, &provider.ProviderError{Code: "API_ERROR", Message: "rail down"})

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).Return(nil)

		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": mockAdapter}, publisher)

		_, err := service.ProcessPayment(ctx, payment.ID, "card", nil)

		assert.Error(t, err)
		var provErr *provider.ProviderError
		assert.ErrorAs(t, err, &provErr)
		mockRepo.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("non-pending payment is rejected", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusCompleted

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil)

		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": new(MockProvider)}, nil)

		_, err := service.ProcessPayment(ctx, payment.ID, "card", nil)

		var validationErr *domainErrors.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})
}

func TestPaymentService_RefundPayment(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("rail without refund capability", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Provider = "mpesa"
		payment.Status = model.PaymentStatusCompleted

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil)

		mockAdapter := new(MockProvider)
		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"mpesa": mockAdapter}, nil)

		_, err := service.RefundPayment(ctx, payment.ID, decimal.Zero, "customer request")

		assert.ErrorIs(t, err, provider.ErrRefundUnsupported)
		mockAdapter.AssertNotCalled(t, "Refund")
	})

	t.Run("refund of completed payment", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusCompleted
		txnID := "ch_123"
		payment.ProviderTransactionID = &txnID

		refunded := *payment
		refunded.Status = model.PaymentStatusRefunded

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil).Once()
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusCompleted, model.PaymentStatusRefunded, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&refunded, nil)

		mockAdapter := new(MockProvider)
		mockAdapter.On("Refund", ctx, mock.MatchedBy(func(req *provider.RefundRequest) bool {
			return req.ProviderTransactionID == txnID
		})).Return(&provider.RefundResponse{RefundID: "re_456", Status: model.PaymentStatusRefunded}, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).Return(nil)

		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": mockAdapter}, publisher)

		result, err := service.RefundPayment(ctx, payment.ID, decimal.Zero, "customer request")

		assert.NoError(t, err)
		assert.Equal(t, model.PaymentStatusRefunded, result.Status)
		mockAdapter.AssertExpectations(t)
	})

	t.Run("refund of non-completed payment is rejected", func(t *testing.T) {
		payment := pendingPayment(userID)

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil)

		mockAdapter := new(MockProvider)
		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": mockAdapter}, nil)

		_, err := service.RefundPayment(ctx, payment.ID, decimal.Zero, "")

		var validationErr *domainErrors.ValidationError
		assert.ErrorAs(t, err, &validationErr)
		mockAdapter.AssertNotCalled(t, "Refund")
	})
}

func TestPaymentService_CancelPayment(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("void accepted by the rail cancels the payment", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusProcessing
		txnID := "ch_123"
		payment.ProviderTransactionID = &txnID

		cancelled := *payment
		cancelled.Status = model.PaymentStatusCancelled

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil).Once()
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusProcessing, model.PaymentStatusCancelled, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&cancelled, nil)

		mockAdapter := new(MockProvider)
		mockAdapter.On("Cancel", ctx, txnID).
			Return(&provider.StatusResponse{ProviderTransactionID: txnID, Status: model.PaymentStatusCancelled}, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).Return(nil).Once()

		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": mockAdapter}, publisher)

		result, err := service.CancelPayment(ctx, payment.ID)

		assert.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, result.Status)
		mockAdapter.AssertExpectations(t)
	})

	t.Run("charge already captured lands in completed", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusProcessing
		txnID := "ch_456"
		payment.ProviderTransactionID = &txnID

		completed := *payment
		completed.Status = model.PaymentStatusCompleted

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil).Once()
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusProcessing, model.PaymentStatusCompleted, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&completed, nil)

		mockAdapter := new(MockProvider)
		mockAdapter.On("Cancel", ctx, txnID).
			Return(&provider.StatusResponse{ProviderTransactionID: txnID, Status: model.PaymentStatusCompleted}, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).Return(nil).Once()

		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": mockAdapter}, publisher)

		result, err := service.CancelPayment(ctx, payment.ID)

		assert.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCompleted, result.Status)
		mockRepo.AssertExpectations(t)
	})

	t.Run("pending payment with no provider transaction cancels locally", func(t *testing.T) {
		payment := pendingPayment(userID)

		cancelled := *payment
		cancelled.Status = model.PaymentStatusCancelled

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil).Once()
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusPending, model.PaymentStatusCancelled, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&cancelled, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).Return(nil)

		service := newPaymentService(mockRepo, nil, publisher)

		result, err := service.CancelPayment(ctx, payment.ID)

		assert.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, result.Status)
	})

	t.Run("terminal payment is rejected", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusFailed

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("GetByID", ctx, payment.ID).Return(payment, nil)

		mockAdapter := new(MockProvider)
		service := newPaymentService(mockRepo, map[string]provider.PaymentProvider{"cardnet": mockAdapter}, nil)

		_, err := service.CancelPayment(ctx, payment.ID)

		var validationErr *domainErrors.ValidationError
		assert.ErrorAs(t, err, &validationErr)
		mockAdapter.AssertNotCalled(t, "Cancel")
	})
}

func TestPaymentService_ApplyTransition(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("illegal edge is a silent no-op", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusCompleted

		mockRepo := new(MockPaymentRepository)
		publisher := new(MockPublisher)
		service := newPaymentService(mockRepo, nil, publisher)

		result, applied, err := service.ApplyTransition(ctx, payment, model.PaymentStatusProcessing, nil)

		assert.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, model.PaymentStatusCompleted, result.Status)
		mockRepo.AssertNotCalled(t, "TransitionStatus")
		publisher.AssertNotCalled(t, "PublishPaymentEvent")
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusProcessing

		mockRepo := new(MockPaymentRepository)
		service := newPaymentService(mockRepo, nil, nil)

		_, applied, err := service.ApplyTransition(ctx, payment, model.PaymentStatusProcessing, nil)

		assert.NoError(t, err)
		assert.False(t, applied)
		mockRepo.AssertNotCalled(t, "TransitionStatus")
	})

	t.Run("lost race re-reads the winning state", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusProcessing

		winner := *payment
		winner.Status = model.PaymentStatusFailed

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusProcessing, model.PaymentStatusCompleted, mock.Anything).
			Return(false, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&winner, nil)

		publisher := new(MockPublisher)
		service := newPaymentService(mockRepo, nil, publisher)

		result, applied, err := service.ApplyTransition(ctx, payment, model.PaymentStatusCompleted, nil)

		assert.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, model.PaymentStatusFailed, result.Status)
		publisher.AssertNotCalled(t, "PublishPaymentEvent")
	})

	t.Run("applied terminal transition publishes exactly once", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusProcessing

		completed := *payment
		completed.Status = model.PaymentStatusCompleted

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusProcessing, model.PaymentStatusCompleted, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&completed, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).Return(nil).Once()

		service := newPaymentService(mockRepo, nil, publisher)

		result, applied, err := service.ApplyTransition(ctx, payment, model.PaymentStatusCompleted, nil)

		assert.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, model.PaymentStatusCompleted, result.Status)
		publisher.AssertExpectations(t)
	})

	t.Run("completion stamps processed_at", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusProcessing

		completed := *payment
		completed.Status = model.PaymentStatusCompleted

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusProcessing, model.PaymentStatusCompleted,
			mock.MatchedBy(func(u *repository.StatusUpdate) bool { return u.ProcessedAt != nil })).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&completed, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).Return(nil)

		service := newPaymentService(mockRepo, nil, publisher)

		_, applied, err := service.ApplyTransition(ctx, payment, model.PaymentStatusCompleted, nil)

		assert.NoError(t, err)
		assert.True(t, applied)
		mockRepo.AssertExpectations(t)
	})

	t.Run("publish failure does not fail the transition", func(t *testing.T) {
		payment := pendingPayment(userID)
		payment.Status = model.PaymentStatusProcessing

		failedState := *payment
		failedState.Status = model.PaymentStatusFailed

		mockRepo := new(MockPaymentRepository)
		mockRepo.On("TransitionStatus", ctx, payment.ID, model.PaymentStatusProcessing, model.PaymentStatusFailed, mock.Anything).
			Return(true, nil)
		mockRepo.On("GetByID", ctx, payment.ID).Return(&failedState, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishPaymentEvent", ctx, mock.Anything).
			Return(assert.AnError)

		service := newPaymentService(mockRepo, nil, publisher)

		_, applied, err := service.ApplyTransition(ctx, payment, model.PaymentStatusFailed, nil)

		assert.NoError(t, err)
		assert.True(t, applied)
	})
}
