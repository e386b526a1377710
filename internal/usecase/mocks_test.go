package usecase_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/domain/repository"
	"github.com/lipalink/payment-service/internal/infrastructure/events"
)

// MockPaymentRepository is a mock implementation of PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByProviderTransactionID(ctx context.Context, providerName, transactionID string) (*model.Payment, error) {
	args := m.Called(ctx, providerName, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentRepository) List(ctx context.Context, filter repository.PaymentFilter) ([]*model.Payment, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*model.Payment), args.Get(1).(int64), args.Error(2)
}

func (m *MockPaymentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, expected, next model.PaymentStatus, update *repository.StatusUpdate) (bool, error) {
	args := m.Called(ctx, id, expected, next, update)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentRepository) SumForUserSince(ctx context.Context, userID uuid.UUID, providerName string, since time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, userID, providerName, since)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockPaymentRepository) ListStale(ctx context.Context, providerName string, olderThan time.Time, limit int) ([]*model.Payment, error) {
	args := m.Called(ctx, providerName, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Statistics(ctx context.Context, from, to time.Time) ([]repository.ProviderStat, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.ProviderStat), args.Error(1)
}

// MockWebhookRepository is a mock implementation of WebhookRepository
type MockWebhookRepository struct {
	mock.Mock
}

func (m *MockWebhookRepository) Save(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockWebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.WebhookEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookRepository) GetByProviderEventID(ctx context.Context, providerName, eventID string) (*model.WebhookEvent, error) {
	args := m.Called(ctx, providerName, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookRepository) List(ctx context.Context, status *model.WebhookStatus, limit, offset int) ([]*model.WebhookEvent, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookRepository) ClaimForProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockWebhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID) error {
	args := m.Called(ctx, id, paymentID)
	return args.Error(0)
}

func (m *MockWebhookRepository) MarkIgnored(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockWebhookRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockWebhookRepository) Requeue(ctx context.Context, id uuid.UUID, force bool) error {
	args := m.Called(ctx, id, force)
	return args.Error(0)
}

func (m *MockWebhookRepository) ListRetryable(ctx context.Context, stuckBefore time.Time, limit int) ([]*model.WebhookEvent, error) {
	args := m.Called(ctx, stuckBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockProvider is a mock implementation of PaymentProvider
type MockProvider struct {
	mock.Mock
	Name string
}

func (m *MockProvider) Initiate(ctx context.Context, req *provider.InitiateRequest) (*provider.InitiateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.InitiateResponse), args.Error(1)
}

func (m *MockProvider) CheckStatus(ctx context.Context, providerTransactionID string, paymentType model.PaymentType) (*provider.StatusResponse, error) {
	args := m.Called(ctx, providerTransactionID, paymentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.StatusResponse), args.Error(1)
}

func (m *MockProvider) Cancel(ctx context.Context, providerTransactionID string) (*provider.StatusResponse, error) {
	args := m.Called(ctx, providerTransactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.StatusResponse), args.Error(1)
}

func (m *MockProvider) Refund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.RefundResponse), args.Error(1)
}

func (m *MockProvider) VerifySignature(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

func (m *MockProvider) InterpretWebhook(payload []byte) (*provider.WebhookEvent, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.WebhookEvent), args.Error(1)
}

func (m *MockProvider) GetProviderName() string {
	return m.Name
}

// stubRegistry resolves a fixed set of adapters without configuration.
type stubRegistry struct {
	adapters map[string]provider.PaymentProvider
}

func newStubRegistry(adapters map[string]provider.PaymentProvider) *stubRegistry {
	return &stubRegistry{adapters: adapters}
}

func (r *stubRegistry) Get(name string) (provider.PaymentProvider, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, &provider.ProviderError{Code: "UNKNOWN_PROVIDER", Message: "unsupported provider type: " + name}
	}
	return adapter, nil
}

func (r *stubRegistry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

func (r *stubRegistry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// MockPublisher is a mock implementation of events.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPaymentEvent(ctx context.Context, event *events.PaymentEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
