package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lipalink/payment-service/internal/config"
	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/repository"
)

// FeeQuote is the cost of an operation, computed once at admission and
// frozen onto the payment record. Later configuration changes never touch
// an existing payment's fees.
type FeeQuote struct {
	Amount  decimal.Decimal `json:"amount"`
	Fixed   decimal.Decimal `json:"fixed"`
	Percent decimal.Decimal `json:"percent"`
}

// FeeCalculator quotes fees and validates admissibility against provider
// limits. Quoting is pure over the provider configuration; the daily-limit
// check reads the user's same-day completed and processing totals.
type FeeCalculator struct {
	providers   map[string]config.ProviderConfig
	paymentRepo repository.PaymentRepository
}

// NewFeeCalculator creates a new fee calculator
func NewFeeCalculator(providers map[string]config.ProviderConfig, paymentRepo repository.PaymentRepository) *FeeCalculator {
	return &FeeCalculator{
		providers:   providers,
		paymentRepo: paymentRepo,
	}
}

// Quote computes fixed + percentage fees for an amount on a provider. A
// per-operation schedule in FeeByType takes precedence over the provider's
// flat one.
func (f *FeeCalculator) Quote(provider string, amount decimal.Decimal, paymentType model.PaymentType) (*FeeQuote, error) {
	pc, ok := f.providers[provider]
	if !ok {
		return nil, domainErrors.NewValidationError("provider", "unknown provider "+provider)
	}

	fixed, percent := pc.FeeFixed, pc.FeePercent
	if schedule, ok := pc.FeeByType[string(paymentType)]; ok {
		fixed, percent = schedule.Fixed, schedule.Percent
	}

	fee := fixed.Add(amount.Mul(percent).Div(decimal.NewFromInt(100)))

	return &FeeQuote{
		Amount:  fee.Round(2),
		Fixed:   fixed,
		Percent: percent,
	}, nil
}

// Validate checks an operation against the provider's min/max bounds and
// the user's daily aggregate. Runs once at payment creation; a rejection
// means no payment record is ever written.
func (f *FeeCalculator) Validate(ctx context.Context, userID uuid.UUID, provider string, amount decimal.Decimal, currency string) error {
	pc, ok := f.providers[provider]
	if !ok {
		return domainErrors.NewValidationError("provider", "unknown provider "+provider)
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return domainErrors.NewValidationError("amount", "must be positive")
	}
	if !currencySupported(pc, currency) {
		return domainErrors.NewValidationError("currency", currency+" is not supported by "+provider)
	}

	if !pc.MinAmount.IsZero() && amount.LessThan(pc.MinAmount) {
		return domainErrors.NewLimitExceededError(provider, "minimum", amount, pc.MinAmount)
	}
	if !pc.MaxAmount.IsZero() && amount.GreaterThan(pc.MaxAmount) {
		return domainErrors.NewLimitExceededError(provider, "maximum", amount, pc.MaxAmount)
	}

	if !pc.DailyLimit.IsZero() {
		startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
		total, err := f.paymentRepo.SumForUserSince(ctx, userID, provider, startOfDay)
		if err != nil {
			return err
		}
		if total.Add(amount).GreaterThan(pc.DailyLimit) {
			return domainErrors.NewLimitExceededError(provider, "daily", total.Add(amount), pc.DailyLimit)
		}
	}

	return nil
}

// Limits exposes a provider's configured bounds for the query API.
func (f *FeeCalculator) Limits(provider string) (*config.ProviderConfig, error) {
	pc, ok := f.providers[provider]
	if !ok {
		return nil, domainErrors.NewValidationError("provider", "unknown provider "+provider)
	}
	return &pc, nil
}

func currencySupported(pc config.ProviderConfig, currency string) bool {
	if len(pc.Currencies) == 0 {
		return true
	}
	for _, c := range pc.Currencies {
		if c == currency {
			return true
		}
	}
	return false
}
