package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/usecase"
)

type ProviderHandler struct {
	registry usecase.ProviderRegistry
	fees     *usecase.FeeCalculator
}

func NewProviderHandler(registry usecase.ProviderRegistry, fees *usecase.FeeCalculator) *ProviderHandler {
	return &ProviderHandler{
		registry: registry,
		fees:     fees,
	}
}

type providerInfo struct {
	Name           string   `json:"name"`
	Currencies     []string `json:"currencies,omitempty"`
	Countries      []string `json:"countries,omitempty"`
	SupportsRefund bool     `json:"supports_refund"`
}

// ListProviders returns every enabled provider with its capabilities.
func (h *ProviderHandler) ListProviders(c echo.Context) error {
	names := h.registry.Names()

	providers := make([]providerInfo, 0, len(names))
	for _, name := range names {
		info := providerInfo{Name: name}
		if limits, err := h.fees.Limits(name); err == nil {
			info.Currencies = limits.Currencies
			info.Countries = limits.Countries
			info.SupportsRefund = limits.SupportsRefund
		}
		providers = append(providers, info)
	}

	return c.JSON(http.StatusOK, echo.Map{"data": providers})
}

// Quote computes the fee for a hypothetical amount without creating
// anything.
func (h *ProviderHandler) Quote(c echo.Context) error {
	providerName := c.Param("provider")

	amount, err := decimal.NewFromString(c.QueryParam("amount"))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return respondError(c, domainErrors.NewValidationError("amount", "must be a positive decimal"))
	}

	paymentType := model.PaymentType(c.QueryParam("type"))
	if paymentType == "" {
		paymentType = model.PaymentTypePayment
	}

	quote, err := h.fees.Quote(providerName, amount, paymentType)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"provider": providerName,
		"amount":   amount,
		"fee":      quote,
		"total":    amount.Add(quote.Amount),
	})
}

// Limits returns a provider's configured bounds.
func (h *ProviderHandler) Limits(c echo.Context) error {
	providerName := c.Param("provider")

	limits, err := h.fees.Limits(providerName)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"provider":        providerName,
		"min_amount":      limits.MinAmount,
		"max_amount":      limits.MaxAmount,
		"daily_limit":     limits.DailyLimit,
		"fee_fixed":       limits.FeeFixed,
		"fee_percent":     limits.FeePercent,
		"currencies":      limits.Currencies,
		"supports_refund": limits.SupportsRefund,
	})
}
