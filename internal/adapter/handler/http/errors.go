package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/provider"
)

// respondError maps the domain error taxonomy onto HTTP statuses: client
// faults (validation, limits, capability gaps) get a 4xx so callers know a
// retry is pointless, provider and infrastructure failures get a 5xx.
func respondError(c echo.Context, err error) error {
	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": validationErr.Error(),
			"code":  "VALIDATION_ERROR",
		})
	}

	var limitErr *domainErrors.LimitExceededError
	if errors.As(err, &limitErr) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error": limitErr.Error(),
			"code":  "LIMIT_EXCEEDED",
		})
	}

	if errors.Is(err, provider.ErrRefundUnsupported) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error": err.Error(),
			"code":  "REFUND_UNSUPPORTED",
		})
	}

	if errors.Is(err, domainErrors.ErrPaymentNotFound) || errors.Is(err, domainErrors.ErrWebhookNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{
			"error": err.Error(),
			"code":  "NOT_FOUND",
		})
	}

	if errors.Is(err, domainErrors.ErrRetriesExhausted) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error": err.Error(),
			"code":  "RETRIES_EXHAUSTED",
		})
	}

	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		return c.JSON(http.StatusBadGateway, echo.Map{
			"error": providerErr.Message,
			"code":  "PROVIDER_ERROR",
		})
	}

	return c.JSON(http.StatusInternalServerError, echo.Map{
		"error": "Internal server error",
		"code":  "INTERNAL",
	})
}
