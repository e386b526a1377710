package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/usecase"
)

// signatureHeaders maps each provider to the header its rail signs with.
var signatureHeaders = map[string]string{
	"cardnet": "X-Cardnet-Signature",
	"mpesa":   "X-Mpesa-Signature",
	"mtnmomo": "X-Callback-Token",
}

type WebhookHandler struct {
	processor *usecase.WebhookProcessor
	logger    *zap.Logger
}

func NewWebhookHandler(processor *usecase.WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// HandleWebhook ingests one provider callback. The response contract with
// the rails: 200 as soon as the event is durably recorded, regardless of
// whether interpretation later succeeds, so business-logic failures never
// trigger provider retry storms. Only a bad signature rejects.
func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	providerName := c.Param("provider")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error("Error reading webhook body",
			zap.String("provider", providerName),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Error reading request body"})
	}

	signature := c.Request().Header.Get(signatureHeaders[providerName])

	event, err := h.processor.Ingest(c.Request().Context(), providerName, body, signature)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSignatureVerification) {
			// Potential security event; the only non-200 a rail ever sees.
			h.logger.Warn("Rejected webhook with invalid signature",
				zap.String("provider", providerName),
				zap.String("remote_ip", c.RealIP()))
			return c.JSON(http.StatusUnauthorized, echo.Map{
				"error": "Signature verification failed",
			})
		}

		var validationErr *domainErrors.ValidationError
		if errors.As(err, &validationErr) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": validationErr.Error()})
		}

		h.logger.Error("Failed to persist webhook",
			zap.String("provider", providerName),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to record event"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"received":   true,
		"webhook_id": event.ID,
	})
}

// ListWebhooks surfaces stored webhook events, primarily those that
// exhausted their retries and need a human.
func (h *WebhookHandler) ListWebhooks(c echo.Context) error {
	var params PaginationParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid pagination parameters",
			"code":  "VALIDATION_ERROR",
		})
	}
	params.Validate()

	var status *model.WebhookStatus
	if v := c.QueryParam("status"); v != "" {
		s := model.WebhookStatus(v)
		status = &s
	}

	events, err := h.processor.ListWebhooks(c.Request().Context(), status, params.Limit, params.CalculateOffset())
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"data": events})
}

// RetryWebhook manually requeues a failed webhook. force=true overrides
// the retry budget.
func (h *WebhookHandler) RetryWebhook(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid webhook id",
			"code":  "VALIDATION_ERROR",
		})
	}

	force, _ := strconv.ParseBool(c.QueryParam("force"))

	if err := h.processor.Retry(c.Request().Context(), id, force); err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, echo.Map{"requeued": true})
}
