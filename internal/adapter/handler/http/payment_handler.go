package http

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/repository"
	"github.com/lipalink/payment-service/internal/middleware/auth"
	"github.com/lipalink/payment-service/internal/usecase"
)

type PaymentHandler struct {
	payments *usecase.PaymentService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewPaymentHandler(payments *usecase.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		validate: validator.New(),
		logger:   logger,
	}
}

type createPaymentRequest struct {
	Provider string                 `json:"provider" validate:"required"`
	Type     string                 `json:"type" validate:"required,oneof=deposit withdrawal payment"`
	Amount   decimal.Decimal        `json:"amount" validate:"required"`
	Currency string                 `json:"currency" validate:"required,len=3"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req createPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request body",
			"code":  "VALIDATION_ERROR",
		})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": err.Error(),
			"code":  "VALIDATION_ERROR",
		})
	}

	payment, err := h.payments.CreatePayment(c.Request().Context(), &usecase.CreatePaymentRequest{
		UserID:   user.UserID,
		Provider: req.Provider,
		Type:     model.PaymentType(req.Type),
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: req.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) GetPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid payment id",
			"code":  "VALIDATION_ERROR",
		})
	}

	payment, err := h.payments.GetPayment(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) ListPayments(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var params PaginationParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid pagination parameters",
			"code":  "VALIDATION_ERROR",
		})
	}
	params.Validate()

	filter := repository.PaymentFilter{
		UserID: &user.UserID,
		Limit:  params.Limit,
		Offset: params.CalculateOffset(),
	}

	if status := c.QueryParam("status"); status != "" {
		s := model.PaymentStatus(status)
		filter.Status = &s
	}
	if providerName := c.QueryParam("provider"); providerName != "" {
		filter.Provider = &providerName
	}
	if paymentType := c.QueryParam("type"); paymentType != "" {
		t := model.PaymentType(paymentType)
		filter.Type = &t
	}
	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "Invalid from date, expected RFC3339",
				"code":  "VALIDATION_ERROR",
			})
		}
		filter.From = &t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "Invalid to date, expected RFC3339",
				"code":  "VALIDATION_ERROR",
			})
		}
		filter.To = &t
	}

	payments, total, err := h.payments.ListPayments(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"data":       payments,
		"pagination": NewPaginationMeta(params.Page, params.Limit, total),
	})
}

type processPaymentRequest struct {
	MethodType    string                 `json:"method_type" validate:"required"`
	MethodDetails map[string]interface{} `json:"method_details,omitempty"`
}

func (h *PaymentHandler) ProcessPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid payment id",
			"code":  "VALIDATION_ERROR",
		})
	}

	var req processPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request body",
			"code":  "VALIDATION_ERROR",
		})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": err.Error(),
			"code":  "VALIDATION_ERROR",
		})
	}

	payment, err := h.payments.ProcessPayment(c.Request().Context(), id, req.MethodType, req.MethodDetails)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) CancelPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid payment id",
			"code":  "VALIDATION_ERROR",
		})
	}

	payment, err := h.payments.CancelPayment(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, payment)
}

type refundPaymentRequest struct {
	Amount decimal.Decimal `json:"amount,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

func (h *PaymentHandler) RefundPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid payment id",
			"code":  "VALIDATION_ERROR",
		})
	}

	var req refundPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request body",
			"code":  "VALIDATION_ERROR",
		})
	}

	payment, err := h.payments.RefundPayment(c.Request().Context(), id, req.Amount, req.Reason)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) Statistics(c echo.Context) error {
	to := time.Now()
	from := to.AddDate(0, -1, 0)

	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "Invalid from date, expected RFC3339",
				"code":  "VALIDATION_ERROR",
			})
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "Invalid to date, expected RFC3339",
				"code":  "VALIDATION_ERROR",
			})
		}
		to = t
	}

	stats, err := h.payments.Statistics(c.Request().Context(), from, to)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"from": from,
		"to":   to,
		"data": stats,
	})
}
