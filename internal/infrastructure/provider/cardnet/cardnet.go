package cardnet

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
)

const providerName = "cardnet"

// statusTable maps CardNet's native charge statuses onto the canonical set.
// The table is exhaustive; an unlisted status is an error, not pending.
var statusTable = map[string]model.PaymentStatus{
	"created":    model.PaymentStatusPending,
	"authorized": model.PaymentStatusProcessing,
	"capturing":  model.PaymentStatusProcessing,
	"captured":   model.PaymentStatusCompleted,
	"settled":    model.PaymentStatusCompleted,
	"declined":   model.PaymentStatusFailed,
	"voided":     model.PaymentStatusCancelled,
	"expired":    model.PaymentStatusCancelled,
	"refunded":   model.PaymentStatusRefunded,
}

// CardnetProvider implements the PaymentProvider interface for the CardNet
// card processor. Auth is a bearer API key; webhooks carry a hex-encoded
// HMAC-SHA256 of the raw body in X-Cardnet-Signature.
type CardnetProvider struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	client        *http.Client
	logger        *zap.Logger
}

// NewCardnetProvider creates a new CardNet provider
func NewCardnetProvider(baseURL, apiKey, webhookSecret string, timeout time.Duration, logger *zap.Logger) *CardnetProvider {
	return &CardnetProvider{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// GetProviderName returns the provider name
func (p *CardnetProvider) GetProviderName() string {
	return providerName
}

// MapStatus translates a native CardNet status into the canonical set.
func MapStatus(native string) (model.PaymentStatus, error) {
	status, ok := statusTable[native]
	if !ok {
		return "", &provider.ErrUnmappedStatus{Provider: providerName, Native: native}
	}
	return status, nil
}

type chargeResponse struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

// Initiate creates a charge on CardNet.
// POST /v1/charges
func (p *CardnetProvider) Initiate(ctx context.Context, req *provider.InitiateRequest) (*provider.InitiateResponse, error) {
	body := map[string]interface{}{
		"reference":   req.Reference,
		"amount":      req.Amount.StringFixed(2),
		"currency":    req.Currency,
		"capture":     req.Type != model.PaymentTypeWithdrawal,
		"method_type": req.MethodType,
		"card":        req.MethodDetails,
	}

	var charge chargeResponse
	if err := p.do(ctx, http.MethodPost, "/v1/charges", body, &charge); err != nil {
		return nil, err
	}

	status, err := MapStatus(charge.Status)
	if err != nil {
		return nil, err
	}

	p.logger.Info("CardnetProvider: charge created",
		zap.String("charge_id", charge.ID),
		zap.String("status", charge.Status))

	return &provider.InitiateResponse{
		ProviderTransactionID: charge.ID,
		Status:                status,
	}, nil
}

// CheckStatus fetches a charge.
// GET /v1/charges/{id}
func (p *CardnetProvider) CheckStatus(ctx context.Context, providerTransactionID string, _ model.PaymentType) (*provider.StatusResponse, error) {
	var charge chargeResponse
	path := fmt.Sprintf("/v1/charges/%s", providerTransactionID)
	if err := p.do(ctx, http.MethodGet, path, nil, &charge); err != nil {
		return nil, err
	}

	status, err := MapStatus(charge.Status)
	if err != nil {
		return nil, err
	}

	return &provider.StatusResponse{
		ProviderTransactionID: charge.ID,
		Status:                status,
		FailureReason:         charge.DeclineReason,
	}, nil
}

// Cancel voids an uncaptured charge.
// POST /v1/charges/{id}/void
func (p *CardnetProvider) Cancel(ctx context.Context, providerTransactionID string) (*provider.StatusResponse, error) {
	var charge chargeResponse
	path := fmt.Sprintf("/v1/charges/%s/void", providerTransactionID)
	if err := p.do(ctx, http.MethodPost, path, map[string]interface{}{}, &charge); err != nil {
		return nil, err
	}

	status, err := MapStatus(charge.Status)
	if err != nil {
		return nil, err
	}

	return &provider.StatusResponse{
		ProviderTransactionID: charge.ID,
		Status:                status,
	}, nil
}

// Refund reverses a captured charge, fully or partially.
// POST /v1/charges/{id}/refunds
func (p *CardnetProvider) Refund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResponse, error) {
	body := map[string]interface{}{
		"reason": req.Reason,
	}
	if !req.Amount.IsZero() {
		body["amount"] = req.Amount.StringFixed(2)
	}

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v1/charges/%s/refunds", req.ProviderTransactionID)
	if err := p.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}

	status, err := MapStatus(result.Status)
	if err != nil {
		return nil, err
	}

	p.logger.Info("CardnetProvider: refund created",
		zap.String("refund_id", result.ID),
		zap.String("charge_id", req.ProviderTransactionID))

	return &provider.RefundResponse{
		RefundID: result.ID,
		Status:   status,
	}, nil
}

// VerifySignature checks the X-Cardnet-Signature header: hex HMAC-SHA256 of
// the raw payload under the webhook secret, compared in constant time.
func (p *CardnetProvider) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Data      chargeResponse `json:"data"`
}

// InterpretWebhook extracts event identity, correlation and canonical
// status from a CardNet event. The charge reference echoes our payment id.
func (p *CardnetProvider) InterpretWebhook(payload []byte) (*provider.WebhookEvent, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &provider.ProviderError{
			Code:    "PARSE_ERROR",
			Message: "Failed to parse webhook payload",
			Details: err.Error(),
		}
	}

	status, err := MapStatus(event.Data.Status)
	if err != nil {
		return nil, err
	}

	return &provider.WebhookEvent{
		EventID:               event.ID,
		EventType:             event.Type,
		CorrelationKey:        event.Data.Reference,
		ProviderTransactionID: event.Data.ID,
		Status:                status,
		FailureReason:         event.Data.DeclineReason,
		CreatedAt:             event.CreatedAt,
	}, nil
}

func (p *CardnetProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return &provider.ProviderError{
				Code:    "MARSHAL_ERROR",
				Message: "Failed to prepare request",
				Details: err.Error(),
			}
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return &provider.ProviderError{
			Code:    "REQUEST_ERROR",
			Message: "Failed to create request",
			Details: err.Error(),
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.Error("CardnetProvider: request failed",
			zap.String("path", path),
			zap.Error(err))
		return &provider.ProviderError{
			Code:    "API_ERROR",
			Message: "CardNet API request failed",
			Details: err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &provider.ProviderError{
			Code:    "RESPONSE_ERROR",
			Message: "Failed to read response",
			Details: err.Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp map[string]interface{}
		json.Unmarshal(respBody, &errResp)
		code, _ := errResp["code"].(string)
		message, _ := errResp["message"].(string)
		if code == "" {
			code = "API_ERROR"
		}
		if message == "" {
			message = "CardNet API returned an error"
		}

		p.logger.Error("CardnetProvider: API error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)))

		return &provider.ProviderError{
			Code:    code,
			Message: message,
			Details: string(respBody),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &provider.ProviderError{
				Code:    "PARSE_ERROR",
				Message: "Failed to parse response",
				Details: err.Error(),
			}
		}
	}

	return nil
}
