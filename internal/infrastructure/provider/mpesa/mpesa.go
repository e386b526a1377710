package mpesa

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/oauth"
)

const providerName = "mpesa"

// statusTable maps M-Pesa result statuses onto the canonical set. TIMEOUT
// means the customer never confirmed the STK prompt; the rail reports it as
// a final failure, not a cancellation.
var statusTable = map[string]model.PaymentStatus{
	"QUEUED":             model.PaymentStatusProcessing,
	"PROCESSING":         model.PaymentStatusProcessing,
	"COMPLETED":          model.PaymentStatusCompleted,
	"FAILED":             model.PaymentStatusFailed,
	"INSUFFICIENT_FUNDS": model.PaymentStatusFailed,
	"TIMEOUT":            model.PaymentStatusFailed,
	"CANCELLED":          model.PaymentStatusCancelled,
}

// MpesaProvider implements the PaymentProvider interface for the M-Pesa
// mobile-money rail. API calls carry an OAuth client-credentials bearer
// token from the shared cache; webhooks carry a base64 HMAC-SHA256 of the
// raw body in X-Mpesa-Signature. The rail has no refund API.
type MpesaProvider struct {
	baseURL       string
	clientID      string
	clientSecret  string
	webhookSecret string
	client        *http.Client
	tokens        *oauth.TokenCache
	logger        *zap.Logger
}

// NewMpesaProvider creates a new M-Pesa provider
func NewMpesaProvider(baseURL, clientID, clientSecret, webhookSecret string, timeout time.Duration, tokens *oauth.TokenCache, logger *zap.Logger) *MpesaProvider {
	return &MpesaProvider{
		baseURL:       baseURL,
		clientID:      clientID,
		clientSecret:  clientSecret,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: timeout},
		tokens:        tokens,
		logger:        logger,
	}
}

// GetProviderName returns the provider name
func (p *MpesaProvider) GetProviderName() string {
	return providerName
}

// MapStatus translates a native M-Pesa status into the canonical set.
func MapStatus(native string) (model.PaymentStatus, error) {
	status, ok := statusTable[native]
	if !ok {
		return "", &provider.ErrUnmappedStatus{Provider: providerName, Native: native}
	}
	return status, nil
}

// bearerToken fetches or reuses the client-credentials token.
// GET /oauth/v1/generate?grant_type=client_credentials
func (p *MpesaProvider) bearerToken(ctx context.Context) (string, error) {
	return p.tokens.Get(ctx, providerName, func(ctx context.Context) (oauth.Token, error) {
		url := p.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return oauth.Token{}, &provider.ProviderError{
				Code:    "REQUEST_ERROR",
				Message: "Failed to create token request",
				Details: err.Error(),
			}
		}
		basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
		httpReq.Header.Set("Authorization", "Basic "+basic)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return oauth.Token{}, &provider.ProviderError{
				Code:    "AUTH_ERROR",
				Message: "M-Pesa token request failed",
				Details: err.Error(),
			}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return oauth.Token{}, &provider.ProviderError{
				Code:    "RESPONSE_ERROR",
				Message: "Failed to read token response",
				Details: err.Error(),
			}
		}
		if resp.StatusCode != http.StatusOK {
			return oauth.Token{}, &provider.ProviderError{
				Code:    "AUTH_ERROR",
				Message: "M-Pesa token request rejected",
				Details: string(body),
			}
		}

		var result struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return oauth.Token{}, &provider.ProviderError{
				Code:    "PARSE_ERROR",
				Message: "Failed to parse token response",
				Details: err.Error(),
			}
		}

		p.logger.Debug("MpesaProvider: token refreshed",
			zap.Int64("expires_in", result.ExpiresIn))

		return oauth.Token{
			Value:     result.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
		}, nil
	})
}

type paymentResponse struct {
	ConversationID   string `json:"conversationId"`
	AccountReference string `json:"accountReference"`
	ResultStatus     string `json:"resultStatus"`
	ResultDesc       string `json:"resultDesc,omitempty"`
}

// Initiate submits a payment request to M-Pesa. Deposits prompt the
// customer's handset; withdrawals run as business-to-customer transfers.
// POST /payments/v1/requests
func (p *MpesaProvider) Initiate(ctx context.Context, req *provider.InitiateRequest) (*provider.InitiateResponse, error) {
	phone, _ := req.MethodDetails["phone_number"].(string)
	body := map[string]interface{}{
		"accountReference": req.Reference,
		"amount":           req.Amount.StringFixed(2),
		"currency":         req.Currency,
		"phoneNumber":      phone,
		"direction":        directionFor(req.Type),
	}

	var result paymentResponse
	if err := p.do(ctx, http.MethodPost, "/payments/v1/requests", body, &result); err != nil {
		return nil, err
	}

	status, err := MapStatus(result.ResultStatus)
	if err != nil {
		return nil, err
	}

	p.logger.Info("MpesaProvider: payment initiated",
		zap.String("conversation_id", result.ConversationID),
		zap.String("status", result.ResultStatus))

	return &provider.InitiateResponse{
		ProviderTransactionID: result.ConversationID,
		Status:                status,
	}, nil
}

// CheckStatus queries the rail for a conversation's current state.
// GET /payments/v1/requests/{conversationId}
func (p *MpesaProvider) CheckStatus(ctx context.Context, providerTransactionID string, _ model.PaymentType) (*provider.StatusResponse, error) {
	var result paymentResponse
	path := fmt.Sprintf("/payments/v1/requests/%s", providerTransactionID)
	if err := p.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	status, err := MapStatus(result.ResultStatus)
	if err != nil {
		return nil, err
	}

	return &provider.StatusResponse{
		ProviderTransactionID: result.ConversationID,
		Status:                status,
		FailureReason:         result.ResultDesc,
	}, nil
}

// Cancel withdraws a still-queued payment request.
// DELETE /payments/v1/requests/{conversationId}
func (p *MpesaProvider) Cancel(ctx context.Context, providerTransactionID string) (*provider.StatusResponse, error) {
	var result paymentResponse
	path := fmt.Sprintf("/payments/v1/requests/%s", providerTransactionID)
	if err := p.do(ctx, http.MethodDelete, path, nil, &result); err != nil {
		return nil, err
	}

	status, err := MapStatus(result.ResultStatus)
	if err != nil {
		return nil, err
	}

	return &provider.StatusResponse{
		ProviderTransactionID: result.ConversationID,
		Status:                status,
	}, nil
}

// Refund is not available on this rail.
func (p *MpesaProvider) Refund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResponse, error) {
	return nil, provider.ErrRefundUnsupported
}

// VerifySignature checks the X-Mpesa-Signature header: base64 HMAC-SHA256
// of the raw payload under the webhook secret, compared in constant time.
func (p *MpesaProvider) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookPayload struct {
	EventID          string    `json:"eventId"`
	EventType        string    `json:"eventType"`
	ConversationID   string    `json:"conversationId"`
	AccountReference string    `json:"accountReference"`
	ResultStatus     string    `json:"resultStatus"`
	ResultDesc       string    `json:"resultDesc,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// InterpretWebhook extracts event identity, correlation and canonical
// status from an M-Pesa result callback.
func (p *MpesaProvider) InterpretWebhook(payload []byte) (*provider.WebhookEvent, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &provider.ProviderError{
			Code:    "PARSE_ERROR",
			Message: "Failed to parse webhook payload",
			Details: err.Error(),
		}
	}

	status, err := MapStatus(event.ResultStatus)
	if err != nil {
		return nil, err
	}

	return &provider.WebhookEvent{
		EventID:               event.EventID,
		EventType:             event.EventType,
		CorrelationKey:        event.AccountReference,
		ProviderTransactionID: event.ConversationID,
		Status:                status,
		FailureReason:         event.ResultDesc,
		CreatedAt:             event.Timestamp,
	}, nil
}

func directionFor(t model.PaymentType) string {
	if t == model.PaymentTypeWithdrawal {
		return "b2c"
	}
	return "c2b"
}

func (p *MpesaProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	token, err := p.bearerToken(ctx)
	if err != nil {
		return err
	}

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
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.Error("MpesaProvider: request failed",
			zap.String("path", path),
			zap.Error(err))
		return &provider.ProviderError{
			Code:    "API_ERROR",
			Message: "M-Pesa API request failed",
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

	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked server-side before our expiry margin; drop it so
		// the next call re-authenticates.
		p.tokens.Invalidate(providerName)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp map[string]interface{}
		json.Unmarshal(respBody, &errResp)
		code, _ := errResp["errorCode"].(string)
		message, _ := errResp["errorMessage"].(string)
		if code == "" {
			code = "API_ERROR"
		}
		if message == "" {
			message = "M-Pesa API returned an error"
		}

		p.logger.Error("MpesaProvider: API error",
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
