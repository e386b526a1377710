package mtnmomo

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/oauth"
)

const providerName = "mtnmomo"

// statusTable maps MTN MoMo transfer statuses onto the canonical set. The
// rail only ever reports three states; PENDING covers both queued and
// in-flight transfers.
var statusTable = map[string]model.PaymentStatus{
	"PENDING":    model.PaymentStatusProcessing,
	"SUCCESSFUL": model.PaymentStatusCompleted,
	"FAILED":     model.PaymentStatusFailed,
	"REJECTED":   model.PaymentStatusFailed,
}

// MomoProvider implements the PaymentProvider interface for the MTN MoMo
// mobile-money rail. Every call carries a subscription key plus an OAuth
// bearer token; the transaction reference is generated client-side and
// becomes the provider transaction id. Callbacks are authenticated by a
// shared secret in X-Callback-Token. The rail has no refund or cancel API
// once a transfer is submitted.
type MomoProvider struct {
	baseURL         string
	subscriptionKey string
	clientID        string
	clientSecret    string
	callbackSecret  string
	client          *http.Client
	tokens          *oauth.TokenCache
	logger          *zap.Logger
}

// NewMomoProvider creates a new MTN MoMo provider
func NewMomoProvider(baseURL, subscriptionKey, clientID, clientSecret, callbackSecret string, timeout time.Duration, tokens *oauth.TokenCache, logger *zap.Logger) *MomoProvider {
	return &MomoProvider{
		baseURL:         baseURL,
		subscriptionKey: subscriptionKey,
		clientID:        clientID,
		clientSecret:    clientSecret,
		callbackSecret:  callbackSecret,
		client:          &http.Client{Timeout: timeout},
		tokens:          tokens,
		logger:          logger,
	}
}

// GetProviderName returns the provider name
func (p *MomoProvider) GetProviderName() string {
	return providerName
}

// MapStatus translates a native MTN MoMo status into the canonical set.
func MapStatus(native string) (model.PaymentStatus, error) {
	status, ok := statusTable[native]
	if !ok {
		return "", &provider.ErrUnmappedStatus{Provider: providerName, Native: native}
	}
	return status, nil
}

// bearerToken fetches or reuses the client-credentials token.
// POST /token/
func (p *MomoProvider) bearerToken(ctx context.Context) (string, error) {
	return p.tokens.Get(ctx, providerName, func(ctx context.Context) (oauth.Token, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/token/", nil)
		if err != nil {
			return oauth.Token{}, &provider.ProviderError{
				Code:    "REQUEST_ERROR",
				Message: "Failed to create token request",
				Details: err.Error(),
			}
		}
		basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
		httpReq.Header.Set("Authorization", "Basic "+basic)
		httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.subscriptionKey)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return oauth.Token{}, &provider.ProviderError{
				Code:    "AUTH_ERROR",
				Message: "MTN MoMo token request failed",
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
				Message: "MTN MoMo token request rejected",
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

		return oauth.Token{
			Value:     result.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
		}, nil
	})
}

// Initiate submits a transfer. Deposits are request-to-pay collections;
// withdrawals are disbursement transfers. The rail acks with 202 and an
// empty body, so the generated reference id is the transaction id and the
// synchronous status is always processing.
// POST /collection/v1_0/requesttopay | /disbursement/v1_0/transfer
func (p *MomoProvider) Initiate(ctx context.Context, req *provider.InitiateRequest) (*provider.InitiateResponse, error) {
	referenceID := uuid.New().String()
	phone, _ := req.MethodDetails["phone_number"].(string)

	body := map[string]interface{}{
		"amount":     req.Amount.StringFixed(2),
		"currency":   req.Currency,
		"externalId": req.Reference,
		"payee": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     phone,
		},
		"payerMessage": req.MethodType,
	}

	path := "/collection/v1_0/requesttopay"
	if req.Type == model.PaymentTypeWithdrawal {
		path = "/disbursement/v1_0/transfer"
	}

	if err := p.do(ctx, http.MethodPost, path, referenceID, body, nil); err != nil {
		return nil, err
	}

	p.logger.Info("MomoProvider: transfer submitted",
		zap.String("reference_id", referenceID),
		zap.String("path", path))

	return &provider.InitiateResponse{
		ProviderTransactionID: referenceID,
		Status:                model.PaymentStatusProcessing,
	}, nil
}

type transferStatus struct {
	ExternalID             string `json:"externalId"`
	Status                 string `json:"status"`
	Reason                 string `json:"reason,omitempty"`
	FinancialTransactionID string `json:"financialTransactionId,omitempty"`
}

// CheckStatus queries a transfer by its reference id. Collections and
// disbursements live under separate APIs, so the check follows the flow the
// transfer was initiated on.
// GET /collection/v1_0/requesttopay/{referenceId} | /disbursement/v1_0/transfer/{referenceId}
func (p *MomoProvider) CheckStatus(ctx context.Context, providerTransactionID string, paymentType model.PaymentType) (*provider.StatusResponse, error) {
	var result transferStatus
	path := fmt.Sprintf("/collection/v1_0/requesttopay/%s", providerTransactionID)
	if paymentType == model.PaymentTypeWithdrawal {
		path = fmt.Sprintf("/disbursement/v1_0/transfer/%s", providerTransactionID)
	}
	if err := p.do(ctx, http.MethodGet, path, "", nil, &result); err != nil {
		return nil, err
	}

	status, err := MapStatus(result.Status)
	if err != nil {
		return nil, err
	}

	return &provider.StatusResponse{
		ProviderTransactionID: providerTransactionID,
		Status:                status,
		FailureReason:         result.Reason,
	}, nil
}

// Cancel is not available once a transfer is submitted; the rail rejects it.
func (p *MomoProvider) Cancel(ctx context.Context, providerTransactionID string) (*provider.StatusResponse, error) {
	return nil, &provider.ProviderError{
		Code:    "CANCEL_UNSUPPORTED",
		Message: "MTN MoMo transfers cannot be cancelled once submitted",
	}
}

// Refund is not available on this rail.
func (p *MomoProvider) Refund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResponse, error) {
	return nil, provider.ErrRefundUnsupported
}

// VerifySignature checks the X-Callback-Token shared secret in constant
// time. The rail signs nothing; possession of the secret is the proof.
func (p *MomoProvider) VerifySignature(payload []byte, signature string) bool {
	if p.callbackSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.callbackSecret), []byte(signature)) == 1
}

type webhookPayload struct {
	ReferenceID            string    `json:"referenceId"`
	ExternalID             string    `json:"externalId"`
	Status                 string    `json:"status"`
	Reason                 string    `json:"reason,omitempty"`
	FinancialTransactionID string    `json:"financialTransactionId,omitempty"`
	Timestamp              time.Time `json:"timestamp"`
}

// InterpretWebhook extracts event identity, correlation and canonical
// status from a MoMo callback. The rail sends no event id of its own, so
// the (referenceId, status) pair stands in for one: each distinct state of
// a transfer is delivered at most once, and re-deliveries collapse onto the
// same key.
func (p *MomoProvider) InterpretWebhook(payload []byte) (*provider.WebhookEvent, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &provider.ProviderError{
			Code:    "PARSE_ERROR",
			Message: "Failed to parse webhook payload",
			Details: err.Error(),
		}
	}

	status, err := MapStatus(event.Status)
	if err != nil {
		return nil, err
	}

	return &provider.WebhookEvent{
		EventID:               event.ReferenceID + ":" + event.Status,
		EventType:             "transfer." + event.Status,
		CorrelationKey:        event.ExternalID,
		ProviderTransactionID: event.ReferenceID,
		Status:                status,
		FailureReason:         event.Reason,
		CreatedAt:             event.Timestamp,
	}, nil
}

func (p *MomoProvider) do(ctx context.Context, method, path, referenceID string, body interface{}, out interface{}) error {
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
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.subscriptionKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if referenceID != "" {
		httpReq.Header.Set("X-Reference-Id", referenceID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.Error("MomoProvider: request failed",
			zap.String("path", path),
			zap.Error(err))
		return &provider.ProviderError{
			Code:    "API_ERROR",
			Message: "MTN MoMo API request failed",
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
		p.tokens.Invalidate(providerName)
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
			message = "MTN MoMo API returned an error"
		}

		p.logger.Error("MomoProvider: API error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)))

		return &provider.ProviderError{
			Code:    code,
			Message: message,
			Details: string(respBody),
		}
	}

	if out != nil && len(respBody) > 0 {
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
