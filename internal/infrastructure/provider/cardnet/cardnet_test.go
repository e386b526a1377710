package cardnet_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/cardnet"
)

const webhookSecret = "whsec_test"

func newTestProvider(baseURL string) *cardnet.CardnetProvider {
	return cardnet.NewCardnetProvider(baseURL, "sk_test", webhookSecret, 5*time.Second, zap.NewNop())
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCardnet_MapStatus(t *testing.T) {
	cases := map[string]model.PaymentStatus{
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

	for native, want := range cases {
		got, err := cardnet.MapStatus(native)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "native status %q", native)
	}

	t.Run("unmapped status is an error, not pending", func(t *testing.T) {
		_, err := cardnet.MapStatus("disputed")

		var unmapped *provider.ErrUnmappedStatus
		assert.ErrorAs(t, err, &unmapped)
		assert.Equal(t, "disputed", unmapped.Native)
	})
}

func TestCardnet_Initiate(t *testing.T) {
	t.Run("creates a charge", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/charges", r.URL.Path)
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "pay_1", body["reference"])
			assert.Equal(t, "100.00", body["amount"])

			json.NewEncoder(w).Encode(map[string]string{
				"id":        "ch_123",
				"reference": "pay_1",
				"status":    "authorized",
			})
		}))
		defer server.Close()

		p := newTestProvider(server.URL)
		resp, err := p.Initiate(context.Background(), &provider.InitiateRequest{
			Reference:  "pay_1",
			Type:       model.PaymentTypePayment,
			Amount:     decimal.RequireFromString("100.00"),
			Currency:   "USD",
			MethodType: "card",
		})

		assert.NoError(t, err)
		assert.Equal(t, "ch_123", resp.ProviderTransactionID)
		assert.Equal(t, model.PaymentStatusProcessing, resp.Status)
	})

	t.Run("API error surfaces as ProviderError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "card_declined",
				"message": "Your card was declined",
			})
		}))
		defer server.Close()

		p := newTestProvider(server.URL)
		_, err := p.Initiate(context.Background(), &provider.InitiateRequest{
			Reference: "pay_1",
			Amount:    decimal.RequireFromString("100.00"),
			Currency:  "USD",
		})

		var provErr *provider.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "card_declined", provErr.Code)
	})
}

func TestCardnet_Refund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges/ch_123/refunds", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "50.00", body["amount"])

		json.NewEncoder(w).Encode(map[string]string{
			"id":     "re_456",
			"status": "refunded",
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	resp, err := p.Refund(context.Background(), &provider.RefundRequest{
		ProviderTransactionID: "ch_123",
		Amount:                decimal.RequireFromString("50.00"),
		Reason:                "customer request",
	})

	assert.NoError(t, err)
	assert.Equal(t, "re_456", resp.RefundID)
	assert.Equal(t, model.PaymentStatusRefunded, resp.Status)
}

func TestCardnet_VerifySignature(t *testing.T) {
	p := newTestProvider("http://unused")
	payload := []byte(`{"id":"evt_1"}`)

	assert.True(t, p.VerifySignature(payload, sign(payload)))
	assert.False(t, p.VerifySignature(payload, sign([]byte("tampered"))))
	assert.False(t, p.VerifySignature(payload, ""))
	assert.False(t, p.VerifySignature(payload, "not-hex"))
}

func TestCardnet_InterpretWebhook(t *testing.T) {
	p := newTestProvider("http://unused")

	t.Run("extracts identity, correlation and status", func(t *testing.T) {
		payload := []byte(`{
			"id": "evt_1",
			"type": "charge.captured",
			"created_at": "2026-08-01T10:00:00Z",
			"data": {
				"id": "ch_123",
				"reference": "6e8bc430-9c3a-11d9-9669-0800200c9a66",
				"status": "captured"
			}
		}`)

		event, err := p.InterpretWebhook(payload)

		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.EventID)
		assert.Equal(t, "charge.captured", event.EventType)
		assert.Equal(t, "6e8bc430-9c3a-11d9-9669-0800200c9a66", event.CorrelationKey)
		assert.Equal(t, "ch_123", event.ProviderTransactionID)
		assert.Equal(t, model.PaymentStatusCompleted, event.Status)
	})

	t.Run("decline reason is carried", func(t *testing.T) {
		payload := []byte(`{
			"id": "evt_2",
			"type": "charge.declined",
			"data": {"id": "ch_124", "status": "declined", "decline_reason": "insufficient_funds"}
		}`)

		event, err := p.InterpretWebhook(payload)

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusFailed, event.Status)
		assert.Equal(t, "insufficient_funds", event.FailureReason)
	})

	t.Run("unmapped native status fails interpretation", func(t *testing.T) {
		payload := []byte(`{"id": "evt_3", "data": {"id": "ch_125", "status": "disputed"}}`)

		_, err := p.InterpretWebhook(payload)

		var unmapped *provider.ErrUnmappedStatus
		assert.ErrorAs(t, err, &unmapped)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := p.InterpretWebhook([]byte(`{broken`))

		var provErr *provider.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "PARSE_ERROR", provErr.Code)
	})
}
