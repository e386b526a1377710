package mtnmomo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/mtnmomo"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/oauth"
)

const callbackSecret = "cb_secret"

func newTestProvider(baseURL string) *mtnmomo.MomoProvider {
	tokens := oauth.NewTokenCache(oauth.DefaultExpiryMargin)
	return mtnmomo.NewMomoProvider(baseURL, "sub_key", "client", "secret", callbackSecret, 5*time.Second, tokens, zap.NewNop())
}

func withToken(payments http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok_momo",
				"expires_in":   3600,
			})
			return
		}
		payments(w, r)
	}
}

func TestMomo_MapStatus(t *testing.T) {
	cases := map[string]model.PaymentStatus{
		"PENDING":    model.PaymentStatusProcessing,
		"SUCCESSFUL": model.PaymentStatusCompleted,
		"FAILED":     model.PaymentStatusFailed,
		"REJECTED":   model.PaymentStatusFailed,
	}

	for native, want := range cases {
		got, err := mtnmomo.MapStatus(native)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "native status %q", native)
	}

	_, err := mtnmomo.MapStatus("ONGOING")
	var unmapped *provider.ErrUnmappedStatus
	assert.ErrorAs(t, err, &unmapped)
}

func TestMomo_Initiate(t *testing.T) {
	t.Run("deposit is a collection request", func(t *testing.T) {
		var gotReferenceID string
		server := httptest.NewServer(withToken(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/collection/v1_0/requesttopay", r.URL.Path)
			assert.Equal(t, "sub_key", r.Header.Get("Ocp-Apim-Subscription-Key"))
			assert.Equal(t, "Bearer tok_momo", r.Header.Get("Authorization"))
			gotReferenceID = r.Header.Get("X-Reference-Id")

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "pay_1", body["externalId"])

			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		p := newTestProvider(server.URL)
		resp, err := p.Initiate(context.Background(), &provider.InitiateRequest{
			Reference: "pay_1",
			Type:      model.PaymentTypeDeposit,
			Amount:    decimal.RequireFromString("1000.00"),
			Currency:  "UGX",
			MethodDetails: map[string]interface{}{
				"phone_number": "256700000001",
			},
		})

		require.NoError(t, err)
		// The rail acks with an empty 202: the transaction id is the
		// client-generated reference and the status is always processing.
		assert.Equal(t, gotReferenceID, resp.ProviderTransactionID)
		_, parseErr := uuid.Parse(resp.ProviderTransactionID)
		assert.NoError(t, parseErr)
		assert.Equal(t, model.PaymentStatusProcessing, resp.Status)
	})

	t.Run("withdrawal is a disbursement transfer", func(t *testing.T) {
		server := httptest.NewServer(withToken(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/disbursement/v1_0/transfer", r.URL.Path)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		p := newTestProvider(server.URL)
		_, err := p.Initiate(context.Background(), &provider.InitiateRequest{
			Reference: "pay_2",
			Type:      model.PaymentTypeWithdrawal,
			Amount:    decimal.RequireFromString("500.00"),
			Currency:  "UGX",
		})

		assert.NoError(t, err)
	})
}

func TestMomo_CheckStatus(t *testing.T) {
	t.Run("deposit is checked on the collection flow", func(t *testing.T) {
		server := httptest.NewServer(withToken(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/collection/v1_0/requesttopay/ref_1", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{
				"externalId": "pay_1",
				"status":     "SUCCESSFUL",
			})
		}))
		defer server.Close()

		p := newTestProvider(server.URL)
		resp, err := p.CheckStatus(context.Background(), "ref_1", model.PaymentTypeDeposit)

		require.NoError(t, err)
		assert.Equal(t, "ref_1", resp.ProviderTransactionID)
		assert.Equal(t, model.PaymentStatusCompleted, resp.Status)
	})

	t.Run("withdrawal is checked on the disbursement flow", func(t *testing.T) {
		server := httptest.NewServer(withToken(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/disbursement/v1_0/transfer/ref_2", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{
				"externalId": "pay_2",
				"status":     "PENDING",
			})
		}))
		defer server.Close()

		p := newTestProvider(server.URL)
		resp, err := p.CheckStatus(context.Background(), "ref_2", model.PaymentTypeWithdrawal)

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusProcessing, resp.Status)
	})
}

func TestMomo_CancelAndRefund(t *testing.T) {
	p := newTestProvider("http://unused")
	ctx := context.Background()

	_, err := p.Cancel(ctx, "ref_1")
	var provErr *provider.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "CANCEL_UNSUPPORTED", provErr.Code)

	_, err = p.Refund(ctx, &provider.RefundRequest{ProviderTransactionID: "ref_1"})
	assert.ErrorIs(t, err, provider.ErrRefundUnsupported)
}

func TestMomo_VerifySignature(t *testing.T) {
	p := newTestProvider("http://unused")
	payload := []byte(`{"referenceId":"ref_1"}`)

	assert.True(t, p.VerifySignature(payload, callbackSecret))
	assert.False(t, p.VerifySignature(payload, "wrong"))
	assert.False(t, p.VerifySignature(payload, ""))

	t.Run("empty configured secret rejects everything", func(t *testing.T) {
		bare := mtnmomo.NewMomoProvider("http://unused", "sub", "client", "secret", "", time.Second, oauth.NewTokenCache(0), zap.NewNop())
		assert.False(t, bare.VerifySignature(payload, ""))
	})
}

func TestMomo_InterpretWebhook(t *testing.T) {
	p := newTestProvider("http://unused")

	t.Run("event identity is reference plus status", func(t *testing.T) {
		payload := []byte(`{
			"referenceId": "ref_1",
			"externalId": "6e8bc430-9c3a-11d9-9669-0800200c9a66",
			"status": "SUCCESSFUL",
			"timestamp": "2026-08-01T10:00:00Z"
		}`)

		event, err := p.InterpretWebhook(payload)

		require.NoError(t, err)
		assert.Equal(t, "ref_1:SUCCESSFUL", event.EventID)
		assert.Equal(t, "transfer.SUCCESSFUL", event.EventType)
		assert.Equal(t, "ref_1", event.ProviderTransactionID)
		assert.Equal(t, "6e8bc430-9c3a-11d9-9669-0800200c9a66", event.CorrelationKey)
		assert.Equal(t, model.PaymentStatusCompleted, event.Status)
	})

	t.Run("distinct states of one transfer get distinct identities", func(t *testing.T) {
		pending := []byte(`{"referenceId": "ref_2", "status": "PENDING"}`)
		successful := []byte(`{"referenceId": "ref_2", "status": "SUCCESSFUL"}`)

		first, err := p.InterpretWebhook(pending)
		require.NoError(t, err)
		second, err := p.InterpretWebhook(successful)
		require.NoError(t, err)

		assert.NotEqual(t, first.EventID, second.EventID)
	})

	t.Run("rejection carries the reason", func(t *testing.T) {
		payload := []byte(`{"referenceId": "ref_3", "status": "REJECTED", "reason": "PAYER_LIMIT_REACHED"}`)

		event, err := p.InterpretWebhook(payload)

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusFailed, event.Status)
		assert.Equal(t, "PAYER_LIMIT_REACHED", event.FailureReason)
	})
}
