package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/utils"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *CardGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCardGateway(GatewayConfig{BaseURL: srv.URL + "/", SecretKey: "sk_test", Timeout: time.Second}, zap.NewNop())
}

func TestCardGatewayChargeSuccess(t *testing.T) {
	var got chargePayload
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": "chr_123",
			"authorization_code": "AUTH9",
			"amount": 15000,
			"currency_code": "PEN",
			"creation_date": 1767225600,
			"source": {"card_brand": "Visa", "last_four": "1111"}
		}`))
	})

	res, err := gw.Charge(context.Background(), ChargeRequest{
		AmountMinor:    15000,
		Currency:       "pen",
		Email:          "ana@example.com",
		SourceToken:    "tkn_abc",
		Description:    "Order ORD-1",
		Metadata:       map[string]string{"order_number": "ORD-1"},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(15000), got.Amount)
	assert.Equal(t, "PEN", got.CurrencyCode)
	assert.Equal(t, "tkn_abc", got.SourceID)
	assert.Equal(t, "ORD-1", got.Metadata["order_number"])

	assert.True(t, res.Success)
	assert.Equal(t, "chr_123", res.ChargeID)
	assert.Equal(t, "AUTH9", res.AuthorizationCode)
	assert.Equal(t, "Visa", res.CardBrand)
	assert.Equal(t, "1111", res.LastFour)
	assert.Equal(t, int64(1767225600), res.CreatedAt.Unix())
}

func TestCardGatewayDeclineIsNotAnError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"code":"card_declined","user_message":"Tarjeta rechazada","merchant_message":"insufficient funds"}`))
	})

	res, err := gw.Charge(context.Background(), ChargeRequest{AmountMinor: 100, Currency: "PEN", SourceToken: "t"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "card_declined", res.DeclineCode)
	assert.Equal(t, "Tarjeta rechazada", res.UserMessage)
	assert.Equal(t, "insufficient funds", res.MerchantMessage)
}

func TestCardGatewayDeclineWithoutBody(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	res, err := gw.Charge(context.Background(), ChargeRequest{AmountMinor: 100, Currency: "PEN", SourceToken: "t"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, defaultDeclineMessage, res.UserMessage)
}

func TestCardGatewayServerErrorIsTransient(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gw.Charge(context.Background(), ChargeRequest{AmountMinor: 100, Currency: "PEN", SourceToken: "t"})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, KindTransientGateway, KindOf(classify(err)))
}

func TestCardGatewayTransportFailure(t *testing.T) {
	gw := NewCardGateway(GatewayConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, zap.NewNop())

	_, err := gw.Charge(context.Background(), ChargeRequest{AmountMinor: 100, Currency: "PEN", SourceToken: "t"})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestCardGatewayRejectsNonPositiveAmount(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called")
	})

	_, err := gw.Charge(context.Background(), ChargeRequest{AmountMinor: 0})
	assert.ErrorIs(t, err, utils.ErrNonPositiveAmount)
	assert.Equal(t, KindValidation, KindOf(classify(err)))
}
