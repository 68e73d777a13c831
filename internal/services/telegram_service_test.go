package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"0", "", "0.00"},
		{"45", "PEN", "45.00 PEN"},
		{"1234.5", "PEN", "1,234.50 PEN"},
		{"1234567.891", "USD", "1,234,567.89 USD"},
		{"-1500", "USD", "-1,500.00 USD"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPrice(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}

func TestTelegramNotifyNewOrder(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramService(TelegramConfig{BotToken: "TOKEN", AdminChatID: "-100", BaseURL: srv.URL}, zap.NewNop())
	order := sampleOrder()
	order.CustomerName = "Ana <b>"

	require.NoError(t, tg.NotifyNewOrder(context.Background(), newOrderNotification(order)))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, order.OrderNumber)
	assert.Contains(t, got.Text, "Ana &lt;b&gt;")
	assert.Contains(t, got.Text, "2 x 45.00 PEN = 90.00 PEN")
	assert.Contains(t, got.Text, "bank transfer")
}

func TestTelegramErrorsAndUnconfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	order := sampleOrder()

	tg := NewTelegramService(TelegramConfig{BotToken: "TOKEN", AdminChatID: "-100", BaseURL: srv.URL}, zap.NewNop())
	err := tg.NotifyPaymentFailed(context.Background(), newPaymentNotification(order, "declined"))
	assert.Error(t, err)

	silent := NewTelegramService(TelegramConfig{BaseURL: srv.URL}, zap.NewNop())
	assert.NoError(t, silent.NotifyPaymentSuccess(context.Background(), newPaymentNotification(order, "")))
}
