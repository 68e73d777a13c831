package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/settings"
)

type stubGateway struct {
	calls int
	keys  []string
}

func (g *stubGateway) Charge(_ context.Context, req services.ChargeRequest) (*services.ChargeResult, error) {
	g.calls++
	g.keys = append(g.keys, req.IdempotencyKey)
	return &services.ChargeResult{
		Success:   true,
		ChargeID:  "chr_1",
		CardBrand: "Visa",
		LastFour:  "4242",
	}, nil
}

type testServer struct {
	app     *fiber.App
	repo    *repository.Memory
	gateway *stubGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	decimal.MarshalJSONWithoutQuotes = true

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := repository.NewMemory()
	gateway := &stubGateway{}
	ledger := services.NewLedger(logger, m)
	cfg := &config.Config{
		JWTSecret:    "secret",
		TokenExpires: time.Hour,
		AdminEmails:  []string{"boss@shop.pe"},
	}

	recon := services.NewReconciliationService(services.ReconciliationDeps{
		Repo:    repo,
		Gateway: gateway,
		Ledger:  ledger,
		Logger:  logger,
		Metrics: m,
	})

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(logger)})
	Register(app, Deps{
		Config:         cfg,
		Repo:           repo,
		Checkout:       services.NewCheckoutService(repo, ledger, nil, logger, m),
		Reconciliation: recon,
		Settings:       settings.NewService(repo, time.Minute),
		Logger:         logger,
		Metrics:        m,
		Gatherer:       reg,
	})
	return &testServer{app: app, repo: repo, gateway: gateway}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Token   string          `json:"token"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func (s *testServer) register(t *testing.T, email string) string {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     "Someone",
		"email":    email,
		"password": "long-enough-password",
	})
	require.Equal(t, http.StatusCreated, status, env.Error.Message)
	require.NotEmpty(t, env.Token)
	return env.Token
}

type productResp struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Stock int    `json:"stock"`
}

type orderResp struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	Total         float64 `json:"total"`
}

type placedResp struct {
	Order          orderResp `json:"order"`
	PendingPayment *struct {
		ID     string  `json:"id"`
		Amount float64 `json:"amount"`
		Status string  `json:"status"`
	} `json:"pending_payment"`
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func (s *testServer) createProduct(t *testing.T, admin, name string, stock int) productResp {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/admin/products", admin, map[string]any{
		"name":  name,
		"price": 75.5,
		"stock": stock,
	})
	require.Equal(t, http.StatusCreated, status, env.Error.Message)
	return decode[productResp](t, env.Data)
}

func orderBody(productID, method string, qty int) map[string]any {
	return map[string]any{
		"customer_name":     "Ana",
		"customer_email":    "ana@example.com",
		"shipping_address":  "Av. Sol 123",
		"shipping_city":     "Cusco",
		"payment_method":    method,
		"payment_reference": "OP-1",
		"items":             []map[string]any{{"product_id": productID, "quantity": qty}},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "ana@example.com")

	status, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ana", "email": "ANA@example.com", "password": "long-enough-password",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, env.Success)

	status, env = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "long-enough-password",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, env.Token)

	status, env = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Bob", "email": "not-an-email", "password": "long-enough-password",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ValidationError", env.Error.Code)
}

func TestAdminRoutesNeedAdminRole(t *testing.T) {
	s := newTestServer(t)
	customer := s.register(t, "ana@example.com")

	status, _ := s.do(t, http.MethodGet, "/api/admin/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodGet, "/api/admin/dashboard", customer, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Forbidden", env.Error.Code)
}

func TestManualPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "boss@shop.pe")
	customer := s.register(t, "ana@example.com")

	product := s.createProduct(t, admin, "Alpaca Scarf", 5)
	assert.Equal(t, "alpaca-scarf", product.Slug)
	assert.Equal(t, 5, product.Stock)

	status, env := s.do(t, http.MethodPost, "/api/orders", customer, orderBody(product.ID, "bank_transfer", 2))
	require.Equal(t, http.StatusCreated, status, env.Error.Message)
	placed := decode[placedResp](t, env.Data)
	require.NotNil(t, placed.PendingPayment)
	assert.Equal(t, "PENDING", placed.Order.Status)
	assert.Equal(t, 151.0, placed.PendingPayment.Amount)

	status, env = s.do(t, http.MethodGet, "/api/products/"+product.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, decode[productResp](t, env.Data).Stock)

	status, env = s.do(t, http.MethodGet, "/api/admin/payments", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]json.RawMessage](t, env.Data), 1)

	path := "/api/admin/payments/" + placed.PendingPayment.ID
	status, env = s.do(t, http.MethodPost, path+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Error.Message)

	status, env = s.do(t, http.MethodPost, path+"/approve", admin, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AlreadyProcessed", env.Error.Code)

	status, env = s.do(t, http.MethodPost, path+"/reject", admin, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, status)

	status, env = s.do(t, http.MethodGet, "/api/orders/"+placed.Order.ID, customer, nil)
	require.Equal(t, http.StatusOK, status)
	order := decode[orderResp](t, env.Data)
	assert.Equal(t, "PAID", order.Status)
	assert.Equal(t, "PAID", order.PaymentStatus)

	status, env = s.do(t, http.MethodPost, "/api/admin/orders/"+order.ID+"/ship", admin, map[string]string{"tracking_number": "TRK1"})
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	status, env = s.do(t, http.MethodPost, "/api/admin/orders/"+order.ID+"/deliver", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	assert.Equal(t, "DELIVERED", decode[orderResp](t, env.Data).Status)

	status, env = s.do(t, http.MethodGet, "/api/admin/orders/"+order.ID+"/movements", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]json.RawMessage](t, env.Data), 1)

	status, env = s.do(t, http.MethodGet, "/api/admin/products/"+product.ID+"/movements", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]json.RawMessage](t, env.Data), 2)
}

func TestRejectedPaymentRestoresStock(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "boss@shop.pe")
	customer := s.register(t, "ana@example.com")
	product := s.createProduct(t, admin, "Poncho", 4)

	status, env := s.do(t, http.MethodPost, "/api/orders", customer, orderBody(product.ID, "wallet_transfer", 3))
	require.Equal(t, http.StatusCreated, status, env.Error.Message)
	placed := decode[placedResp](t, env.Data)

	path := "/api/admin/payments/" + placed.PendingPayment.ID + "/reject"
	status, env = s.do(t, http.MethodPost, path, admin, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = s.do(t, http.MethodPost, path, admin, map[string]string{"reason": "comprobante inválido"})
	require.Equal(t, http.StatusOK, status, env.Error.Message)

	status, env = s.do(t, http.MethodGet, "/api/products/"+product.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, decode[productResp](t, env.Data).Stock)
}

func TestCardPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "boss@shop.pe")
	customer := s.register(t, "ana@example.com")
	stranger := s.register(t, "eve@example.com")
	product := s.createProduct(t, admin, "Poncho", 4)

	status, env := s.do(t, http.MethodPost, "/api/orders", customer, orderBody(product.ID, "card", 1))
	require.Equal(t, http.StatusCreated, status, env.Error.Message)
	placed := decode[placedResp](t, env.Data)
	assert.Nil(t, placed.PendingPayment)

	pay := "/api/orders/" + placed.Order.ID + "/pay"

	status, _ = s.do(t, http.MethodPost, pay, stranger, map[string]string{"source_token": "tkn"})
	assert.Equal(t, http.StatusNotFound, status)

	status, env = s.do(t, http.MethodPost, pay, customer, map[string]string{"source_token": "tkn"}, "Idempotency-Key", "key-1")
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	assert.Equal(t, "PAID", decode[orderResp](t, env.Data).Status)
	assert.Equal(t, []string{services.ClientIdempotencyKey(uuid.MustParse(placed.Order.ID), "key-1")}, s.gateway.keys)

	status, env = s.do(t, http.MethodPost, pay, customer, map[string]string{"source_token": "tkn"}, "Idempotency-Key", "key-1")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AlreadyProcessed", env.Error.Code)
	assert.Equal(t, 1, s.gateway.calls)

	status, env = s.do(t, http.MethodGet, "/api/products/"+product.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, decode[productResp](t, env.Data).Stock)

	status, env = s.do(t, http.MethodGet, "/api/orders/"+placed.Order.ID, stranger, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "boss@shop.pe")

	status, env := s.do(t, http.MethodPut, "/api/admin/settings", admin, map[string]string{"currency": "PEN", "shipping_fee": "12.5"})
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	values := decode[map[string]string](t, env.Data)
	assert.Equal(t, "PEN", values["currency"])

	status, env = s.do(t, http.MethodPut, "/api/admin/settings", admin, map[string]string{"currency": "SOLES"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ValidationError", env.Error.Code)

	product := s.createProduct(t, admin, "Hat", 1)
	customer := s.register(t, "ana@example.com")
	status, env = s.do(t, http.MethodPost, "/api/orders", customer, orderBody(product.ID, "card", 1))
	require.Equal(t, http.StatusCreated, status, env.Error.Message)
	placed := decode[placedResp](t, env.Data)
	assert.Equal(t, 88.0, placed.Order.Total)
}
