package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
)

type notification struct {
	kind   string
	order  models.Order
	reason string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) record(kind string, order models.Order, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: kind, order: order, reason: reason})
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, o models.Order) {
	n.record("placed", o, "")
}

func (n *recordingNotifier) PaymentConfirmed(_ context.Context, o models.Order) {
	n.record("confirmed", o, "")
}

func (n *recordingNotifier) PaymentRejected(_ context.Context, o models.Order, reason string) {
	n.record("rejected", o, reason)
}

func (n *recordingNotifier) OrderShipped(_ context.Context, o models.Order) {
	n.record("shipped", o, "")
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

type fakeGateway struct {
	mu     sync.Mutex
	calls  []ChargeRequest
	result *ChargeResult
	err    error
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func capturedCharge() *ChargeResult {
	return &ChargeResult{
		Success:           true,
		ChargeID:          "chr_test_1",
		AuthorizationCode: "A1B2C3",
		CardBrand:         "Visa",
		LastFour:          "4242",
	}
}

type recordingGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newRecordingGuard() *recordingGuard {
	return &recordingGuard{held: map[string]bool{}}
}

func (g *recordingGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *recordingGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	g.released = append(g.released, key)
	return nil
}

type fixture struct {
	repo     *repository.Memory
	gateway  *fakeGateway
	guard    *recordingGuard
	notifier *recordingNotifier
	ledger   *Ledger
	recon    *ReconciliationService
	checkout *CheckoutService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     repository.NewMemory(),
		gateway:  &fakeGateway{result: capturedCharge()},
		guard:    newRecordingGuard(),
		notifier: &recordingNotifier{},
		ledger:   NewLedger(zap.NewNop(), nil),
	}
	f.recon = NewReconciliationService(ReconciliationDeps{
		Repo:     f.repo,
		Gateway:  f.gateway,
		Guard:    f.guard,
		Ledger:   f.ledger,
		Notifier: f.notifier,
		Logger:   zap.NewNop(),
	})
	f.checkout = NewCheckoutService(f.repo, f.ledger, f.notifier, zap.NewNop(), nil)
	return f
}

func (f *fixture) product(t *testing.T, name string, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:     name,
		Slug:     uuid.NewString(),
		Price:    decimal.RequireFromString(price),
		Currency: "PEN",
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, f.repo.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) stockOf(t *testing.T, p *models.Product) int {
	t.Helper()
	stock, err := f.repo.LockStock(context.Background(), repository.StockRef{ProductID: &p.ID})
	require.NoError(t, err)
	return stock
}

type lineSpec struct {
	product *models.Product
	qty     int
}

// order persists a PENDING order the way checkout would, without touching stock.
func (f *fixture) order(t *testing.T, method string, lines ...lineSpec) *models.Order {
	t.Helper()
	o := &models.Order{
		OrderNumber:   "ORD-" + uuid.NewString()[:8],
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Currency:      "PEN",
		Status:        lifecycle.StatusPending,
		PaymentStatus: lifecycle.PaymentPending,
		PaymentMethod: method,
	}
	total := decimal.Zero
	for _, l := range lines {
		id := l.product.ID
		lineTotal := l.product.Price.Mul(decimal.NewFromInt(int64(l.qty)))
		o.Lines = append(o.Lines, models.OrderLine{
			ProductID:   &id,
			ProductName: l.product.Name,
			UnitPrice:   l.product.Price,
			Quantity:    l.qty,
			LineTotal:   lineTotal,
		})
		total = total.Add(lineTotal)
	}
	o.Subtotal = total
	o.Total = total
	require.NoError(t, f.repo.CreateOrder(context.Background(), o))
	return o
}

func (f *fixture) pendingPayment(t *testing.T, order *models.Order, amount string) *models.PendingPayment {
	t.Helper()
	p := &models.PendingPayment{
		OrderID:   order.ID,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "PEN",
		Method:    "bank_transfer",
		Reference: "OP-123",
		Status:    models.PendingPaymentPending,
	}
	require.NoError(t, f.repo.CreatePendingPayment(context.Background(), p))
	return p
}

func (f *fixture) movements(t *testing.T, order *models.Order) []models.InventoryMovement {
	t.Helper()
	mv, err := f.repo.ListMovements(context.Background(), repository.MovementFilter{OrderID: &order.ID})
	require.NoError(t, err)
	return mv
}
