package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
)

// StockChange is one requested adjustment of a stock counter.
type StockChange struct {
	Ref      repository.StockRef
	Quantity int
	Reason   string
	OrderID  *uuid.UUID
	Actor    string
}

// LedgerResult reports what a ledger call actually did.
type LedgerResult struct {
	Applied    int
	Shortfall  int
	Skipped    bool
	StockAfter int
	Movement   *models.InventoryMovement
}

// Ledger adjusts stock counters and appends the matching movement. It only
// works inside the caller's transaction and never commits on its own.
type Ledger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLedger(logger *zap.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{logger: logger, metrics: m}
}

// Debit removes stock for a captured sale. The counter is clamped at zero;
// any shortfall is logged as a backorder and the movement records only what
// was removed. Lines whose product is gone are skipped.
func (l *Ledger) Debit(ctx context.Context, tx repository.Repository, ch StockChange) (LedgerResult, error) {
	return l.apply(ctx, tx, ch, models.MovementSale, debitClamp)
}

// DebitExact removes stock and fails with ErrInsufficientStock instead of
// clamping. Checkout uses it for orders that are debited up front.
func (l *Ledger) DebitExact(ctx context.Context, tx repository.Repository, ch StockChange) (LedgerResult, error) {
	return l.apply(ctx, tx, ch, models.MovementSale, debitStrict)
}

// Credit returns stock of a cancelled sale. Lines whose product is gone are
// skipped.
func (l *Ledger) Credit(ctx context.Context, tx repository.Repository, ch StockChange) (LedgerResult, error) {
	return l.apply(ctx, tx, ch, models.MovementReturn, credit)
}

// Restock adds purchased stock. Unlike Credit the target must exist.
func (l *Ledger) Restock(ctx context.Context, tx repository.Repository, ch StockChange) (LedgerResult, error) {
	return l.apply(ctx, tx, ch, models.MovementRestock, restock)
}

// linesByStockKey orders lines by the stock counter they draw from. Ledger
// loops walk lines in this order so row locks are always taken in the same
// sequence.
func linesByStockKey(lines []models.OrderLine) []models.OrderLine {
	out := slices.Clone(lines)
	slices.SortStableFunc(out, func(a, b models.OrderLine) int {
		return strings.Compare(repository.LineStockRef(a).Key(), repository.LineStockRef(b).Key())
	})
	return out
}

type ledgerMode int

const (
	debitClamp ledgerMode = iota
	debitStrict
	credit
	restock
)

func (l *Ledger) apply(ctx context.Context, tx repository.Repository, ch StockChange, typ models.MovementType, mode ledgerMode) (LedgerResult, error) {
	if ch.Quantity <= 0 {
		return LedgerResult{}, ErrInvalidQuantity
	}

	if ch.Ref.IsZero() {
		if mode == restock {
			return LedgerResult{}, repository.ErrNotFound
		}
		l.skip(ch, typ, "line has no product reference")
		return LedgerResult{Skipped: true}, nil
	}

	before, err := tx.LockStock(ctx, ch.Ref)
	if errors.Is(err, repository.ErrNotFound) && mode != restock {
		l.skip(ch, typ, "product no longer exists")
		return LedgerResult{Skipped: true}, nil
	}
	if err != nil {
		return LedgerResult{}, fmt.Errorf("lock stock: %w", err)
	}

	var delta, shortfall int
	switch mode {
	case debitStrict:
		if before < ch.Quantity {
			return LedgerResult{}, fmt.Errorf("%w: %d requested, %d available", ErrInsufficientStock, ch.Quantity, before)
		}
		delta = -ch.Quantity
	case debitClamp:
		applied := min(ch.Quantity, max(before, 0))
		shortfall = ch.Quantity - applied
		delta = -applied
	default:
		delta = ch.Quantity
	}

	if shortfall > 0 {
		l.logger.Warn("stock shortfall on captured sale, backorder required",
			zap.Stringer("order_id", uuidOrNil(ch.OrderID)),
			zap.Stringer("product_id", uuidOrNil(ch.Ref.ProductID)),
			zap.Stringer("variant_id", uuidOrNil(ch.Ref.VariantID)),
			zap.Int("requested", ch.Quantity),
			zap.Int("available", before),
			zap.Int("shortfall", shortfall))
	}

	result := LedgerResult{Applied: abs(delta), Shortfall: shortfall, StockAfter: before}
	if delta == 0 {
		return result, nil
	}

	after := before + delta
	if err := tx.SetStock(ctx, ch.Ref, after); err != nil {
		return LedgerResult{}, fmt.Errorf("set stock: %w", err)
	}

	movement := &models.InventoryMovement{
		ProductID:   ch.Ref.ProductID,
		VariantID:   ch.Ref.VariantID,
		Type:        typ,
		Quantity:    delta,
		StockBefore: before,
		StockAfter:  after,
		Reason:      ch.Reason,
		OrderID:     ch.OrderID,
		CreatedBy:   ch.Actor,
	}
	if err := tx.AppendMovement(ctx, movement); err != nil {
		return LedgerResult{}, fmt.Errorf("append movement: %w", err)
	}
	l.metrics.StockMovement(string(typ))

	result.StockAfter = after
	result.Movement = movement
	return result, nil
}

func (l *Ledger) skip(ch StockChange, typ models.MovementType, why string) {
	l.logger.Info("stock change skipped",
		zap.String("type", string(typ)),
		zap.String("why", why),
		zap.Stringer("order_id", uuidOrNil(ch.OrderID)),
		zap.Int("quantity", ch.Quantity))
}

func uuidOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
