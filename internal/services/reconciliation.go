package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/utils"
)

const systemActor = "system"

// ReconciliationDeps wires the reconciliation service.
type ReconciliationDeps struct {
	Repo     repository.Repository
	Gateway  PaymentGateway
	Guard    ChargeGuard
	Ledger   *Ledger
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// ReconciliationService applies payment outcomes and fulfillment steps to
// orders. Each operation runs in one transaction that locks the rows it
// checks, and notifications go out only after commit.
type ReconciliationService struct {
	repo     repository.Repository
	gateway  PaymentGateway
	guard    ChargeGuard
	ledger   *Ledger
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewReconciliationService(deps ReconciliationDeps) *ReconciliationService {
	s := &ReconciliationService{
		repo:     deps.Repo,
		gateway:  deps.Gateway,
		guard:    deps.Guard,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		now:      time.Now,
	}
	if s.guard == nil {
		s.guard = NoopChargeGuard()
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.ledger == nil {
		s.ledger = NewLedger(s.logger, s.metrics)
	}
	return s
}

// CardPaymentRequest is a customer's card submission for an order.
type CardPaymentRequest struct {
	OrderID        uuid.UUID
	SourceToken    string
	IdempotencyKey string
	// CustomerID restricts the payment to the order owner when set.
	CustomerID *uuid.UUID
}

// ProcessCardPayment charges the card of a pending card order and
// reconciles the outcome.
func (s *ReconciliationService) ProcessCardPayment(ctx context.Context, req CardPaymentRequest) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, req.OrderID)
	if err != nil {
		return nil, classify(err)
	}
	if req.CustomerID != nil && (order.UserID == nil || *order.UserID != *req.CustomerID) {
		return nil, newError(KindNotFound, "Order not found", nil)
	}
	if order.PaymentMethod != models.PaymentMethodCard {
		return nil, newError(KindValidation, "Order is not payable by card", nil)
	}
	if order.PaymentStatus != lifecycle.PaymentPending {
		return nil, newError(KindAlreadyProcessed, "", lifecycle.ErrAlreadyProcessed)
	}
	if strings.TrimSpace(req.SourceToken) == "" {
		return nil, newError(KindValidation, "Card token is required", nil)
	}

	amount, err := utils.ToMinorUnits(order.Total)
	if err != nil {
		return nil, classify(err)
	}

	key := ChargeIdempotencyKey(order.ID, req.SourceToken)
	if clientKey := strings.TrimSpace(req.IdempotencyKey); clientKey != "" {
		key = ClientIdempotencyKey(order.ID, clientKey)
	}

	acquired, err := s.guard.Acquire(ctx, key)
	if err != nil {
		s.logger.Warn("charge guard unavailable, relying on row lock",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
		acquired = true
	}
	if !acquired {
		return nil, newError(KindAlreadyProcessed, "A payment for this order is already in progress", nil)
	}

	result, err := s.gateway.Charge(ctx, ChargeRequest{
		AmountMinor: amount,
		Currency:    order.Currency,
		Email:       order.CustomerEmail,
		SourceToken: req.SourceToken,
		Description: "Order " + order.OrderNumber,
		Metadata: map[string]string{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
		},
		IdempotencyKey: key,
	})
	if err != nil {
		if rerr := s.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.logger.Warn("charge guard release failed", zap.String("order_number", order.OrderNumber), zap.Error(rerr))
		}
		s.logger.Error("card charge failed",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
		if errors.Is(err, ErrGatewayUnavailable) {
			s.metrics.Reconciliation("card", "transient")
		} else {
			s.metrics.Reconciliation("card", "error")
		}
		return nil, classify(err)
	}

	if !result.Success {
		if _, err := s.applyDecline(ctx, order.ID, result); err != nil {
			return nil, err
		}
		return nil, newError(KindGatewayDeclined, result.UserMessage, nil)
	}

	paid, err := s.ApplyCapture(ctx, order.ID, *result)
	if err != nil && KindOf(err) != KindAlreadyProcessed {
		// The card was charged but the order was not updated. A retry with
		// the same key replays the charge at the gateway instead of taking
		// the money twice.
		s.logger.Error("captured charge not recorded, needs manual reconciliation",
			zap.String("order_number", order.OrderNumber),
			zap.String("charge_id", result.ChargeID),
			zap.String("authorization_code", result.AuthorizationCode),
			zap.Error(err))
		if rerr := s.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.logger.Warn("charge guard release failed", zap.String("order_number", order.OrderNumber), zap.Error(rerr))
		}
	}
	return paid, err
}

// ApplyCapture records a successful charge: the order becomes PAID and every
// line with a live product reference is debited.
func (s *ReconciliationService) ApplyCapture(ctx context.Context, orderID uuid.UUID, result ChargeResult) (*models.Order, error) {
	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		next, err := lifecycle.Next(order.State(), lifecycle.EventCapture)
		if err != nil {
			if errors.Is(err, lifecycle.ErrAlreadyProcessed) {
				// Money was taken for an order that is already settled.
				s.logger.Error("capture for already processed order, needs manual refund",
					zap.String("order_number", order.OrderNumber),
					zap.String("charge_id", result.ChargeID),
					zap.String("payment_status", string(order.PaymentStatus)))
			}
			return err
		}

		if result.AmountMinor > 0 {
			if charged := utils.FromMinorUnits(result.AmountMinor); !charged.Equal(order.Total) {
				s.logger.Warn("captured amount differs from order total",
					zap.String("order_number", order.OrderNumber),
					zap.String("charged", charged.StringFixed(2)),
					zap.String("total", order.Total.StringFixed(2)))
			}
		}

		now := s.now()
		order.SetState(next)
		order.PaymentProvider = ProviderCard
		order.PaymentID = result.ChargeID
		order.AuthorizationCode = result.AuthorizationCode
		order.CardBrand = result.CardBrand
		order.CardLastFour = result.LastFour
		order.PaidAt = &now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		for _, line := range linesByStockKey(order.Lines) {
			if _, err := s.ledger.Debit(ctx, tx, StockChange{
				Ref:      repository.LineStockRef(line),
				Quantity: line.Quantity,
				Reason:   "sale " + order.OrderNumber,
				OrderID:  &order.ID,
				Actor:    systemActor,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.Reconciliation("card", outcomeOf(err))
		return nil, classify(err)
	}

	s.metrics.Reconciliation("card", "captured")
	s.logger.Info("card payment captured",
		zap.String("order_number", order.OrderNumber),
		zap.String("charge_id", result.ChargeID))
	s.notifier.PaymentConfirmed(ctx, *order)
	return order, nil
}

func (s *ReconciliationService) applyDecline(ctx context.Context, orderID uuid.UUID, result *ChargeResult) (*models.Order, error) {
	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Next(order.State(), lifecycle.EventDecline)
		if err != nil {
			return err
		}
		now := s.now()
		order.SetState(next)
		order.PaymentProvider = ProviderCard
		order.CancelledAt = &now
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		s.metrics.Reconciliation("card", outcomeOf(err))
		return nil, classify(err)
	}

	s.metrics.Reconciliation("card", "declined")
	s.logger.Info("card payment declined",
		zap.String("order_number", order.OrderNumber),
		zap.String("decline_code", result.DeclineCode),
		zap.String("merchant_message", result.MerchantMessage))
	s.notifier.PaymentRejected(ctx, *order, result.UserMessage)
	return order, nil
}

// ApprovePendingPayment marks a manual payment verified and the order paid.
// Stock was already taken at checkout so inventory is left alone.
func (s *ReconciliationService) ApprovePendingPayment(ctx context.Context, paymentID uuid.UUID, actorID string) (*models.PendingPayment, error) {
	var payment *models.PendingPayment
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		var order *models.Order
		var err error
		payment, order, err = s.lockManualPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		next, err := lifecycle.Next(order.State(), lifecycle.EventApprove)
		if err != nil {
			return err
		}

		now := s.now()
		order.SetState(next)
		order.PaymentProvider = payment.Method
		order.PaymentID = payment.ID.String()
		order.PaidAt = &now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		payment.Status = models.PendingPaymentVerified
		payment.VerifiedBy = actorID
		payment.VerifiedAt = &now
		if err := tx.UpdatePendingPayment(ctx, payment); err != nil {
			return err
		}
		payment.Order = order
		return nil
	})
	if err != nil {
		s.metrics.Reconciliation("manual", outcomeOf(err))
		return nil, classify(err)
	}

	s.metrics.Reconciliation("manual", "approved")
	s.logger.Info("manual payment approved",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_number", payment.Order.OrderNumber),
		zap.String("actor", actorID))
	s.notifier.PaymentConfirmed(ctx, *payment.Order)
	return payment, nil
}

// RejectPendingPayment rejects a manual payment, cancels the order and puts
// the stock taken at checkout back.
func (s *ReconciliationService) RejectPendingPayment(ctx context.Context, paymentID uuid.UUID, actorID, reason string) (*models.PendingPayment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(KindValidation, "A rejection reason is required", nil)
	}

	var payment *models.PendingPayment
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		var order *models.Order
		var err error
		payment, order, err = s.lockManualPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		next, err := lifecycle.Next(order.State(), lifecycle.EventReject)
		if err != nil {
			return err
		}

		now := s.now()
		order.SetState(next)
		order.CancelledAt = &now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		payment.Status = models.PendingPaymentRejected
		payment.RejectionReason = reason
		payment.VerifiedBy = actorID
		payment.VerifiedAt = &now
		if err := tx.UpdatePendingPayment(ctx, payment); err != nil {
			return err
		}

		for _, line := range linesByStockKey(order.Lines) {
			if _, err := s.ledger.Credit(ctx, tx, StockChange{
				Ref:      repository.LineStockRef(line),
				Quantity: line.Quantity,
				Reason:   "payment rejected: " + reason,
				OrderID:  &order.ID,
				Actor:    actorID,
			}); err != nil {
				return err
			}
		}
		payment.Order = order
		return nil
	})
	if err != nil {
		s.metrics.Reconciliation("manual", outcomeOf(err))
		return nil, classify(err)
	}

	s.metrics.Reconciliation("manual", "rejected")
	s.logger.Info("manual payment rejected",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_number", payment.Order.OrderNumber),
		zap.String("actor", actorID),
		zap.String("reason", reason))
	s.notifier.PaymentRejected(ctx, *payment.Order, reason)
	return payment, nil
}

func (s *ReconciliationService) lockManualPayment(ctx context.Context, tx repository.Repository, paymentID uuid.UUID) (*models.PendingPayment, *models.Order, error) {
	payment, err := tx.LockPendingPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if payment.IsTerminal() {
		return nil, nil, newError(KindAlreadyProcessed, "Payment has already been "+string(payment.Status), lifecycle.ErrAlreadyProcessed)
	}
	order, err := tx.LockOrder(ctx, payment.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, newError(KindNotFound, "Order of this payment no longer exists", err)
		}
		return nil, nil, err
	}
	return payment, order, nil
}

// Ship moves a paid order to SHIPPED.
func (s *ReconciliationService) Ship(ctx context.Context, orderID uuid.UUID, trackingNumber string) (*models.Order, error) {
	order, err := s.fulfil(ctx, orderID, lifecycle.EventShip, func(o *models.Order, now time.Time) {
		o.ShippedAt = &now
		o.TrackingNumber = strings.TrimSpace(trackingNumber)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OrderShipped(ctx, *order)
	return order, nil
}

// Deliver moves a shipped order to DELIVERED.
func (s *ReconciliationService) Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.fulfil(ctx, orderID, lifecycle.EventDeliver, func(o *models.Order, now time.Time) {
		o.DeliveredAt = &now
	})
}

func (s *ReconciliationService) fulfil(ctx context.Context, orderID uuid.UUID, ev lifecycle.Event, stamp func(*models.Order, time.Time)) (*models.Order, error) {
	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Next(order.State(), ev)
		if err != nil {
			return err
		}
		order.SetState(next)
		stamp(order, s.now())
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Info("order fulfillment updated",
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)))
	return order, nil
}

// RestockRequest adds purchased stock to a product or one of its variants.
type RestockRequest struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
	Reason    string
	Actor     string
}

// Restock credits stock with a RESTOCK movement. It runs here so stock
// counters are only ever written inside a reconciliation transaction.
func (s *ReconciliationService) Restock(ctx context.Context, req RestockRequest) (*models.InventoryMovement, error) {
	if req.Quantity <= 0 {
		return nil, classify(ErrInvalidQuantity)
	}

	var movement *models.InventoryMovement
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		ref := repository.StockRef{ProductID: &req.ProductID}
		if req.VariantID != nil {
			variant, err := tx.FindVariant(ctx, *req.VariantID)
			if err != nil {
				return err
			}
			if variant.ProductID != req.ProductID {
				return newError(KindValidation, "Variant does not belong to this product", nil)
			}
			ref.VariantID = req.VariantID
		}

		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "restock"
		}
		res, err := s.ledger.Restock(ctx, tx, StockChange{
			Ref:      ref,
			Quantity: req.Quantity,
			Reason:   reason,
			Actor:    req.Actor,
		})
		if err != nil {
			return err
		}
		movement = res.Movement
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return movement, nil
}

// NewProductRequest is a product to insert together with its opening stock.
// VariantStock is indexed like Product.Variants.
type NewProductRequest struct {
	Product      *models.Product
	Stock        int
	VariantStock []int
	Actor        string
}

// CreateProduct inserts a product and books its opening stock as RESTOCK
// movements in the same transaction, so a failed booking leaves no product
// behind. A taken slug surfaces as a Conflict wrapping ErrDuplicate.
func (s *ReconciliationService) CreateProduct(ctx context.Context, req NewProductRequest) error {
	if req.Stock < 0 {
		return classify(ErrInvalidQuantity)
	}
	for _, qty := range req.VariantStock {
		if qty < 0 {
			return classify(ErrInvalidQuantity)
		}
	}
	if len(req.VariantStock) > len(req.Product.Variants) {
		return newError(KindValidation, "Stock given for unknown variants", nil)
	}

	product := req.Product
	product.Stock = 0
	for i := range product.Variants {
		product.Variants[i].Stock = 0
	}
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}

		book := func(ref repository.StockRef, qty int) error {
			if qty == 0 {
				return nil
			}
			_, err := s.ledger.Restock(ctx, tx, StockChange{
				Ref:      ref,
				Quantity: qty,
				Reason:   "initial stock",
				Actor:    req.Actor,
			})
			return err
		}

		if err := book(repository.StockRef{ProductID: &product.ID}, req.Stock); err != nil {
			return err
		}
		for i, qty := range req.VariantStock {
			variantID := product.Variants[i].ID
			if err := book(repository.StockRef{ProductID: &product.ID, VariantID: &variantID}, qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}

	product.Stock = req.Stock
	for i, qty := range req.VariantStock {
		product.Variants[i].Stock = qty
	}
	return nil
}

func outcomeOf(err error) string {
	switch KindOf(classify(err)) {
	case KindAlreadyProcessed:
		return "already_processed"
	case KindNotFound:
		return "not_found"
	case KindIllegalTransition:
		return "illegal"
	}
	return "error"
}
