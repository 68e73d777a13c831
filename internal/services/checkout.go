package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/settings"
	"github.com/example/storefront/internal/utils"
)

// CheckoutItem is one requested product (and optional variant).
type CheckoutItem struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id"`
	Quantity  int        `json:"quantity" validate:"required,gt=0,lte=100"`
}

// PlaceOrderInput is a validated checkout form.
type PlaceOrderInput struct {
	UserID *uuid.UUID `json:"-"`

	CustomerName  string `json:"customer_name" validate:"required,max=120"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	CustomerPhone string `json:"customer_phone" validate:"max=40"`

	ShippingAddress   string `json:"shipping_address" validate:"required,max=255"`
	ShippingCity      string `json:"shipping_city" validate:"required,max=120"`
	ShippingRegion    string `json:"shipping_region" validate:"max=120"`
	ShippingReference string `json:"shipping_reference" validate:"max=255"`

	PaymentMethod    string `json:"payment_method" validate:"required"`
	PaymentReference string `json:"payment_reference" validate:"max=120"`
	Notes            string `json:"notes" validate:"max=500"`

	Items []CheckoutItem `json:"items" validate:"required,min=1,dive"`
}

func (in *PlaceOrderInput) normalize() {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerEmail = strings.ToLower(strings.TrimSpace(in.CustomerEmail))
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	in.ShippingCity = strings.TrimSpace(in.ShippingCity)
	in.ShippingRegion = strings.TrimSpace(in.ShippingRegion)
	in.ShippingReference = strings.TrimSpace(in.ShippingReference)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.PaymentReference = strings.TrimSpace(in.PaymentReference)
	in.Notes = strings.TrimSpace(in.Notes)
}

// CheckoutService turns a cart into a PENDING order.
type CheckoutService struct {
	repo     repository.Repository
	ledger   *Ledger
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewCheckoutService(repo repository.Repository, ledger *Ledger, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *CheckoutService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &CheckoutService{
		repo:     repo,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// PlaceOrder snapshots the cart into a new order. Card orders are only
// checked against stock here and debited on capture. Manual-payment orders
// get their PendingPayment and are debited inside the same transaction.
func (s *CheckoutService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*models.Order, *models.PendingPayment, error) {
	in.normalize()
	if err := utils.ValidateStruct(in); err != nil {
		return nil, nil, newError(KindValidation, err.Error(), err)
	}

	store := settings.FromContext(ctx)
	method := in.PaymentMethod
	card := method == models.PaymentMethodCard
	manual := !card && store.IsManualMethod(method)
	if !card && !manual {
		return nil, nil, newError(KindValidation, fmt.Sprintf("Payment method %q is not available", method), nil)
	}
	if manual && in.PaymentReference == "" {
		return nil, nil, newError(KindValidation, "A payment reference is required for "+method, nil)
	}

	var (
		order   *models.Order
		payment *models.PendingPayment
	)
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		lines, err := s.snapshotLines(ctx, tx, in.Items)
		if err != nil {
			return err
		}

		subtotal := decimal.Zero
		for _, line := range lines {
			subtotal = subtotal.Add(line.LineTotal)
		}
		subtotal = utils.RoundMoney(subtotal)
		shipping := utils.RoundMoney(settings.ShippingFor(store, subtotal))

		initial := lifecycle.Initial()
		order = &models.Order{
			OrderNumber:       s.orderNumber(),
			UserID:            in.UserID,
			CustomerName:      in.CustomerName,
			CustomerEmail:     in.CustomerEmail,
			CustomerPhone:     in.CustomerPhone,
			ShippingAddress:   in.ShippingAddress,
			ShippingCity:      in.ShippingCity,
			ShippingRegion:    in.ShippingRegion,
			ShippingReference: in.ShippingReference,
			Subtotal:          subtotal,
			ShippingFee:       shipping,
			Total:             subtotal.Add(shipping),
			Currency:          store.Currency(),
			Status:            initial.Status,
			PaymentStatus:     initial.Payment,
			PaymentMethod:     method,
			Notes:             in.Notes,
			Lines:             lines,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		if !manual {
			return nil
		}

		payment = &models.PendingPayment{
			OrderID:   order.ID,
			Amount:    order.Total,
			Currency:  order.Currency,
			Method:    method,
			Reference: in.PaymentReference,
			Status:    models.PendingPaymentPending,
		}
		if err := tx.CreatePendingPayment(ctx, payment); err != nil {
			return err
		}

		for _, line := range linesByStockKey(order.Lines) {
			if _, err := s.ledger.DebitExact(ctx, tx, StockChange{
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
		if KindOf(classify(err)) == KindUnexpected {
			s.logger.Error("checkout failed", zap.Error(err))
		}
		return nil, nil, classify(err)
	}

	s.logger.Info("order placed",
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_method", order.PaymentMethod),
		zap.String("total", order.Total.StringFixed(2)))
	s.notifier.OrderPlaced(ctx, *order)
	return order, payment, nil
}

// snapshotLines copies the catalog data of each item onto new order lines
// and checks that enough stock exists for the whole cart. Stock rows are
// locked in key order so concurrent checkouts cannot deadlock.
func (s *CheckoutService) snapshotLines(ctx context.Context, tx repository.Repository, items []CheckoutItem) ([]models.OrderLine, error) {
	refs := map[string]repository.StockRef{}
	requested := map[string]int{}
	available := map[string]int{}
	names := map[string]string{}
	lines := make([]models.OrderLine, 0, len(items))

	for _, item := range items {
		product, err := tx.FindProduct(ctx, item.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindValidation, "A product in the cart is no longer available", err)
		}
		if err != nil {
			return nil, err
		}
		if !product.IsActive {
			return nil, newError(KindValidation, product.Name+" is no longer available", nil)
		}

		var variant *models.ProductVariant
		if item.VariantID != nil {
			for i := range product.Variants {
				if product.Variants[i].ID == *item.VariantID {
					variant = &product.Variants[i]
					break
				}
			}
			if variant == nil || !variant.IsActive {
				return nil, newError(KindValidation, "The selected option of "+product.Name+" is not available", nil)
			}
		} else if len(product.Variants) > 0 {
			return nil, newError(KindValidation, "Choose an option for "+product.Name, nil)
		}

		productID := product.ID
		line := models.OrderLine{
			ProductID:   &productID,
			ProductName: product.Name,
			ImageURL:    product.ImageURL,
			UnitPrice:   utils.RoundMoney(product.UnitPrice(variant)),
			Quantity:    item.Quantity,
		}
		if variant != nil {
			variantID := variant.ID
			line.VariantID = &variantID
			line.VariantLabel = variant.Label
			if variant.ImageURL != "" {
				line.ImageURL = variant.ImageURL
			}
		}
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		lines = append(lines, line)

		ref := repository.LineStockRef(line)
		key := ref.Key()
		refs[key] = ref
		requested[key] += item.Quantity
		names[key] = line.ProductName
	}

	keys := slices.Sorted(maps.Keys(refs))
	for _, key := range keys {
		stock, err := tx.LockStock(ctx, refs[key])
		if err != nil {
			return nil, err
		}
		available[key] = stock
	}

	for _, key := range keys {
		qty := requested[key]
		if qty > available[key] {
			return nil, newError(KindValidation,
				fmt.Sprintf("Only %d left of %s", max(available[key], 0), names[key]),
				ErrInsufficientStock)
		}
	}
	return lines, nil
}

func (s *CheckoutService) orderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + s.now().Format("20060102") + "-" + suffix
}
