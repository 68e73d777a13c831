// Package repository is the persistence boundary of the storefront. Services
// only see the Repository interface; WithTx hands them a transactional view
// whose writes commit or roll back together.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique column already holds the value.
	ErrDuplicate = errors.New("duplicate record")
)

// StockRef points at the stock counter an order line draws from: the variant
// when one was bought, otherwise the product.
type StockRef struct {
	ProductID *uuid.UUID
	VariantID *uuid.UUID
}

// IsZero reports whether the reference points at nothing.
func (r StockRef) IsZero() bool {
	return r.ProductID == nil && r.VariantID == nil
}

// Key identifies the counter by value, for use as a map key.
func (r StockRef) Key() string {
	if r.VariantID != nil {
		return "variant:" + r.VariantID.String()
	}
	if r.ProductID != nil {
		return "product:" + r.ProductID.String()
	}
	return ""
}

// LineStockRef builds the stock reference of an order line.
func LineStockRef(line models.OrderLine) StockRef {
	return StockRef{ProductID: line.ProductID, VariantID: line.VariantID}
}

// Page holds pagination parameters.
type Page struct {
	Limit  int
	Offset int
}

type OrderFilter struct {
	UserID        *uuid.UUID
	Status        lifecycle.Status
	PaymentStatus lifecycle.PaymentStatus
	Page          Page
}

type PendingPaymentFilter struct {
	Status models.PendingPaymentStatus
	Page   Page
}

type MovementFilter struct {
	OrderID   *uuid.UUID
	ProductID *uuid.UUID
}

// Repository is implemented by Gorm (production) and Memory (tests).
type Repository interface {
	// WithTx runs fn inside one transaction. Calling WithTx on a
	// transactional repository joins the outer transaction.
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateProduct(ctx context.Context, product *models.Product) error
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error)
	ListProducts(ctx context.Context, page Page) ([]models.Product, int64, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	// LockStock reads a stock counter and locks its row until the
	// transaction ends. It returns ErrNotFound for dangling references.
	LockStock(ctx context.Context, ref StockRef) (int, error)
	SetStock(ctx context.Context, ref StockRef, stock int) error
	AppendMovement(ctx context.Context, movement *models.InventoryMovement) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]models.InventoryMovement, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error)
	CountOrdersByStatus(ctx context.Context) (map[lifecycle.Status]int64, error)

	CreatePendingPayment(ctx context.Context, payment *models.PendingPayment) error
	LockPendingPayment(ctx context.Context, id uuid.UUID) (*models.PendingPayment, error)
	UpdatePendingPayment(ctx context.Context, payment *models.PendingPayment) error
	ListPendingPayments(ctx context.Context, filter PendingPaymentFilter) ([]models.PendingPayment, int64, error)

	ListSettings(ctx context.Context) ([]models.Setting, error)
	UpsertSetting(ctx context.Context, setting models.Setting) error
}
