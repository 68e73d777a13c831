package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/models"
)

// Gorm is the Postgres-backed Repository.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an initialized gorm.DB.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

var _ Repository = (*Gorm)(nil)

func (r *Gorm) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

func forUpdate() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}

func (r *Gorm) CreateUser(ctx context.Context, user *models.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *Gorm) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *Gorm) CreateProduct(ctx context.Context, product *models.Product) error {
	return translate(r.db.WithContext(ctx).Create(product).Error)
}

func (r *Gorm) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).
		Preload("Variants").
		First(&product, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

func (r *Gorm) FindVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	if err := r.db.WithContext(ctx).First(&variant, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &variant, nil
}

func (r *Gorm) ListProducts(ctx context.Context, page Page) ([]models.Product, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{}).Where("is_active = ?", true)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var products []models.Product
	if err := query.Preload("Variants").
		Order("created_at desc").
		Limit(page.Limit).Offset(page.Offset).
		Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// DeleteProduct hard-deletes the product; the foreign keys null out order
// line references and cascade to variants.
func (r *Gorm) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Gorm) LockStock(ctx context.Context, ref StockRef) (int, error) {
	db := r.db.WithContext(ctx).Clauses(forUpdate())
	switch {
	case ref.VariantID != nil:
		var variant models.ProductVariant
		if err := db.Select("id", "stock").First(&variant, "id = ?", *ref.VariantID).Error; err != nil {
			return 0, translate(err)
		}
		return variant.Stock, nil
	case ref.ProductID != nil:
		var product models.Product
		if err := db.Select("id", "stock").First(&product, "id = ?", *ref.ProductID).Error; err != nil {
			return 0, translate(err)
		}
		return product.Stock, nil
	default:
		return 0, ErrNotFound
	}
}

func (r *Gorm) SetStock(ctx context.Context, ref StockRef, stock int) error {
	var res *gorm.DB
	switch {
	case ref.VariantID != nil:
		res = r.db.WithContext(ctx).Model(&models.ProductVariant{}).
			Where("id = ?", *ref.VariantID).
			Update("stock", stock)
	case ref.ProductID != nil:
		res = r.db.WithContext(ctx).Model(&models.Product{}).
			Where("id = ?", *ref.ProductID).
			Update("stock", stock)
	default:
		return ErrNotFound
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Gorm) AppendMovement(ctx context.Context, movement *models.InventoryMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *Gorm) ListMovements(ctx context.Context, filter MovementFilter) ([]models.InventoryMovement, error) {
	query := r.db.WithContext(ctx).Model(&models.InventoryMovement{})
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}

	var movements []models.InventoryMovement
	if err := query.Order("created_at asc").Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *Gorm) CreateOrder(ctx context.Context, order *models.Order) error {
	return translate(r.db.WithContext(ctx).Create(order).Error)
}

func (r *Gorm) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc") }).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *Gorm) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(forUpdate()).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("created_at asc").
		Find(&order.Lines).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder persists the status, payment and fulfillment columns. Snapshot
// columns are written once at checkout and never touched here.
func (r *Gorm) UpdateOrder(ctx context.Context, order *models.Order) error {
	updates := map[string]any{
		"status":             string(order.Status),
		"payment_status":     string(order.PaymentStatus),
		"payment_provider":   order.PaymentProvider,
		"payment_id":         order.PaymentID,
		"authorization_code": order.AuthorizationCode,
		"card_brand":         order.CardBrand,
		"card_last_four":     order.CardLastFour,
		"tracking_number":    order.TrackingNumber,
		"paid_at":            order.PaidAt,
		"shipped_at":         order.ShippedAt,
		"delivered_at":       order.DeliveredAt,
		"cancelled_at":       order.CancelledAt,
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Gorm) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		query = query.Where("payment_status = ?", string(filter.PaymentStatus))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := query.Preload("Lines").
		Order("created_at desc").
		Limit(filter.Page.Limit).Offset(filter.Page.Offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *Gorm) CountOrdersByStatus(ctx context.Context) (map[lifecycle.Status]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if err := r.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[lifecycle.Status]int64, len(rows))
	for _, row := range rows {
		counts[lifecycle.Status(row.Status)] = row.Count
	}
	return counts, nil
}

func (r *Gorm) CreatePendingPayment(ctx context.Context, payment *models.PendingPayment) error {
	return r.db.WithContext(ctx).Omit("Order").Create(payment).Error
}

func (r *Gorm) LockPendingPayment(ctx context.Context, id uuid.UUID) (*models.PendingPayment, error) {
	var payment models.PendingPayment
	if err := r.db.WithContext(ctx).
		Clauses(forUpdate()).
		First(&payment, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *Gorm) UpdatePendingPayment(ctx context.Context, payment *models.PendingPayment) error {
	res := r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{
			"status":           string(payment.Status),
			"verified_by":      payment.VerifiedBy,
			"verified_at":      payment.VerifiedAt,
			"rejection_reason": payment.RejectionReason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Gorm) ListPendingPayments(ctx context.Context, filter PendingPaymentFilter) ([]models.PendingPayment, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PendingPayment{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.PendingPayment
	if err := query.Preload("Order").
		Order("created_at asc").
		Limit(filter.Page.Limit).Offset(filter.Page.Offset).
		Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *Gorm) ListSettings(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	if err := r.db.WithContext(ctx).Order("key").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *Gorm) UpsertSetting(ctx context.Context, setting models.Setting) error {
	setting.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
}
