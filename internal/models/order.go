package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/storefront/internal/lifecycle"
)

// Payment methods known to the checkout. Manual methods are configured in settings.
const (
	PaymentMethodCard = "card"
)

type Order struct {
	BaseModel
	OrderNumber string     `gorm:"uniqueIndex" json:"order_number"`
	UserID      *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`

	ShippingAddress   string `json:"shipping_address"`
	ShippingCity      string `json:"shipping_city"`
	ShippingRegion    string `json:"shipping_region"`
	ShippingReference string `json:"shipping_reference"`

	Subtotal    decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	ShippingFee decimal.Decimal `gorm:"type:numeric(12,2)" json:"shipping_fee"`
	Total       decimal.Decimal `gorm:"type:numeric(12,2)" json:"total"`
	Currency    string          `gorm:"type:varchar(3)" json:"currency"`

	Status        lifecycle.Status        `gorm:"type:varchar(20);index" json:"status"`
	PaymentStatus lifecycle.PaymentStatus `gorm:"type:varchar(20);index" json:"payment_status"`
	PaymentMethod string                  `json:"payment_method"`

	PaymentProvider   string `json:"payment_provider"`
	PaymentID         string `gorm:"index" json:"payment_id"`
	AuthorizationCode string `json:"authorization_code"`
	CardBrand         string `json:"card_brand"`
	CardLastFour      string `json:"card_last_four"`

	TrackingNumber string `json:"tracking_number"`
	Notes          string `json:"notes"`

	PaidAt      *time.Time `json:"paid_at"`
	ShippedAt   *time.Time `json:"shipped_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	CancelledAt *time.Time `json:"cancelled_at"`

	Lines []OrderLine `gorm:"constraint:OnDelete:CASCADE" json:"lines,omitempty"`
}

// State returns the status pair driven by the lifecycle machine.
func (o *Order) State() lifecycle.State {
	return lifecycle.State{Status: o.Status, Payment: o.PaymentStatus}
}

// SetState writes a state produced by lifecycle.Next back onto the order.
func (o *Order) SetState(s lifecycle.State) {
	o.Status = s.Status
	o.PaymentStatus = s.Payment
}

// IsManualPayment reports whether the order waits for staff verification.
func (o *Order) IsManualPayment() bool {
	return o.PaymentMethod != "" && o.PaymentMethod != PaymentMethodCard
}

// OrderLine is a snapshot of one purchased item. Product and variant
// references are weak: they are nulled when the catalog entry is deleted and
// the snapshot columns remain the record of what was sold.
type OrderLine struct {
	BaseModel
	OrderID      uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductID    *uuid.UUID      `gorm:"type:uuid;index" json:"product_id"`
	Product      *Product        `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	VariantID    *uuid.UUID      `gorm:"type:uuid;index" json:"variant_id"`
	Variant      *ProductVariant `gorm:"foreignKey:VariantID;constraint:OnDelete:SET NULL" json:"-"`
	ProductName  string          `json:"product_name"`
	VariantLabel string          `json:"variant_label"`
	ImageURL     string          `json:"image_url"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
	Quantity     int             `json:"quantity"`
	LineTotal    decimal.Decimal `gorm:"type:numeric(12,2)" json:"line_total"`
}
