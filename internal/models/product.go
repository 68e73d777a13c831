package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	BaseModel
	Slug        string           `gorm:"uniqueIndex" json:"slug"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `gorm:"type:numeric(12,2)" json:"price"`
	Currency    string           `gorm:"type:varchar(3)" json:"currency"`
	ImageURL    string           `json:"image_url"`
	Stock       int              `gorm:"check:chk_products_stock,stock >= 0" json:"stock"`
	IsActive    bool             `json:"is_active"`
	Variants    []ProductVariant `gorm:"constraint:OnDelete:CASCADE" json:"variants,omitempty"`
}

type ProductVariant struct {
	BaseModel
	ProductID uuid.UUID       `gorm:"type:uuid;index" json:"product_id"`
	SKU       string          `gorm:"index" json:"sku"`
	Label     string          `json:"label"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2)" json:"price"`
	ImageURL  string          `json:"image_url"`
	Stock     int             `gorm:"check:chk_product_variants_stock,stock >= 0" json:"stock"`
	IsActive  bool            `json:"is_active"`
}

// UnitPrice is the variant price when set, falling back to the product price.
func (p Product) UnitPrice(v *ProductVariant) decimal.Decimal {
	if v != nil && v.Price.GreaterThan(decimal.Zero) {
		return v.Price
	}
	return p.Price
}
