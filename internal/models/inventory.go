package models

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MovementType classifies a stock change.
type MovementType string

const (
	MovementSale    MovementType = "SALE"
	MovementReturn  MovementType = "RETURN"
	MovementRestock MovementType = "RESTOCK"
)

// ErrImmutableMovement is returned when something tries to rewrite the ledger.
var ErrImmutableMovement = errors.New("inventory movements are append-only")

// InventoryMovement is one entry of the append-only stock audit trail.
// Quantity is signed: sales are negative, returns and restocks positive.
type InventoryMovement struct {
	BaseModel
	ProductID   *uuid.UUID   `gorm:"type:uuid;index" json:"product_id"`
	VariantID   *uuid.UUID   `gorm:"type:uuid;index" json:"variant_id"`
	Type        MovementType `gorm:"type:varchar(20);index" json:"type"`
	Quantity    int          `json:"quantity"`
	StockBefore int          `json:"stock_before"`
	StockAfter  int          `json:"stock_after"`
	Reason      string       `json:"reason"`
	OrderID     *uuid.UUID   `gorm:"type:uuid;index" json:"order_id"`
	CreatedBy   string       `json:"created_by"`
}

func (m *InventoryMovement) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableMovement
}

func (m *InventoryMovement) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableMovement
}
