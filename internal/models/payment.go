package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingPaymentStatus tracks staff verification of a manual payment.
type PendingPaymentStatus string

const (
	PendingPaymentPending  PendingPaymentStatus = "pending"
	PendingPaymentVerified PendingPaymentStatus = "verified"
	PendingPaymentRejected PendingPaymentStatus = "rejected"
)

// PendingPayment is a manually verified payment (bank transfer, wallet
// transfer) created at checkout. It is terminal once verified or rejected.
type PendingPayment struct {
	BaseModel
	OrderID         uuid.UUID            `gorm:"type:uuid;index" json:"order_id"`
	Order           *Order               `json:"order,omitempty"`
	Amount          decimal.Decimal      `gorm:"type:numeric(12,2)" json:"amount"`
	Currency        string               `gorm:"type:varchar(3)" json:"currency"`
	Method          string               `json:"method"`
	Reference       string               `json:"reference"`
	Status          PendingPaymentStatus `gorm:"type:varchar(20);index" json:"status"`
	VerifiedBy      string               `json:"verified_by"`
	VerifiedAt      *time.Time           `json:"verified_at"`
	RejectionReason string               `json:"rejection_reason"`
}

// IsTerminal reports whether staff already decided on the payment.
func (p *PendingPayment) IsTerminal() bool {
	return p.Status != PendingPaymentPending
}
