package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
)

// OrderType enumerates the kinds of orders an allocation may target.
type OrderType string

const (
	OrderTypeInvoice  OrderType = "invoice"
	OrderTypeSale     OrderType = "sale"
	OrderTypePurchase OrderType = "purchase"
)

// Payment is a receipt of money from a customer. A negative amount is a
// refund. AllocatedAmount + UnallocatedAmount == Amount holds after every
// mutation that touches allocations or the amount.
type Payment struct {
	ID                int64           `json:"id" db:"id"`
	UUID              uuid.UUID       `json:"uuid" db:"uuid"`
	PaymentNumber     string          `json:"payment_number" db:"payment_number"`
	CustomerID        int64           `json:"customer_id" db:"customer_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	MethodCode        string          `json:"payment_method_code" db:"payment_method_code"`
	PaymentDate       time.Time       `json:"payment_date" db:"payment_date"`
	Status            PaymentStatus   `json:"status" db:"status"`
	AllocatedAmount   decimal.Decimal `json:"allocated_amount" db:"allocated_amount"`
	UnallocatedAmount decimal.Decimal `json:"unallocated_amount" db:"unallocated_amount"`
	Reference         *string         `json:"reference,omitempty" db:"reference"`
	Notes             *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	Allocations       []Allocation    `json:"allocations,omitempty" db:"-"`
}

// IsRefund reports whether this payment represents money given back.
func (p *Payment) IsRefund() bool {
	return p != nil && p.Amount.IsNegative()
}

// Allocation is a directed link: this payment contributes Amount toward
// this order. Allocations are replaced as a set, never patched.
type Allocation struct {
	ID          int64           `json:"id" db:"id"`
	PaymentID   int64           `json:"payment_id" db:"payment_id"`
	OrderID     int64           `json:"order_id" db:"order_id"`
	OrderType   OrderType       `json:"order_type" db:"order_type"`
	Amount      decimal.Decimal `json:"allocated_amount" db:"allocated_amount"`
	AllocatedAt time.Time       `json:"allocated_at" db:"allocated_at"`
}

// AllocationRequest is one requested allocation line.
type AllocationRequest struct {
	OrderID   int64           `json:"order_id" validate:"required,gt=0"`
	OrderType OrderType       `json:"order_type" validate:"required,oneof=invoice sale purchase"`
	Amount    decimal.Decimal `json:"allocated_amount"`
}

// CreatePaymentRequest creates a payment with zero or more allocations.
type CreatePaymentRequest struct {
	CustomerID  int64               `json:"customer_id" validate:"required,gt=0"`
	Amount      decimal.Decimal     `json:"amount"`
	MethodCode  string              `json:"payment_method_code" validate:"required,max=30"`
	PaymentDate time.Time           `json:"payment_date"`
	Status      PaymentStatus       `json:"status" validate:"omitempty,oneof=pending completed failed cancelled"`
	Reference   *string             `json:"reference,omitempty" validate:"omitempty,max=100"`
	Notes       *string             `json:"notes,omitempty"`
	Allocations []AllocationRequest `json:"allocations" validate:"dive"`
}

// UpdatePaymentRequest patches a payment. A non-nil Allocations slice
// replaces the full allocation set.
type UpdatePaymentRequest struct {
	Amount      *decimal.Decimal     `json:"amount,omitempty"`
	MethodCode  *string              `json:"payment_method_code,omitempty" validate:"omitempty,max=30"`
	PaymentDate *time.Time           `json:"payment_date,omitempty"`
	Status      *PaymentStatus       `json:"status,omitempty" validate:"omitempty,oneof=pending completed failed cancelled"`
	Reference   *string              `json:"reference,omitempty" validate:"omitempty,max=100"`
	Notes       *string              `json:"notes,omitempty"`
	Allocations *[]AllocationRequest `json:"allocations,omitempty" validate:"omitempty,dive"`
}

// RefundRequest asks for a refund against a completed payment.
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=500"`
}

// ListPaymentsRequest filters the payment listing.
type ListPaymentsRequest struct {
	CustomerID *int64         `json:"customer_id,omitempty"`
	Status     *PaymentStatus `json:"status,omitempty" validate:"omitempty,oneof=pending completed failed cancelled"`
	DateFrom   *time.Time     `json:"date_from,omitempty"`
	DateTo     *time.Time     `json:"date_to,omitempty"`
	Limit      int            `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int            `json:"offset" validate:"gte=0"`
}
