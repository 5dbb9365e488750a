package returns

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReturnStatus enumerates return lifecycle states. A return is processed
// exactly once: pending moves to completed (via approval) or rejected.
type ReturnStatus string

const (
	StatusPending   ReturnStatus = "pending"
	StatusApproved  ReturnStatus = "approved"
	StatusRejected  ReturnStatus = "rejected"
	StatusCompleted ReturnStatus = "completed"
)

// RefundStatus tracks the refund side of an approved return.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundCancelled RefundStatus = "cancelled"
)

// ReturnType distinguishes full from partial returns.
type ReturnType string

const (
	TypeFull    ReturnType = "full"
	TypePartial ReturnType = "partial"
)

// ReturnReason enumerates accepted return reasons.
type ReturnReason string

const (
	ReasonDefective ReturnReason = "defective"
	ReasonWrongItem ReturnReason = "wrong_item"
	ReasonNotNeeded ReturnReason = "not_needed"
	ReasonDamaged   ReturnReason = "damaged"
	ReasonOther     ReturnReason = "other"
)

// ItemCondition describes the state of a returned unit.
type ItemCondition string

const (
	ConditionGood      ItemCondition = "good"
	ConditionDamaged   ItemCondition = "damaged"
	ConditionDefective ItemCondition = "defective"
	ConditionUnopened  ItemCondition = "unopened"
)

// Return is a customer-initiated reversal against one prior sale.
type Return struct {
	ID           int64           `json:"id" db:"id"`
	UUID         uuid.UUID       `json:"uuid" db:"uuid"`
	ReturnNumber string          `json:"return_number" db:"return_number"`
	SaleID       int64           `json:"sale_id" db:"sale_id"`
	CustomerID   int64           `json:"customer_id" db:"customer_id"`
	ReturnDate   time.Time       `json:"return_date" db:"return_date"`
	ReturnType   ReturnType      `json:"return_type" db:"return_type"`
	Reason       ReturnReason    `json:"reason" db:"reason"`
	TotalAmount  decimal.Decimal `json:"total_amount" db:"total_amount"`
	RefundAmount decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	Status       ReturnStatus    `json:"status" db:"status"`
	RefundStatus RefundStatus    `json:"refund_status" db:"refund_status"`
	Notes        *string         `json:"notes,omitempty" db:"notes"`
	ProcessedBy  *int64          `json:"processed_by,omitempty" db:"processed_by"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	Items        []ReturnItem    `json:"items,omitempty" db:"-"`
}

// ReturnItem is one returned line, tied to the original sale line. The
// quantity and unit price of the sale line are snapshotted at creation.
type ReturnItem struct {
	ID               int64           `json:"id" db:"id"`
	ReturnID         int64           `json:"return_id" db:"return_id"`
	SaleItemID       int64           `json:"sale_item_id" db:"sale_item_id"`
	ProductID        int64           `json:"product_id" db:"product_id"`
	QuantityReturned float64         `json:"quantity_returned" db:"quantity_returned"`
	OriginalQuantity float64         `json:"original_quantity" db:"original_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal        decimal.Decimal `json:"line_total" db:"line_total"`
	Condition        ItemCondition   `json:"condition" db:"condition"`
}

// IntentStatus enumerates refund intent states.
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentProcessing IntentStatus = "processing"
	IntentDone       IntentStatus = "done"
	IntentFailed     IntentStatus = "failed"
)

// RefundIntent is the outbox record written in the same transaction as a
// return approval. A worker resolves it into a refund payment, so a crash
// between approval and refund leaves a durable, sweepable trace instead of
// an inconsistent pair of ledgers.
type RefundIntent struct {
	ID           int64           `json:"id" db:"id"`
	ReturnID     int64           `json:"return_id" db:"return_id"`
	ReturnNumber string          `json:"return_number" db:"return_number"`
	CustomerID   int64           `json:"customer_id" db:"customer_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	MethodCode   string          `json:"method_code" db:"method_code"`
	Status       IntentStatus    `json:"status" db:"status"`
	Attempts     int             `json:"attempts" db:"attempts"`
	LastError    *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ReturnItemRequest is one requested return line.
type ReturnItemRequest struct {
	SaleItemID       int64         `json:"sale_item_id" validate:"required,gt=0"`
	QuantityReturned float64       `json:"quantity_returned" validate:"required,gt=0"`
	Condition        ItemCondition `json:"condition" validate:"required,oneof=good damaged defective unopened"`
}

// CreateReturnRequest creates a return with its items in one transaction.
type CreateReturnRequest struct {
	SaleID     int64               `json:"sale_id" validate:"required,gt=0"`
	ReturnDate time.Time           `json:"return_date"`
	ReturnType ReturnType          `json:"return_type" validate:"required,oneof=full partial"`
	Reason     ReturnReason        `json:"reason" validate:"required,oneof=defective wrong_item not_needed damaged other"`
	Notes      *string             `json:"notes,omitempty"`
	Items      []ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
}

// UpdateReturnRequest patches a still-pending return. A non-nil Items slice
// replaces the full item set.
type UpdateReturnRequest struct {
	ReturnDate *time.Time           `json:"return_date,omitempty"`
	ReturnType *ReturnType          `json:"return_type,omitempty" validate:"omitempty,oneof=full partial"`
	Reason     *ReturnReason        `json:"reason,omitempty" validate:"omitempty,oneof=defective wrong_item not_needed damaged other"`
	Notes      *string              `json:"notes,omitempty"`
	Items      *[]ReturnItemRequest `json:"items,omitempty" validate:"omitempty,min=1,dive"`
}

// ProcessReturnRequest decides a pending return.
type ProcessReturnRequest struct {
	Status           ReturnStatus     `json:"status" validate:"required,oneof=approved rejected"`
	RefundAmount     *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundMethodCode *string          `json:"refund_method_code,omitempty" validate:"omitempty,max=30"`
	Notes            *string          `json:"notes,omitempty"`
}

// ListReturnsRequest filters the return listing.
type ListReturnsRequest struct {
	SaleID     *int64        `json:"sale_id,omitempty"`
	CustomerID *int64        `json:"customer_id,omitempty"`
	Status     *ReturnStatus `json:"status,omitempty" validate:"omitempty,oneof=pending approved rejected completed"`
	Limit      int           `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int           `json:"offset" validate:"gte=0"`
}

// SaleItemState is one sale line's position at a point in return history.
type SaleItemState struct {
	SaleItemID        int64           `json:"sale_item_id"`
	ProductID         int64           `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Quantity          float64         `json:"quantity"`
	QuantityReturned  float64         `json:"quantity_returned"`
	QuantityRemaining float64         `json:"quantity_remaining"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AmountReturned    decimal.Decimal `json:"amount_returned"`
}

// SaleState is the reconstructed view of a sale as of a point in its
// return history. It is a pure projection over stored records.
type SaleState struct {
	SaleID          int64           `json:"sale_id"`
	ReturnID        int64           `json:"return_id,omitempty"`
	Items           []SaleItemState `json:"items"`
	TotalReturned   decimal.Decimal `json:"total_returned"`
	TotalRemaining  decimal.Decimal `json:"total_remaining"`
	ReturnsIncluded int             `json:"returns_included"`
}
