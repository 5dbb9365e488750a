package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus enumerates sale statuses.
type SaleStatus string

const (
	StatusPending   SaleStatus = "pending"
	StatusCompleted SaleStatus = "completed"
	StatusCancelled SaleStatus = "cancelled"
)

// Sale is the read-only view of a historical sale the return ledger
// validates against. Sales are owned elsewhere; the engine only holds a
// weak reference by id.
type Sale struct {
	ID            int64           `json:"id" db:"id"`
	DocNumber     string          `json:"doc_number" db:"doc_number"`
	CustomerID    int64           `json:"customer_id" db:"customer_id"`
	Status        SaleStatus      `json:"status" db:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	PaymentStatus string          `json:"payment_status" db:"payment_status"`
	SaleDate      time.Time       `json:"sale_date" db:"sale_date"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// SaleItem is one sold line. Quantity caps the cumulative quantity all
// returns against this line may draw down.
type SaleItem struct {
	ID          int64           `json:"id" db:"id"`
	SaleID      int64           `json:"sale_id" db:"sale_id"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    float64         `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total" db:"line_total"`
}
