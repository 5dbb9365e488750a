package customers

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerStatus enumerates directory statuses relevant to the ledgers.
type CustomerStatus string

const (
	StatusActive  CustomerStatus = "active"
	StatusBlocked CustomerStatus = "blocked"
)

// Customer is the narrow directory view the ledgers consume: enough to
// block payments and track credit-method exposure, nothing more.
type Customer struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Status      CustomerStatus  `json:"status" db:"status"`
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`
	UsedCredit  decimal.Decimal `json:"used_credit" db:"used_credit"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Blocked reports whether the customer may not make payments.
func (c *Customer) Blocked() bool {
	return c != nil && c.Status == StatusBlocked
}
