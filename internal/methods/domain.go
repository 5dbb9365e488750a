package methods

import "time"

// PaymentMethod is static reference data describing an allowed payment
// method and its requirements.
type PaymentMethod struct {
	ID                int64     `json:"id" db:"id"`
	Code              string    `json:"code" db:"code"`
	Name              string    `json:"name" db:"name"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	RequiresReference bool      `json:"requires_reference" db:"requires_reference"`
	RequiresApproval  bool      `json:"requires_approval" db:"requires_approval"`
	IsCredit          bool      `json:"is_credit" db:"is_credit"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
