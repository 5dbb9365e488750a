package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the payment does not exist.
	ErrNotFound = errors.New("payment not found")
	// ErrCustomerNotFound indicates the referenced customer does not exist.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerBlocked indicates the customer may not make payments.
	ErrCustomerBlocked = errors.New("customer is blocked")
	// ErrInvalidPaymentMethod indicates a missing or inactive payment method.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrReferenceRequired indicates the method requires a reference.
	ErrReferenceRequired = errors.New("payment method requires a reference")
	// ErrAllocationExceedsAmount indicates the allocation sum exceeds the payment amount.
	ErrAllocationExceedsAmount = errors.New("allocation sum exceeds payment amount")
	// ErrInvalidStatus indicates an illegal status for the operation.
	ErrInvalidStatus = errors.New("invalid payment status")
	// ErrCompletedPayment guards deletion of completed, allocated payments.
	ErrCompletedPayment = errors.New("cannot delete completed payment with allocations")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)

// Store is the read side plus the transaction boundary of the payment ledger.
type Store interface {
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	GetPaymentByNumber(ctx context.Context, number string) (*Payment, error)
	ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, int, error)
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// TxStore exposes transactional operations. Payment and allocation rows are
// mutated only through these methods.
type TxStore interface {
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdatePayment(ctx context.Context, id int64, updates map[string]any) error
	DeletePayment(ctx context.Context, id int64) error

	InsertAllocation(ctx context.Context, a Allocation) (int64, error)
	DeleteAllocations(ctx context.Context, paymentID int64) error
	SumAllocations(ctx context.Context, paymentID int64) (decimal.Decimal, error)
	SetAllocationAmounts(ctx context.Context, paymentID int64, allocated, unallocated decimal.Decimal) error

	NextDocNumber(ctx context.Context, prefix string) (int64, error)
}
