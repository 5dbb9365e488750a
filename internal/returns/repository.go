package returns

import (
	"context"
	"errors"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/sales"
)

var (
	ErrNotFound                 = errors.New("return not found")
	ErrSaleNotFound             = errors.New("sale not found")
	ErrSaleCancelled            = errors.New("sale is cancelled")
	ErrSaleItemNotFound         = errors.New("sale item not found")
	ErrQuantityExceedsAvailable = errors.New("quantity exceeds available")
	ErrInvalidStatus            = errors.New("invalid status transition")
	ErrReturnDateInFuture       = errors.New("return date is in the future")
	ErrReturnImmutable          = errors.New("return can no longer be modified")
	ErrIntentNotPending         = errors.New("refund intent is not pending")
	ErrValidation               = errors.New("validation failed")
)

// SaleDirectory is the read-side the return service needs from the sales
// package.
type SaleDirectory interface {
	FindByID(ctx context.Context, id int64) (*sales.Sale, error)
	ListItems(ctx context.Context, saleID int64) ([]sales.SaleItem, error)
}

// Store is the persistence port for returns and refund intents.
type Store interface {
	GetReturn(ctx context.Context, id int64) (*Return, error)
	GetReturnByNumber(ctx context.Context, number string) (*Return, error)
	ListReturns(ctx context.Context, req ListReturnsRequest) ([]Return, int, error)
	// ListReturnsForSale returns every return against the sale, items
	// attached, in creation order.
	ListReturnsForSale(ctx context.Context, saleID int64) ([]Return, error)
	GetRefundIntent(ctx context.Context, id int64) (*RefundIntent, error)
	ListStaleRefundIntents(ctx context.Context, olderThan time.Time, limit int) ([]RefundIntent, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
}

// TxStore is the transactional slice of the port.
type TxStore interface {
	// LockSaleItems takes row locks on the sale's items so that
	// concurrent returns against the same sale serialize their
	// availability checks.
	LockSaleItems(ctx context.Context, saleID int64) error
	// SumReturnedQuantity totals quantity_returned across non-rejected
	// returns for one sale item, excluding excludeReturnID when non-zero.
	SumReturnedQuantity(ctx context.Context, saleItemID, excludeReturnID int64) (float64, error)
	NextDocNumber(ctx context.Context, prefix string) (int64, error)
	InsertReturn(ctx context.Context, ret Return) (int64, error)
	InsertReturnItem(ctx context.Context, item ReturnItem) (int64, error)
	DeleteReturnItems(ctx context.Context, returnID int64) error
	UpdateReturn(ctx context.Context, id int64, updates map[string]any) error
	DeleteReturn(ctx context.Context, id int64) error
	InsertRefundIntent(ctx context.Context, intent RefundIntent) (int64, error)
	// ClaimRefundIntent moves a pending intent to processing and bumps
	// its attempt counter. ErrIntentNotPending when already claimed.
	ClaimRefundIntent(ctx context.Context, id int64) (*RefundIntent, error)
	ResolveRefundIntent(ctx context.Context, id int64) error
	FailRefundIntent(ctx context.Context, id int64, cause string) error
}
