// Package orders implements the payment-status notifier collaborator. The
// engine does not own orders; notifications for order types it cannot reach
// are logged and dropped rather than failed.
package orders

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Notification carries one order's share of a payment.
type Notification struct {
	OrderID   int64
	OrderType string
	Amount    decimal.Decimal
}

// Notifier applies payment-status notifications to the orders the engine
// can reach. Sales live in the same store; invoices and purchases belong to
// other systems and are only logged.
type Notifier struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(pool *pgxpool.Pool, logger *slog.Logger) *Notifier {
	return &Notifier{pool: pool, logger: logger}
}

// PaymentStatusChanged records the allocated amounts against their orders.
// Errors on individual orders are logged, not propagated: the caller's
// payment has already committed.
func (n *Notifier) PaymentStatusChanged(ctx context.Context, notes []Notification) error {
	for _, note := range notes {
		if note.OrderType != "sale" {
			n.logger.Info("payment status notification for external order",
				slog.String("order_type", note.OrderType),
				slog.Int64("order_id", note.OrderID),
				slog.String("amount", note.Amount.String()))
			continue
		}
		_, err := n.pool.Exec(ctx, `
UPDATE sales
SET paid_amount = paid_amount + $2,
    payment_status = CASE WHEN paid_amount + $2 >= total_amount THEN 'paid' ELSE 'partial' END
WHERE id = $1`, note.OrderID, note.Amount)
		if err != nil {
			n.logger.Warn("apply payment status notification",
				slog.Int64("order_id", note.OrderID), slog.Any("error", err))
		}
	}
	return nil
}
