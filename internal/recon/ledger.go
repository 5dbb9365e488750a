package recon

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/returns"
)

const ledgerPageSize = 1000

// CustomerLedger is the reconciled position of one customer across both
// ledgers: what they paid, what came back to them and what is still in
// flight.
type CustomerLedger struct {
	CustomerID     int64              `json:"customer_id"`
	TotalPaid      decimal.Decimal    `json:"total_paid"`
	TotalRefunded  decimal.Decimal    `json:"total_refunded"`
	NetReceived    decimal.Decimal    `json:"net_received"`
	TotalAllocated decimal.Decimal    `json:"total_allocated"`
	TotalReturned  decimal.Decimal    `json:"total_returned"`
	PendingRefunds decimal.Decimal    `json:"pending_refunds"`
	OpenReturns    int                `json:"open_returns"`
	Payments       []payments.Payment `json:"payments"`
	Returns        []returns.Return   `json:"returns"`
}

// CustomerLedgerSummary loads both ledgers for a customer in parallel and
// reconciles them into one position.
func (s *Service) CustomerLedgerSummary(ctx context.Context, customerID int64) (*CustomerLedger, error) {
	ledger := &CustomerLedger{CustomerID: customerID}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		items, _, err := s.payments.ListPayments(ctx, payments.ListPaymentsRequest{
			CustomerID: &customerID,
			Limit:      ledgerPageSize,
		})
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}
		ledger.Payments = items
		return nil
	})

	g.Go(func() error {
		items, _, err := s.returns.ListReturns(ctx, returns.ListReturnsRequest{
			CustomerID: &customerID,
			Limit:      ledgerPageSize,
		})
		if err != nil {
			return fmt.Errorf("list returns: %w", err)
		}
		ledger.Returns = items
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	paid, refunded, allocated := decimal.Zero, decimal.Zero, decimal.Zero
	for _, p := range ledger.Payments {
		if p.Status != payments.StatusCompleted {
			continue
		}
		if p.IsRefund() {
			refunded = refunded.Add(p.Amount.Abs())
			continue
		}
		paid = paid.Add(p.Amount)
		allocated = allocated.Add(p.AllocatedAmount)
	}

	returned, pendingRefunds := decimal.Zero, decimal.Zero
	open := 0
	for i := range ledger.Returns {
		ret := &ledger.Returns[i]
		switch ret.Status {
		case returns.StatusRejected:
			continue
		case returns.StatusPending, returns.StatusApproved:
			open++
		}
		returned = returned.Add(ret.TotalAmount)
		if ret.RefundStatus == returns.RefundPending && ret.Status == returns.StatusCompleted {
			pendingRefunds = pendingRefunds.Add(ret.RefundAmount)
		}
	}

	ledger.TotalPaid = paid
	ledger.TotalRefunded = refunded
	ledger.NetReceived = paid.Sub(refunded)
	ledger.TotalAllocated = allocated
	ledger.TotalReturned = returned
	ledger.PendingRefunds = pendingRefunds
	ledger.OpenReturns = open
	return ledger, nil
}
