// Package recon orchestrates the payment and return ledgers. It owns the
// cross-ledger flows (payment intake, return processing, refund issuance)
// but no state of its own; everything it coordinates lives in the ledgers.
package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/orders"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/returns"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// PaymentLedger is the slice of the payment service the orchestrator uses.
type PaymentLedger interface {
	CreatePayment(ctx context.Context, req payments.CreatePaymentRequest) (*payments.Payment, error)
	GetPayment(ctx context.Context, id int64) (*payments.Payment, error)
	ListPayments(ctx context.Context, req payments.ListPaymentsRequest) ([]payments.Payment, int, error)
	RefundPayment(ctx context.Context, paymentID int64, req payments.RefundRequest) (*payments.Payment, error)
	IssueRefund(ctx context.Context, customerID int64, amount decimal.Decimal, methodCode, reference string, notes *string) (*payments.Payment, error)
}

// ReturnLedger is the slice of the return service the orchestrator uses.
type ReturnLedger interface {
	CreateReturn(ctx context.Context, req returns.CreateReturnRequest) (*returns.Return, error)
	ProcessReturn(ctx context.Context, id int64, req returns.ProcessReturnRequest, processedBy *int64) (*returns.Return, *returns.RefundIntent, error)
	ListReturns(ctx context.Context, req returns.ListReturnsRequest) ([]returns.Return, int, error)
	ClaimRefundIntent(ctx context.Context, id int64) (*returns.RefundIntent, error)
	MarkRefundProcessed(ctx context.Context, returnID, intentID int64) error
	FailRefundIntent(ctx context.Context, id int64, cause string) error
	ListStaleRefundIntents(ctx context.Context, olderThan time.Time, limit int) ([]returns.RefundIntent, error)
}

// AuditTrail records ledger mutations.
type AuditTrail interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// OrderNotifier applies payment-status updates to allocated orders.
type OrderNotifier interface {
	PaymentStatusChanged(ctx context.Context, notes []orders.Notification) error
}

// Enqueuer hands work to the background queue. The jobs package implements
// it; failures are tolerable because the sweeper re-enqueues anything a
// lost task leaves behind.
type Enqueuer interface {
	EnqueueRefundProcess(ctx context.Context, intentID int64) error
	EnqueueOrderPaymentStatus(ctx context.Context, paymentID int64) error
}

// Service wires the ledgers, the audit trail and the queue together.
type Service struct {
	payments PaymentLedger
	returns  ReturnLedger
	audit    AuditTrail
	notifier OrderNotifier
	enqueuer Enqueuer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService constructs the orchestrator.
func NewService(pay PaymentLedger, ret ReturnLedger, audit AuditTrail, notifier OrderNotifier, enq Enqueuer, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		payments: pay,
		returns:  ret,
		audit:    audit,
		notifier: notifier,
		enqueuer: enq,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreatePayment records a payment, audits it and schedules the downstream
// order notifications. The ledger write is the source of truth; audit and
// notification failures are logged, never cause the committed payment to
// be reported as failed.
func (s *Service) CreatePayment(ctx context.Context, req payments.CreatePaymentRequest, actorID int64) (*payments.Payment, error) {
	payment, err := s.payments.CreatePayment(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentCreated()
	s.recordAudit(ctx, actorID, "payment.created", "payment", payment.PaymentNumber, map[string]any{
		"amount":      payment.Amount.String(),
		"customer_id": payment.CustomerID,
		"allocations": len(payment.Allocations),
	})
	// Orders hear about money only once it is actually in: a pending
	// (approval-required) payment must not mark anything as paid.
	if payment.Status == payments.StatusCompleted && len(payment.Allocations) > 0 {
		if err := s.enqueuer.EnqueueOrderPaymentStatus(ctx, payment.ID); err != nil {
			s.logger.Warn("enqueue order payment status",
				slog.Int64("payment_id", payment.ID), slog.Any("error", err))
		}
	}
	return payment, nil
}

// RefundPayment issues a direct refund against a completed payment.
func (s *Service) RefundPayment(ctx context.Context, paymentID int64, req payments.RefundRequest, actorID int64) (*payments.Payment, error) {
	refund, err := s.payments.RefundPayment(ctx, paymentID, req)
	if err != nil {
		return nil, err
	}
	s.metrics.RefundIssued()
	s.recordAudit(ctx, actorID, "payment.refunded", "payment", refund.PaymentNumber, map[string]any{
		"amount":              refund.Amount.String(),
		"original_payment_id": paymentID,
	})
	return refund, nil
}

// CreateReturn records a pending return.
func (s *Service) CreateReturn(ctx context.Context, req returns.CreateReturnRequest, actorID int64) (*returns.Return, error) {
	ret, err := s.returns.CreateReturn(ctx, req)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "return.created", "return", ret.ReturnNumber, map[string]any{
		"sale_id":      ret.SaleID,
		"total_amount": ret.TotalAmount.String(),
	})
	return ret, nil
}

// ProcessReturn decides a pending return and, on approval with a refund
// due, schedules the refund worker. The intent row is already committed by
// the time the task is enqueued, so a dropped task only delays the refund
// until the sweeper finds the intent again.
func (s *Service) ProcessReturn(ctx context.Context, id int64, req returns.ProcessReturnRequest, actorID int64) (*returns.Return, error) {
	var processedBy *int64
	if actorID != 0 {
		processedBy = &actorID
	}
	ret, intent, err := s.returns.ProcessReturn(ctx, id, req, processedBy)
	if err != nil {
		return nil, err
	}
	s.metrics.ReturnProcessed(string(ret.Status))
	s.recordAudit(ctx, actorID, "return.processed", "return", ret.ReturnNumber, map[string]any{
		"status":        string(ret.Status),
		"refund_amount": ret.RefundAmount.String(),
	})
	if intent != nil {
		if err := s.enqueuer.EnqueueRefundProcess(ctx, intent.ID); err != nil {
			s.logger.Warn("enqueue refund process",
				slog.Int64("intent_id", intent.ID), slog.Any("error", err))
		}
	}
	return ret, nil
}

// ResolveRefundIntent turns one claimed intent into a refund payment. It
// runs on the worker. The claim is first-writer-wins, so a duplicate task
// for the same intent is a no-op.
func (s *Service) ResolveRefundIntent(ctx context.Context, intentID int64) error {
	intent, err := s.returns.ClaimRefundIntent(ctx, intentID)
	if err != nil {
		return fmt.Errorf("claim refund intent %d: %w", intentID, err)
	}

	reference := "REFUND-" + intent.ReturnNumber
	refund, err := s.payments.IssueRefund(ctx, intent.CustomerID, intent.Amount, intent.MethodCode, reference, nil)
	if err != nil {
		if failErr := s.returns.FailRefundIntent(ctx, intentID, err.Error()); failErr != nil {
			s.logger.Error("mark refund intent failed",
				slog.Int64("intent_id", intentID), slog.Any("error", failErr))
		}
		return fmt.Errorf("issue refund for intent %d: %w", intentID, err)
	}

	if err := s.returns.MarkRefundProcessed(ctx, intent.ReturnID, intentID); err != nil {
		// The refund payment exists; only the bookkeeping flip failed.
		// Surface loudly instead of retrying, a retry would pay twice.
		s.logger.Error("refund issued but intent not resolved",
			slog.Int64("intent_id", intentID),
			slog.String("refund_number", refund.PaymentNumber),
			slog.Any("error", err))
		return nil
	}

	s.metrics.RefundIssued()
	s.recordAudit(ctx, 0, "refund.issued", "payment", refund.PaymentNumber, map[string]any{
		"return_number": intent.ReturnNumber,
		"amount":        intent.Amount.String(),
	})
	s.logger.Info("refund intent resolved",
		slog.Int64("intent_id", intentID),
		slog.String("refund_number", refund.PaymentNumber))
	return nil
}

// SweepStaleRefundIntents re-enqueues pending intents whose task never ran.
// Returns how many were enqueued.
func (s *Service) SweepStaleRefundIntents(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.returns.ListStaleRefundIntents(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale refund intents: %w", err)
	}
	enqueued := 0
	for _, intent := range stale {
		if err := s.enqueuer.EnqueueRefundProcess(ctx, intent.ID); err != nil {
			s.logger.Warn("re-enqueue stale refund intent",
				slog.Int64("intent_id", intent.ID), slog.Any("error", err))
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("stale refund intents re-enqueued", slog.Int("count", enqueued))
	}
	return enqueued, nil
}

// NotifyOrderPayment pushes a committed payment's allocations to the
// orders they paid for. Runs on the worker.
func (s *Service) NotifyOrderPayment(ctx context.Context, paymentID int64) error {
	payment, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment %d: %w", paymentID, err)
	}
	// Recheck status on the worker: the payment may have been voided or
	// may still be pending approval by the time the task runs.
	if payment.Status != payments.StatusCompleted {
		return nil
	}
	notes := make([]orders.Notification, 0, len(payment.Allocations))
	for _, alloc := range payment.Allocations {
		notes = append(notes, orders.Notification{
			OrderID:   alloc.OrderID,
			OrderType: string(alloc.OrderType),
			Amount:    alloc.Amount,
		})
	}
	if len(notes) == 0 {
		return nil
	}
	return s.notifier.PaymentStatusChanged(ctx, notes)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
