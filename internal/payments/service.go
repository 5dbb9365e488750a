package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/customers"
	"github.com/meridian-erp/meridian-erp/internal/methods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// CustomerDirectory is the narrow view of the customer collaborator the
// ledger consumes.
type CustomerDirectory interface {
	FindByID(ctx context.Context, id int64) (*customers.Customer, error)
	AdjustUsedCredit(ctx context.Context, id int64, delta decimal.Decimal) (*customers.Customer, error)
}

// MethodRegistry resolves payment method codes.
type MethodRegistry interface {
	FindByCode(ctx context.Context, code string) (*methods.PaymentMethod, error)
}

// Service handles payment ledger business logic.
type Service struct {
	store     Store
	directory CustomerDirectory
	registry  MethodRegistry
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService constructs a payment ledger service.
func NewService(store Store, directory CustomerDirectory, registry MethodRegistry, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		directory: directory,
		registry:  registry,
		validate:  validator.New(),
		logger:    logger,
	}
}

// CreatePayment records money received from a customer and distributes it
// across zero or more orders. The payment row, its allocations and the
// allocated/unallocated recomputation land in one transaction.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	customer, err := s.directory.FindByID(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, customers.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrCustomerNotFound, req.CustomerID)
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if customer.Blocked() {
		return nil, fmt.Errorf("%w: id %d", ErrCustomerBlocked, customer.ID)
	}

	method, err := s.resolveMethod(ctx, req.MethodCode, true)
	if err != nil {
		return nil, err
	}
	if method.RequiresReference && (req.Reference == nil || *req.Reference == "") {
		return nil, fmt.Errorf("%w: %s", ErrReferenceRequired, method.Code)
	}

	allocated, err := sumAllocationRequests(req.Allocations)
	if err != nil {
		return nil, err
	}
	if allocated.GreaterThan(req.Amount) {
		return nil, fmt.Errorf("%w: allocated %s, amount %s", ErrAllocationExceedsAmount, allocated, req.Amount)
	}

	status := req.Status
	if status == "" {
		status = StatusCompleted
		if method.RequiresApproval {
			status = StatusPending
		}
	}
	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now()
	}

	payment := Payment{
		UUID:              uuid.New(),
		CustomerID:        req.CustomerID,
		Amount:            req.Amount,
		MethodCode:        method.Code,
		PaymentDate:       paymentDate,
		Status:            status,
		AllocatedAmount:   allocated,
		UnallocatedAmount: req.Amount.Sub(allocated),
		Reference:         req.Reference,
		Notes:             req.Notes,
	}

	var paymentID int64
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		prefix := shared.DocPrefix("PAY", paymentDate)
		seq, err := tx.NextDocNumber(ctx, prefix)
		if err != nil {
			return fmt.Errorf("next payment number: %w", err)
		}
		payment.PaymentNumber = shared.FormatDocNumber(prefix, seq)

		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		paymentID = id

		for _, ar := range req.Allocations {
			alloc := Allocation{
				PaymentID: id,
				OrderID:   ar.OrderID,
				OrderType: ar.OrderType,
				Amount:    ar.Amount,
			}
			if _, err := tx.InsertAllocation(ctx, alloc); err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
		}

		return s.recomputeAllocations(ctx, tx, id, payment.Amount)
	})
	if err != nil {
		return nil, err
	}

	if method.IsCredit {
		if _, err := s.directory.AdjustUsedCredit(ctx, customer.ID, req.Amount); err != nil {
			s.logger.Warn("adjust used credit after payment",
				slog.Int64("customer_id", customer.ID), slog.Any("error", err))
		}
	}

	return s.store.GetPayment(ctx, paymentID)
}

// UpdatePayment patches a payment. A non-nil allocation slice replaces the
// whole allocation set and triggers recomputation against the (possibly
// updated) amount.
func (s *Service) UpdatePayment(ctx context.Context, id int64, req UpdatePaymentRequest) (*Payment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	existing, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.MethodCode != nil {
		if _, err := s.resolveMethod(ctx, *req.MethodCode, true); err != nil {
			return nil, err
		}
	}
	if req.Status != nil && *req.Status != existing.Status && existing.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s payments accept no further transitions", ErrInvalidStatus, existing.Status)
	}

	amount := existing.Amount
	if req.Amount != nil {
		if !req.Amount.IsPositive() && !existing.IsRefund() {
			return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
		}
		amount = *req.Amount
	}

	var newAllocations []AllocationRequest
	if req.Allocations != nil {
		newAllocations = *req.Allocations
		allocated, err := sumAllocationRequests(newAllocations)
		if err != nil {
			return nil, err
		}
		if allocated.GreaterThan(amount) {
			return nil, fmt.Errorf("%w: allocated %s, amount %s", ErrAllocationExceedsAmount, allocated, amount)
		}
	}

	updates := make(map[string]any)
	if req.Amount != nil {
		updates["amount"] = *req.Amount
	}
	if req.MethodCode != nil {
		updates["payment_method_code"] = *req.MethodCode
	}
	if req.PaymentDate != nil {
		updates["payment_date"] = *req.PaymentDate
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Reference != nil {
		updates["reference"] = *req.Reference
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if len(updates) > 0 {
			if err := tx.UpdatePayment(ctx, id, updates); err != nil {
				return err
			}
		}
		if req.Allocations != nil {
			if err := tx.DeleteAllocations(ctx, id); err != nil {
				return fmt.Errorf("delete allocations: %w", err)
			}
			for _, ar := range newAllocations {
				alloc := Allocation{
					PaymentID: id,
					OrderID:   ar.OrderID,
					OrderType: ar.OrderType,
					Amount:    ar.Amount,
				}
				if _, err := tx.InsertAllocation(ctx, alloc); err != nil {
					return fmt.Errorf("insert allocation: %w", err)
				}
			}
		}
		if req.Allocations != nil || req.Amount != nil {
			return s.recomputeAllocations(ctx, tx, id, amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.store.GetPayment(ctx, id)
}

// GetPayment retrieves a payment with its allocations.
func (s *Service) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// ListPayments returns a paginated payment listing.
func (s *Service) ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.store.ListPayments(ctx, req)
}

// DeletePayment removes a payment and its allocations. Completed payments
// with allocations are part of the audit trail and cannot be deleted.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	existing, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status == StatusCompleted && len(existing.Allocations) > 0 {
		return fmt.Errorf("%w: %s", ErrCompletedPayment, existing.PaymentNumber)
	}
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.DeleteAllocations(ctx, id); err != nil {
			return fmt.Errorf("delete allocations: %w", err)
		}
		return tx.DeletePayment(ctx, id)
	})
}

// RefundPayment mints a new negative payment against a completed original.
// Refunds are independent ledger entries, never in-place mutations; the
// original payment stays untouched.
func (s *Service) RefundPayment(ctx context.Context, paymentID int64, req RefundRequest) (*Payment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	original, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if original.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: only completed payments can be refunded", ErrInvalidStatus)
	}
	reference := "REFUND-" + original.PaymentNumber
	notes := req.Reason
	return s.IssueRefund(ctx, original.CustomerID, req.Amount.Abs(), original.MethodCode, reference, &notes)
}

// IssueRefund creates a completed negative payment for a customer. The
// reference links the refund to what triggered it, either the original
// payment number or a return number.
func (s *Service) IssueRefund(ctx context.Context, customerID int64, amount decimal.Decimal, methodCode, reference string, notes *string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrValidation)
	}
	method, err := s.resolveMethod(ctx, methodCode, false)
	if err != nil {
		return nil, err
	}

	refund := Payment{
		UUID:       uuid.New(),
		CustomerID: customerID,
		Amount:     amount.Neg(),
		MethodCode: method.Code,
		// Conservation holds with zero allocations: the whole negative
		// amount stays unallocated.
		AllocatedAmount:   decimal.Zero,
		UnallocatedAmount: amount.Neg(),
		PaymentDate:       time.Now(),
		Status:            StatusCompleted,
		Reference:         &reference,
		Notes:             notes,
	}

	var refundID int64
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		prefix := shared.DocPrefix("PAY", refund.PaymentDate)
		seq, err := tx.NextDocNumber(ctx, prefix)
		if err != nil {
			return fmt.Errorf("next payment number: %w", err)
		}
		refund.PaymentNumber = shared.FormatDocNumber(prefix, seq)
		id, err := tx.InsertPayment(ctx, refund)
		if err != nil {
			return fmt.Errorf("insert refund payment: %w", err)
		}
		refundID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if method.IsCredit {
		if _, err := s.directory.AdjustUsedCredit(ctx, customerID, amount.Neg()); err != nil {
			s.logger.Warn("adjust used credit after refund",
				slog.Int64("customer_id", customerID), slog.Any("error", err))
		}
	}

	return s.store.GetPayment(ctx, refundID)
}

// recomputeAllocations is the single recomputation primitive: it sums the
// stored allocations and re-derives the allocated/unallocated split inside
// the caller's transaction, re-establishing the conservation invariant.
func (s *Service) recomputeAllocations(ctx context.Context, tx TxStore, paymentID int64, amount decimal.Decimal) error {
	allocated, err := tx.SumAllocations(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("sum allocations: %w", err)
	}
	if allocated.GreaterThan(amount) {
		return fmt.Errorf("%w: allocated %s, amount %s", ErrAllocationExceedsAmount, allocated, amount)
	}
	return tx.SetAllocationAmounts(ctx, paymentID, allocated, amount.Sub(allocated))
}

func (s *Service) resolveMethod(ctx context.Context, code string, mustBeActive bool) (*methods.PaymentMethod, error) {
	method, err := s.registry.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, methods.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, code)
		}
		return nil, fmt.Errorf("find payment method: %w", err)
	}
	if mustBeActive && !method.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrInvalidPaymentMethod, code)
	}
	return method, nil
}

func sumAllocationRequests(allocs []AllocationRequest) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range allocs {
		if !a.Amount.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: allocation amount must be positive", ErrValidation)
		}
		sum = sum.Add(a.Amount)
	}
	return sum, nil
}
