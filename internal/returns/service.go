package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DefaultRefundMethod is used when a processing request does not name the
// method the refund should go out on.
const DefaultRefundMethod = "cash"

// Service handles return ledger business logic.
type Service struct {
	store    Store
	sales    SaleDirectory
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a return ledger service.
func NewService(store Store, sales SaleDirectory, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		sales:    sales,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateReturn records a pending return against a completed-or-pending
// sale. Availability is checked per sale line under row locks, so two
// concurrent returns against the same sale cannot both pass a check that
// only one of them should.
func (s *Service) CreateReturn(ctx context.Context, req CreateReturnRequest) (*Return, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	returnDate := req.ReturnDate
	if returnDate.IsZero() {
		returnDate = time.Now().UTC()
	}
	if returnDate.After(time.Now().Add(time.Minute)) {
		return nil, fmt.Errorf("%w: %s", ErrReturnDateInFuture, returnDate.Format(time.RFC3339))
	}

	sale, err := s.sales.FindByID(ctx, req.SaleID)
	if err != nil {
		if errors.Is(err, sales.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrSaleNotFound, req.SaleID)
		}
		return nil, fmt.Errorf("find sale: %w", err)
	}
	if sale.Status == sales.StatusCancelled {
		return nil, fmt.Errorf("%w: id %d", ErrSaleCancelled, sale.ID)
	}

	saleItems, err := s.sales.ListItems(ctx, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	byID := make(map[int64]sales.SaleItem, len(saleItems))
	for _, it := range saleItems {
		byID[it.ID] = it
	}
	for _, it := range req.Items {
		if _, ok := byID[it.SaleItemID]; !ok {
			return nil, fmt.Errorf("%w: id %d does not belong to sale %d", ErrSaleItemNotFound, it.SaleItemID, sale.ID)
		}
	}

	ret := Return{
		UUID:         uuid.New(),
		SaleID:       sale.ID,
		CustomerID:   sale.CustomerID,
		ReturnDate:   returnDate,
		ReturnType:   req.ReturnType,
		Reason:       req.Reason,
		Status:       StatusPending,
		RefundStatus: RefundPending,
		RefundAmount: decimal.Zero,
		Notes:        req.Notes,
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.LockSaleItems(ctx, sale.ID); err != nil {
			return fmt.Errorf("lock sale items: %w", err)
		}
		items, total, err := buildItems(ctx, tx, byID, req.Items, 0)
		if err != nil {
			return err
		}
		ret.TotalAmount = total

		seq, err := tx.NextDocNumber(ctx, shared.DocPrefix("RET", returnDate))
		if err != nil {
			return fmt.Errorf("next doc number: %w", err)
		}
		ret.ReturnNumber = shared.FormatDocNumber(shared.DocPrefix("RET", returnDate), seq)

		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return fmt.Errorf("insert return: %w", err)
		}
		ret.ID = id
		for i := range items {
			items[i].ReturnID = id
			if _, err := tx.InsertReturnItem(ctx, items[i]); err != nil {
				return fmt.Errorf("insert return item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("return created",
		"return_id", ret.ID,
		"return_number", ret.ReturnNumber,
		"sale_id", sale.ID,
		"total", ret.TotalAmount)
	return s.store.GetReturn(ctx, ret.ID)
}

// buildItems validates requested quantities against what the sale lines
// still have available and snapshots price and quantity from the sale.
// Must run inside a transaction holding the sale item locks.
func buildItems(ctx context.Context, tx TxStore, byID map[int64]sales.SaleItem, reqs []ReturnItemRequest, excludeReturnID int64) ([]ReturnItem, decimal.Decimal, error) {
	items := make([]ReturnItem, 0, len(reqs))
	total := decimal.Zero
	// Quantities already accepted earlier in this request, per sale line.
	// Repeated lines for the same sale item must draw from one pool.
	inRequest := make(map[int64]float64, len(reqs))
	for _, req := range reqs {
		line := byID[req.SaleItemID]
		already, err := tx.SumReturnedQuantity(ctx, line.ID, excludeReturnID)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("sum returned quantity: %w", err)
		}
		available := line.Quantity - already - inRequest[line.ID]
		if req.QuantityReturned > available {
			return nil, decimal.Zero, fmt.Errorf("%w: %s has %g available, requested %g",
				ErrQuantityExceedsAvailable, line.ProductName, available, req.QuantityReturned)
		}
		inRequest[line.ID] += req.QuantityReturned
		lineTotal := line.UnitPrice.Mul(decimal.NewFromFloat(req.QuantityReturned))
		items = append(items, ReturnItem{
			SaleItemID:       line.ID,
			ProductID:        line.ProductID,
			QuantityReturned: req.QuantityReturned,
			OriginalQuantity: line.Quantity,
			UnitPrice:        line.UnitPrice,
			LineTotal:        lineTotal,
			Condition:        req.Condition,
		})
		total = total.Add(lineTotal)
	}
	return items, total, nil
}

// ProcessReturn decides a pending return exactly once. Approval writes the
// refund intent in the same transaction as the status flip; the intent is
// resolved into a refund payment asynchronously, so refund_status stays
// pending until that happens. Rejection releases the quantities and
// cancels the refund.
func (s *Service) ProcessReturn(ctx context.Context, id int64, req ProcessReturnRequest, processedBy *int64) (*Return, *RefundIntent, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ret, err := s.store.GetReturn(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if ret.Status != StatusPending {
		return nil, nil, fmt.Errorf("%w: return %s is %s", ErrInvalidStatus, ret.ReturnNumber, ret.Status)
	}

	now := time.Now().UTC()
	var intent *RefundIntent

	if req.Status == StatusRejected {
		updates := map[string]any{
			"status":        StatusRejected,
			"refund_amount": decimal.Zero,
			"refund_status": RefundCancelled,
			"processed_at":  now,
		}
		if processedBy != nil {
			updates["processed_by"] = *processedBy
		}
		if req.Notes != nil {
			updates["notes"] = *req.Notes
		}
		err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			return tx.UpdateReturn(ctx, id, updates)
		})
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("return rejected", "return_id", id, "return_number", ret.ReturnNumber)
		ret, err = s.store.GetReturn(ctx, id)
		return ret, nil, err
	}

	refundAmount := ret.TotalAmount
	if req.RefundAmount != nil {
		refundAmount = *req.RefundAmount
	}
	if refundAmount.IsNegative() {
		return nil, nil, fmt.Errorf("%w: refund amount cannot be negative", ErrValidation)
	}
	if refundAmount.GreaterThan(ret.TotalAmount) {
		return nil, nil, fmt.Errorf("%w: refund amount exceeds return total", ErrValidation)
	}

	methodCode := DefaultRefundMethod
	if req.RefundMethodCode != nil && *req.RefundMethodCode != "" {
		methodCode = *req.RefundMethodCode
	}

	updates := map[string]any{
		"status":        StatusCompleted,
		"refund_amount": refundAmount,
		"processed_at":  now,
	}
	if processedBy != nil {
		updates["processed_by"] = *processedBy
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if refundAmount.IsZero() {
		// Nothing to pay out; close the refund side immediately.
		updates["refund_status"] = RefundCancelled
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.UpdateReturn(ctx, id, updates); err != nil {
			return err
		}
		if refundAmount.IsZero() {
			return nil
		}
		in := RefundIntent{
			ReturnID:     ret.ID,
			ReturnNumber: ret.ReturnNumber,
			CustomerID:   ret.CustomerID,
			Amount:       refundAmount,
			MethodCode:   methodCode,
		}
		intentID, err := tx.InsertRefundIntent(ctx, in)
		if err != nil {
			return fmt.Errorf("insert refund intent: %w", err)
		}
		in.ID = intentID
		in.Status = IntentPending
		intent = &in
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("return approved",
		"return_id", id,
		"return_number", ret.ReturnNumber,
		"refund_amount", refundAmount)
	ret, err = s.store.GetReturn(ctx, id)
	return ret, intent, err
}

// GetReturn loads one return with its items.
func (s *Service) GetReturn(ctx context.Context, id int64) (*Return, error) {
	return s.store.GetReturn(ctx, id)
}

// ListReturns lists returns with filters and pagination.
func (s *Service) ListReturns(ctx context.Context, req ListReturnsRequest) ([]Return, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.store.ListReturns(ctx, req)
}

// UpdateReturn patches a pending return. A non-nil item set replaces the
// existing lines and re-runs the availability check, excluding this
// return's own previous lines from the taken tally.
func (s *Service) UpdateReturn(ctx context.Context, id int64, req UpdateReturnRequest) (*Return, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ret, err := s.store.GetReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret.Status != StatusPending {
		return nil, fmt.Errorf("%w: return %s is %s", ErrInvalidStatus, ret.ReturnNumber, ret.Status)
	}

	updates := map[string]any{}
	if req.ReturnDate != nil {
		if req.ReturnDate.After(time.Now().Add(time.Minute)) {
			return nil, fmt.Errorf("%w: %s", ErrReturnDateInFuture, req.ReturnDate.Format(time.RFC3339))
		}
		updates["return_date"] = *req.ReturnDate
	}
	if req.ReturnType != nil {
		updates["return_type"] = *req.ReturnType
	}
	if req.Reason != nil {
		updates["reason"] = *req.Reason
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}

	var saleItemsByID map[int64]sales.SaleItem
	if req.Items != nil {
		saleItems, err := s.sales.ListItems(ctx, ret.SaleID)
		if err != nil {
			return nil, fmt.Errorf("list sale items: %w", err)
		}
		saleItemsByID = make(map[int64]sales.SaleItem, len(saleItems))
		for _, it := range saleItems {
			saleItemsByID[it.ID] = it
		}
		for _, it := range *req.Items {
			if _, ok := saleItemsByID[it.SaleItemID]; !ok {
				return nil, fmt.Errorf("%w: id %d does not belong to sale %d", ErrSaleItemNotFound, it.SaleItemID, ret.SaleID)
			}
		}
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if req.Items != nil {
			if err := tx.LockSaleItems(ctx, ret.SaleID); err != nil {
				return fmt.Errorf("lock sale items: %w", err)
			}
			items, total, err := buildItems(ctx, tx, saleItemsByID, *req.Items, ret.ID)
			if err != nil {
				return err
			}
			if err := tx.DeleteReturnItems(ctx, ret.ID); err != nil {
				return fmt.Errorf("delete return items: %w", err)
			}
			for i := range items {
				items[i].ReturnID = ret.ID
				if _, err := tx.InsertReturnItem(ctx, items[i]); err != nil {
					return fmt.Errorf("insert return item: %w", err)
				}
			}
			updates["total_amount"] = total
		}
		return tx.UpdateReturn(ctx, ret.ID, updates)
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetReturn(ctx, id)
}

// DeleteReturn removes a return that never took effect. Completed returns
// and returns whose refund already went out are immutable.
func (s *Service) DeleteReturn(ctx context.Context, id int64) error {
	ret, err := s.store.GetReturn(ctx, id)
	if err != nil {
		return err
	}
	if ret.Status == StatusCompleted || ret.RefundStatus == RefundProcessed {
		return fmt.Errorf("%w: return %s", ErrReturnImmutable, ret.ReturnNumber)
	}
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.DeleteReturnItems(ctx, ret.ID); err != nil {
			return err
		}
		return tx.DeleteReturn(ctx, ret.ID)
	})
}

// ClaimRefundIntent marks a pending intent as processing and returns the
// claimed snapshot. Callers that then fail to complete the refund should
// call FailRefundIntent so the record does not sit in limbo unexplained.
func (s *Service) ClaimRefundIntent(ctx context.Context, id int64) (*RefundIntent, error) {
	var claimed *RefundIntent
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		in, err := tx.ClaimRefundIntent(ctx, id)
		if err != nil {
			return err
		}
		claimed = in
		return nil
	})
	return claimed, err
}

// MarkRefundProcessed closes the intent and flips the return's refund
// status in one transaction.
func (s *Service) MarkRefundProcessed(ctx context.Context, returnID, intentID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.ResolveRefundIntent(ctx, intentID); err != nil {
			return err
		}
		return tx.UpdateReturn(ctx, returnID, map[string]any{"refund_status": RefundProcessed})
	})
}

// FailRefundIntent records a terminal failure on the intent.
func (s *Service) FailRefundIntent(ctx context.Context, id int64, cause string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.FailRefundIntent(ctx, id, cause)
	})
}

// GetRefundIntent loads one intent.
func (s *Service) GetRefundIntent(ctx context.Context, id int64) (*RefundIntent, error) {
	return s.store.GetRefundIntent(ctx, id)
}

// ListStaleRefundIntents returns pending intents older than the cutoff.
func (s *Service) ListStaleRefundIntents(ctx context.Context, olderThan time.Time, limit int) ([]RefundIntent, error) {
	return s.store.ListStaleRefundIntents(ctx, olderThan, limit)
}
