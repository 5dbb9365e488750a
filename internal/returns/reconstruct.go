package returns

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/sales"
)

// SaleStateCurrent projects the sale's present position: every line's
// original quantity minus everything taken by non-rejected returns.
func (s *Service) SaleStateCurrent(ctx context.Context, saleID int64) (*SaleState, error) {
	items, history, err := s.loadProjectionInputs(ctx, saleID)
	if err != nil {
		return nil, err
	}
	state := projectState(saleID, 0, items, history, nil)
	return state, nil
}

// SaleStateBeforeReturn projects the sale as it stood when the given
// return was created: all non-rejected returns created before it applied,
// the return itself and everything after it ignored.
func (s *Service) SaleStateBeforeReturn(ctx context.Context, saleID, returnID int64) (*SaleState, error) {
	items, history, err := s.loadProjectionInputs(ctx, saleID)
	if err != nil {
		return nil, err
	}
	idx := findReturn(history, returnID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: id %d on sale %d", ErrNotFound, returnID, saleID)
	}
	state := projectState(saleID, returnID, items, history[:idx], nil)
	return state, nil
}

// SaleStateAfterReturn projects the sale just after the given return was
// applied. The target return counts even while still pending, since the
// point of the view is what the sale looks like if it stands; rejected
// history before it never counts.
func (s *Service) SaleStateAfterReturn(ctx context.Context, saleID, returnID int64) (*SaleState, error) {
	items, history, err := s.loadProjectionInputs(ctx, saleID)
	if err != nil {
		return nil, err
	}
	idx := findReturn(history, returnID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: id %d on sale %d", ErrNotFound, returnID, saleID)
	}
	state := projectState(saleID, returnID, items, history[:idx], &history[idx])
	return state, nil
}

func (s *Service) loadProjectionInputs(ctx context.Context, saleID int64) ([]sales.SaleItem, []Return, error) {
	sale, err := s.sales.FindByID(ctx, saleID)
	if err != nil {
		if errors.Is(err, sales.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: id %d", ErrSaleNotFound, saleID)
		}
		return nil, nil, fmt.Errorf("find sale: %w", err)
	}
	items, err := s.sales.ListItems(ctx, sale.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list sale items: %w", err)
	}
	history, err := s.store.ListReturnsForSale(ctx, sale.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list returns: %w", err)
	}
	return items, history, nil
}

func findReturn(history []Return, returnID int64) int {
	for i := range history {
		if history[i].ID == returnID {
			return i
		}
	}
	return -1
}

// projectState folds return history over the sale lines. Rejected returns
// in history are skipped; target, when non-nil, is applied last regardless
// of its status.
func projectState(saleID, returnID int64, items []sales.SaleItem, history []Return, target *Return) *SaleState {
	state := &SaleState{
		SaleID:         saleID,
		ReturnID:       returnID,
		Items:          make([]SaleItemState, 0, len(items)),
		TotalReturned:  decimal.Zero,
		TotalRemaining: decimal.Zero,
	}
	byID := make(map[int64]*SaleItemState, len(items))
	for _, it := range items {
		state.Items = append(state.Items, SaleItemState{
			SaleItemID:        it.ID,
			ProductID:         it.ProductID,
			ProductName:       it.ProductName,
			Quantity:          it.Quantity,
			QuantityRemaining: it.Quantity,
			UnitPrice:         it.UnitPrice,
			AmountReturned:    decimal.Zero,
		})
	}
	for i := range state.Items {
		byID[state.Items[i].SaleItemID] = &state.Items[i]
	}

	apply := func(ret Return) {
		state.ReturnsIncluded++
		for _, line := range ret.Items {
			st, ok := byID[line.SaleItemID]
			if !ok {
				continue
			}
			st.QuantityReturned += line.QuantityReturned
			st.QuantityRemaining -= line.QuantityReturned
			st.AmountReturned = st.AmountReturned.Add(line.LineTotal)
		}
	}

	for _, ret := range history {
		if ret.Status == StatusRejected {
			continue
		}
		apply(ret)
	}
	if target != nil {
		apply(*target)
	}

	for i := range state.Items {
		st := &state.Items[i]
		if st.QuantityRemaining < 0 {
			st.QuantityRemaining = 0
		}
		state.TotalReturned = state.TotalReturned.Add(st.AmountReturned)
		state.TotalRemaining = state.TotalRemaining.Add(st.UnitPrice.Mul(decimal.NewFromFloat(st.QuantityRemaining)))
	}
	return state
}
