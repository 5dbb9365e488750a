package returns

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleStateReconstruction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateReturn(ctx, CreateReturnRequest{
		SaleID:     1,
		ReturnType: TypePartial,
		Reason:     ReasonDefective,
		Items:      []ReturnItemRequest{{SaleItemID: 11, QuantityReturned: 4, Condition: ConditionDefective}},
	})
	require.NoError(t, err)
	_, _, err = svc.ProcessReturn(ctx, first.ID, ProcessReturnRequest{Status: StatusApproved}, nil)
	require.NoError(t, err)

	second, err := svc.CreateReturn(ctx, CreateReturnRequest{
		SaleID:     1,
		ReturnType: TypePartial,
		Reason:     ReasonDamaged,
		Items: []ReturnItemRequest{
			{SaleItemID: 11, QuantityReturned: 2, Condition: ConditionDamaged},
			{SaleItemID: 12, QuantityReturned: 1, Condition: ConditionDamaged},
		},
	})
	require.NoError(t, err)

	itemState := func(s *SaleState, saleItemID int64) SaleItemState {
		t.Helper()
		for _, it := range s.Items {
			if it.SaleItemID == saleItemID {
				return it
			}
		}
		t.Fatalf("sale item %d not in state", saleItemID)
		return SaleItemState{}
	}

	before, err := svc.SaleStateBeforeReturn(ctx, 1, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, before.ReturnsIncluded)
	w := itemState(before, 11)
	assert.Equal(t, float64(4), w.QuantityReturned)
	assert.Equal(t, float64(6), w.QuantityRemaining)
	assert.True(t, w.AmountReturned.Equal(decimal.NewFromInt(80)))
	g := itemState(before, 12)
	assert.Equal(t, float64(0), g.QuantityReturned)
	assert.Equal(t, float64(2), g.QuantityRemaining)
	assert.True(t, before.TotalReturned.Equal(decimal.NewFromInt(80)))
	assert.True(t, before.TotalRemaining.Equal(decimal.NewFromInt(170)))

	// The target return counts in the after-state even while pending.
	after, err := svc.SaleStateAfterReturn(ctx, 1, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.ReturnsIncluded)
	w = itemState(after, 11)
	assert.Equal(t, float64(6), w.QuantityReturned)
	assert.Equal(t, float64(4), w.QuantityRemaining)
	g = itemState(after, 12)
	assert.Equal(t, float64(1), g.QuantityReturned)
	assert.True(t, after.TotalReturned.Equal(decimal.NewFromInt(145)))
	assert.True(t, after.TotalRemaining.Equal(decimal.NewFromInt(105)))

	// Before-state of the first return is the untouched sale.
	pristine, err := svc.SaleStateBeforeReturn(ctx, 1, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pristine.ReturnsIncluded)
	assert.True(t, pristine.TotalReturned.IsZero())
	assert.True(t, pristine.TotalRemaining.Equal(decimal.NewFromInt(250)))
}

func TestSaleStateSkipsRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rejected, err := svc.CreateReturn(ctx, CreateReturnRequest{
		SaleID:     1,
		ReturnType: TypePartial,
		Reason:     ReasonOther,
		Items:      []ReturnItemRequest{{SaleItemID: 11, QuantityReturned: 5, Condition: ConditionGood}},
	})
	require.NoError(t, err)
	_, _, err = svc.ProcessReturn(ctx, rejected.ID, ProcessReturnRequest{Status: StatusRejected}, nil)
	require.NoError(t, err)

	kept, err := svc.CreateReturn(ctx, CreateReturnRequest{
		SaleID:     1,
		ReturnType: TypePartial,
		Reason:     ReasonDefective,
		Items:      []ReturnItemRequest{{SaleItemID: 11, QuantityReturned: 3, Condition: ConditionDefective}},
	})
	require.NoError(t, err)

	before, err := svc.SaleStateBeforeReturn(ctx, 1, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, before.ReturnsIncluded)
	assert.True(t, before.TotalReturned.IsZero())

	current, err := svc.SaleStateCurrent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, current.ReturnsIncluded)
	assert.True(t, current.TotalReturned.Equal(decimal.NewFromInt(60)))

	// The rejected return itself still reports an after-state so its
	// would-have-been effect can be inspected.
	afterRejected, err := svc.SaleStateAfterReturn(ctx, 1, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, afterRejected.ReturnsIncluded)
	assert.True(t, afterRejected.TotalReturned.Equal(decimal.NewFromInt(100)))
}

func TestSaleStateUnknownIDs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SaleStateCurrent(ctx, 404)
	assert.ErrorIs(t, err, ErrSaleNotFound)

	_, err = svc.SaleStateBeforeReturn(ctx, 1, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
