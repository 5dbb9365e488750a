package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/customers"
	"github.com/meridian-erp/meridian-erp/internal/methods"
)

type fakeDirectory struct {
	customers map[int64]*customers.Customer
	adjusted  map[int64]decimal.Decimal
}

func (f *fakeDirectory) FindByID(_ context.Context, id int64) (*customers.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, customers.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDirectory) AdjustUsedCredit(_ context.Context, id int64, delta decimal.Decimal) (*customers.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, customers.ErrNotFound
	}
	if f.adjusted == nil {
		f.adjusted = map[int64]decimal.Decimal{}
	}
	f.adjusted[id] = f.adjusted[id].Add(delta)
	c.UsedCredit = decimal.Max(c.UsedCredit.Add(delta), decimal.Zero)
	cp := *c
	return &cp, nil
}

type fakeRegistry struct {
	methods map[string]*methods.PaymentMethod
}

func (f *fakeRegistry) FindByCode(_ context.Context, code string) (*methods.PaymentMethod, error) {
	m, ok := f.methods[code]
	if !ok {
		return nil, methods.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// memStore is an in-memory Store/TxStore pair for unit tests.
type memStore struct {
	mu       sync.Mutex
	seq      map[string]int64
	nextID   int64
	payments map[int64]*Payment
	allocs   map[int64][]Allocation
}

func newMemStore() *memStore {
	return &memStore{
		seq:      map[string]int64{},
		payments: map[int64]*Payment{},
		allocs:   map[int64][]Allocation{},
	}
}

func (m *memStore) GetPayment(_ context.Context, id int64) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Allocations = append([]Allocation(nil), m.allocs[id]...)
	return &cp, nil
}

func (m *memStore) GetPaymentByNumber(ctx context.Context, number string) (*Payment, error) {
	m.mu.Lock()
	var id int64 = -1
	for _, p := range m.payments {
		if p.PaymentNumber == number {
			id = p.ID
		}
	}
	m.mu.Unlock()
	if id < 0 {
		return nil, ErrNotFound
	}
	return m.GetPayment(ctx, id)
}

func (m *memStore) ListPayments(_ context.Context, req ListPaymentsRequest) ([]Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if req.CustomerID != nil && p.CustomerID != *req.CustomerID {
			continue
		}
		if req.Status != nil && p.Status != *req.Status {
			continue
		}
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, (*memTx)(m))
}

type memTx memStore

func (t *memTx) InsertPayment(_ context.Context, p Payment) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	p.ID = t.nextID
	p.CreatedAt = time.Now()
	t.payments[p.ID] = &p
	return p.ID, nil
}

func (t *memTx) UpdatePayment(_ context.Context, id int64, updates map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.payments[id]
	if !ok {
		return ErrNotFound
	}
	for col, v := range updates {
		switch col {
		case "amount":
			p.Amount = v.(decimal.Decimal)
		case "payment_method_code":
			p.MethodCode = v.(string)
		case "payment_date":
			p.PaymentDate = v.(time.Time)
		case "status":
			p.Status = v.(PaymentStatus)
		case "reference":
			s := v.(string)
			p.Reference = &s
		case "notes":
			s := v.(string)
			p.Notes = &s
		default:
			return fmt.Errorf("unknown column %q", col)
		}
	}
	return nil
}

func (t *memTx) DeletePayment(_ context.Context, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.payments[id]; !ok {
		return ErrNotFound
	}
	delete(t.payments, id)
	delete(t.allocs, id)
	return nil
}

func (t *memTx) InsertAllocation(_ context.Context, a Allocation) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a.ID = int64(len(t.allocs[a.PaymentID]) + 1)
	a.AllocatedAt = time.Now()
	t.allocs[a.PaymentID] = append(t.allocs[a.PaymentID], a)
	return a.ID, nil
}

func (t *memTx) DeleteAllocations(_ context.Context, paymentID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.allocs, paymentID)
	return nil
}

func (t *memTx) SumAllocations(_ context.Context, paymentID int64) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sum := decimal.Zero
	for _, a := range t.allocs[paymentID] {
		sum = sum.Add(a.Amount)
	}
	return sum, nil
}

func (t *memTx) SetAllocationAmounts(_ context.Context, paymentID int64, allocated, unallocated decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.payments[paymentID]
	if !ok {
		return ErrNotFound
	}
	p.AllocatedAmount = allocated
	p.UnallocatedAmount = unallocated
	return nil
}

func (t *memTx) NextDocNumber(_ context.Context, prefix string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq[prefix]++
	return t.seq[prefix], nil
}

func newTestService(t *testing.T) (*Service, *memStore, *fakeDirectory) {
	t.Helper()
	store := newMemStore()
	dir := &fakeDirectory{customers: map[int64]*customers.Customer{
		7: {ID: 7, Name: "Harbor Trading Co", Status: customers.StatusActive, CreditLimit: decimal.NewFromInt(5000)},
		8: {ID: 8, Name: "Northgate Wholesale", Status: customers.StatusBlocked},
	}}
	reg := &fakeRegistry{methods: map[string]*methods.PaymentMethod{
		"cash":          {Code: "cash", Name: "Cash", IsActive: true},
		"bank_transfer": {Code: "bank_transfer", Name: "Bank Transfer", IsActive: true, RequiresReference: true},
		"cheque":        {Code: "cheque", Name: "Cheque", IsActive: true, RequiresReference: true, RequiresApproval: true},
		"store_credit":  {Code: "store_credit", Name: "Store Credit", IsActive: true, IsCredit: true},
		"legacy":        {Code: "legacy", Name: "Legacy", IsActive: false},
	}}
	svc := NewService(store, dir, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, dir
}

func strptr(s string) *string { return &s }

func TestCreatePayment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7,
		Amount:     decimal.NewFromInt(100),
		MethodCode: "cash",
		Allocations: []AllocationRequest{
			{OrderID: 1, OrderType: OrderTypeSale, Amount: decimal.NewFromInt(60)},
			{OrderID: 2, OrderType: OrderTypeInvoice, Amount: decimal.NewFromInt(30)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, payment.Status)
	assert.True(t, payment.AllocatedAmount.Equal(decimal.NewFromInt(90)))
	assert.True(t, payment.UnallocatedAmount.Equal(decimal.NewFromInt(10)))
	assert.True(t, payment.AllocatedAmount.Add(payment.UnallocatedAmount).Equal(payment.Amount))
	assert.Len(t, payment.Allocations, 2)

	prefix := "PAY-" + time.Now().UTC().Format("200601")
	assert.Equal(t, prefix+"-0001", payment.PaymentNumber)
}

func TestCreatePaymentGuards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePayment(ctx, CreatePaymentRequest{CustomerID: 99, Amount: decimal.NewFromInt(10), MethodCode: "cash"})
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	_, err = svc.CreatePayment(ctx, CreatePaymentRequest{CustomerID: 8, Amount: decimal.NewFromInt(10), MethodCode: "cash"})
	assert.ErrorIs(t, err, ErrCustomerBlocked)

	_, err = svc.CreatePayment(ctx, CreatePaymentRequest{CustomerID: 7, Amount: decimal.NewFromInt(10), MethodCode: "legacy"})
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)

	_, err = svc.CreatePayment(ctx, CreatePaymentRequest{CustomerID: 7, Amount: decimal.NewFromInt(10), MethodCode: "bank_transfer"})
	assert.ErrorIs(t, err, ErrReferenceRequired)

	_, err = svc.CreatePayment(ctx, CreatePaymentRequest{CustomerID: 7, Amount: decimal.NewFromInt(-5), MethodCode: "cash"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7,
		Amount:     decimal.NewFromInt(100),
		MethodCode: "cash",
		Allocations: []AllocationRequest{
			{OrderID: 1, OrderType: OrderTypeSale, Amount: decimal.NewFromInt(110)},
		},
	})
	assert.ErrorIs(t, err, ErrAllocationExceedsAmount)
}

func TestCreatePaymentApprovalPending(t *testing.T) {
	svc, _, _ := newTestService(t)

	payment, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		CustomerID: 7,
		Amount:     decimal.NewFromInt(500),
		MethodCode: "cheque",
		Reference:  strptr("CHQ-1001"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, payment.Status)
}

func TestCreatePaymentCreditMethod(t *testing.T) {
	svc, _, dir := newTestService(t)

	_, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		CustomerID: 7,
		Amount:     decimal.NewFromInt(200),
		MethodCode: "store_credit",
	})
	require.NoError(t, err)
	assert.True(t, dir.adjusted[7].Equal(decimal.NewFromInt(200)))
}

func TestUpdatePaymentReplacesAllocations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7,
		Amount:     decimal.NewFromInt(100),
		MethodCode: "cash",
		Allocations: []AllocationRequest{
			{OrderID: 1, OrderType: OrderTypeSale, Amount: decimal.NewFromInt(60)},
		},
	})
	require.NoError(t, err)

	full := []AllocationRequest{{OrderID: 2, OrderType: OrderTypeInvoice, Amount: decimal.NewFromInt(100)}}
	updated, err := svc.UpdatePayment(ctx, payment.ID, UpdatePaymentRequest{Allocations: &full})
	require.NoError(t, err)
	assert.True(t, updated.AllocatedAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, updated.UnallocatedAmount.IsZero())
	require.Len(t, updated.Allocations, 1)
	assert.Equal(t, int64(2), updated.Allocations[0].OrderID)

	over := []AllocationRequest{{OrderID: 3, OrderType: OrderTypeSale, Amount: decimal.NewFromInt(110)}}
	_, err = svc.UpdatePayment(ctx, payment.ID, UpdatePaymentRequest{Allocations: &over})
	assert.ErrorIs(t, err, ErrAllocationExceedsAmount)
}

func TestUpdatePaymentAmountRecomputes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7,
		Amount:     decimal.NewFromInt(100),
		MethodCode: "cash",
		Allocations: []AllocationRequest{
			{OrderID: 1, OrderType: OrderTypeSale, Amount: decimal.NewFromInt(60)},
		},
	})
	require.NoError(t, err)

	bigger := decimal.NewFromInt(150)
	updated, err := svc.UpdatePayment(ctx, payment.ID, UpdatePaymentRequest{Amount: &bigger})
	require.NoError(t, err)
	assert.True(t, updated.AllocatedAmount.Equal(decimal.NewFromInt(60)))
	assert.True(t, updated.UnallocatedAmount.Equal(decimal.NewFromInt(90)))

	// Shrinking the amount below the allocated sum breaks conservation.
	smaller := decimal.NewFromInt(50)
	_, err = svc.UpdatePayment(ctx, payment.ID, UpdatePaymentRequest{Amount: &smaller})
	assert.ErrorIs(t, err, ErrAllocationExceedsAmount)
}

func TestUpdatePaymentStatusTransitions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7, Amount: decimal.NewFromInt(50), MethodCode: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, payment.Status)

	cancelled := StatusCancelled
	_, err = svc.UpdatePayment(ctx, payment.ID, UpdatePaymentRequest{Status: &cancelled})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	pendingPayment, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7, Amount: decimal.NewFromInt(500), MethodCode: "cheque", Reference: strptr("CHQ-2"),
	})
	require.NoError(t, err)

	completed := StatusCompleted
	updated, err := svc.UpdatePayment(ctx, pendingPayment.ID, UpdatePaymentRequest{Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestDeletePayment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	allocated, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7,
		Amount:     decimal.NewFromInt(100),
		MethodCode: "cash",
		Allocations: []AllocationRequest{
			{OrderID: 1, OrderType: OrderTypeSale, Amount: decimal.NewFromInt(100)},
		},
	})
	require.NoError(t, err)

	err = svc.DeletePayment(ctx, allocated.ID)
	assert.ErrorIs(t, err, ErrCompletedPayment)

	plain, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7, Amount: decimal.NewFromInt(40), MethodCode: "cash",
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeletePayment(ctx, plain.ID))
	_, err = svc.GetPayment(ctx, plain.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefundPayment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	original, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7, Amount: decimal.NewFromInt(100), MethodCode: "cash",
	})
	require.NoError(t, err)

	refund, err := svc.RefundPayment(ctx, original.ID, RefundRequest{
		Amount: decimal.NewFromInt(100),
		Reason: "goods returned in store",
	})
	require.NoError(t, err)
	assert.True(t, refund.IsRefund())
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(-100)))
	assert.True(t, refund.AllocatedAmount.IsZero())
	assert.True(t, refund.UnallocatedAmount.Equal(decimal.NewFromInt(-100)))
	require.NotNil(t, refund.Reference)
	assert.Equal(t, "REFUND-"+original.PaymentNumber, *refund.Reference)
	assert.NotEqual(t, original.PaymentNumber, refund.PaymentNumber)

	// The original stays untouched.
	reloaded, err := svc.GetPayment(ctx, original.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, StatusCompleted, reloaded.Status)
}

func TestRefundPaymentRequiresCompleted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pending, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		CustomerID: 7, Amount: decimal.NewFromInt(500), MethodCode: "cheque", Reference: strptr("CHQ-3"),
	})
	require.NoError(t, err)

	_, err = svc.RefundPayment(ctx, pending.ID, RefundRequest{Amount: decimal.NewFromInt(10), Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestIssueRefundCreditMethod(t *testing.T) {
	svc, _, dir := newTestService(t)

	refund, err := svc.IssueRefund(context.Background(), 7, decimal.NewFromInt(60), "store_credit", "REFUND-RET-202608-0001", nil)
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(-60)))
	assert.True(t, dir.adjusted[7].Equal(decimal.NewFromInt(-60)))
}
