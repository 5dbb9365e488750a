package recon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/orders"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/returns"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type stubPayments struct {
	created     *payments.Payment
	refund      *payments.Payment
	refundErr   error
	issuedRefs  []string
	getPayment  *payments.Payment
	listed      []payments.Payment
	refundCalls int
}

func (s *stubPayments) ListPayments(context.Context, payments.ListPaymentsRequest) ([]payments.Payment, int, error) {
	return s.listed, len(s.listed), nil
}

func (s *stubPayments) CreatePayment(context.Context, payments.CreatePaymentRequest) (*payments.Payment, error) {
	return s.created, nil
}

func (s *stubPayments) GetPayment(context.Context, int64) (*payments.Payment, error) {
	if s.getPayment == nil {
		return nil, payments.ErrNotFound
	}
	return s.getPayment, nil
}

func (s *stubPayments) RefundPayment(context.Context, int64, payments.RefundRequest) (*payments.Payment, error) {
	return s.refund, s.refundErr
}

func (s *stubPayments) IssueRefund(_ context.Context, _ int64, _ decimal.Decimal, _, reference string, _ *string) (*payments.Payment, error) {
	s.refundCalls++
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	s.issuedRefs = append(s.issuedRefs, reference)
	return s.refund, nil
}

type stubReturns struct {
	ret       *returns.Return
	intent    *returns.RefundIntent
	claimErr  error
	processed []int64
	failed    map[int64]string
	stale     []returns.RefundIntent
	listed    []returns.Return
}

func (s *stubReturns) ListReturns(context.Context, returns.ListReturnsRequest) ([]returns.Return, int, error) {
	return s.listed, len(s.listed), nil
}

func (s *stubReturns) CreateReturn(context.Context, returns.CreateReturnRequest) (*returns.Return, error) {
	return s.ret, nil
}

func (s *stubReturns) ProcessReturn(context.Context, int64, returns.ProcessReturnRequest, *int64) (*returns.Return, *returns.RefundIntent, error) {
	return s.ret, s.intent, nil
}

func (s *stubReturns) ClaimRefundIntent(context.Context, int64) (*returns.RefundIntent, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.intent, nil
}

func (s *stubReturns) MarkRefundProcessed(_ context.Context, returnID, _ int64) error {
	s.processed = append(s.processed, returnID)
	return nil
}

func (s *stubReturns) FailRefundIntent(_ context.Context, id int64, cause string) error {
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = cause
	return nil
}

func (s *stubReturns) ListStaleRefundIntents(context.Context, time.Time, int) ([]returns.RefundIntent, error) {
	return s.stale, nil
}

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type stubNotifier struct {
	notes []orders.Notification
}

func (s *stubNotifier) PaymentStatusChanged(_ context.Context, notes []orders.Notification) error {
	s.notes = append(s.notes, notes...)
	return nil
}

type stubEnqueuer struct {
	refunds []int64
	orders  []int64
	err     error
}

func (s *stubEnqueuer) EnqueueRefundProcess(_ context.Context, intentID int64) error {
	if s.err != nil {
		return s.err
	}
	s.refunds = append(s.refunds, intentID)
	return nil
}

func (s *stubEnqueuer) EnqueueOrderPaymentStatus(_ context.Context, paymentID int64) error {
	if s.err != nil {
		return s.err
	}
	s.orders = append(s.orders, paymentID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreatePaymentSchedulesNotification(t *testing.T) {
	pay := &stubPayments{created: &payments.Payment{
		ID:            5,
		PaymentNumber: "PAY-202608-0005",
		CustomerID:    7,
		Status:        payments.StatusCompleted,
		Amount:        decimal.NewFromInt(100),
		Allocations:   []payments.Allocation{{OrderID: 1, OrderType: payments.OrderTypeSale, Amount: decimal.NewFromInt(100)}},
	}}
	audit := &stubAudit{}
	enq := &stubEnqueuer{}
	svc := NewService(pay, &stubReturns{}, audit, &stubNotifier{}, enq, observability.NewMetrics(), testLogger())

	created, err := svc.CreatePayment(context.Background(), payments.CreatePaymentRequest{}, 9)
	require.NoError(t, err)
	assert.Equal(t, "PAY-202608-0005", created.PaymentNumber)
	assert.Equal(t, []int64{5}, enq.orders)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "payment.created", audit.logs[0].Action)
	assert.Equal(t, int64(9), audit.logs[0].ActorID)
}

func TestCreatePaymentWithoutAllocations(t *testing.T) {
	pay := &stubPayments{created: &payments.Payment{ID: 6, PaymentNumber: "PAY-202608-0006", Amount: decimal.NewFromInt(40)}}
	enq := &stubEnqueuer{}
	svc := NewService(pay, &stubReturns{}, &stubAudit{}, &stubNotifier{}, enq, observability.NewMetrics(), testLogger())

	_, err := svc.CreatePayment(context.Background(), payments.CreatePaymentRequest{}, 0)
	require.NoError(t, err)
	assert.Empty(t, enq.orders)
}

func TestCreatePaymentPendingSkipsNotification(t *testing.T) {
	// Allocated but still awaiting approval: orders must not hear about it.
	pay := &stubPayments{created: &payments.Payment{
		ID:            5,
		PaymentNumber: "PAY-202608-0005",
		Status:        payments.StatusPending,
		Amount:        decimal.NewFromInt(100),
		Allocations:   []payments.Allocation{{OrderID: 1, OrderType: payments.OrderTypeSale, Amount: decimal.NewFromInt(100)}},
	}}
	enq := &stubEnqueuer{}
	svc := NewService(pay, &stubReturns{}, &stubAudit{}, &stubNotifier{}, enq, observability.NewMetrics(), testLogger())

	_, err := svc.CreatePayment(context.Background(), payments.CreatePaymentRequest{}, 9)
	require.NoError(t, err)
	assert.Empty(t, enq.orders)
}

func TestProcessReturnEnqueuesRefund(t *testing.T) {
	ret := &stubReturns{
		ret:    &returns.Return{ID: 3, ReturnNumber: "RET-202608-0003", Status: returns.StatusCompleted, RefundAmount: decimal.NewFromInt(60)},
		intent: &returns.RefundIntent{ID: 12, ReturnID: 3, ReturnNumber: "RET-202608-0003", Amount: decimal.NewFromInt(60)},
	}
	enq := &stubEnqueuer{}
	audit := &stubAudit{}
	svc := NewService(&stubPayments{}, ret, audit, &stubNotifier{}, enq, observability.NewMetrics(), testLogger())

	out, err := svc.ProcessReturn(context.Background(), 3, returns.ProcessReturnRequest{Status: returns.StatusApproved}, 4)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusCompleted, out.Status)
	assert.Equal(t, []int64{12}, enq.refunds)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "return.processed", audit.logs[0].Action)
}

func TestProcessReturnEnqueueFailureIsTolerated(t *testing.T) {
	ret := &stubReturns{
		ret:    &returns.Return{ID: 3, ReturnNumber: "RET-202608-0003", Status: returns.StatusCompleted},
		intent: &returns.RefundIntent{ID: 12, ReturnID: 3},
	}
	enq := &stubEnqueuer{err: errors.New("redis down")}
	svc := NewService(&stubPayments{}, ret, &stubAudit{}, &stubNotifier{}, enq, observability.NewMetrics(), testLogger())

	// The intent row is committed; the sweeper will find it.
	_, err := svc.ProcessReturn(context.Background(), 3, returns.ProcessReturnRequest{Status: returns.StatusApproved}, 0)
	require.NoError(t, err)
}

func TestResolveRefundIntent(t *testing.T) {
	ret := &stubReturns{
		intent: &returns.RefundIntent{ID: 12, ReturnID: 3, ReturnNumber: "RET-202608-0003", CustomerID: 7, Amount: decimal.NewFromInt(60), MethodCode: "cash"},
	}
	pay := &stubPayments{refund: &payments.Payment{ID: 20, PaymentNumber: "PAY-202608-0020", Amount: decimal.NewFromInt(-60)}}
	audit := &stubAudit{}
	svc := NewService(pay, ret, audit, &stubNotifier{}, &stubEnqueuer{}, observability.NewMetrics(), testLogger())

	require.NoError(t, svc.ResolveRefundIntent(context.Background(), 12))
	assert.Equal(t, []string{"REFUND-RET-202608-0003"}, pay.issuedRefs)
	assert.Equal(t, []int64{3}, ret.processed)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "refund.issued", audit.logs[0].Action)
}

func TestResolveRefundIntentAlreadyClaimed(t *testing.T) {
	ret := &stubReturns{claimErr: returns.ErrIntentNotPending}
	pay := &stubPayments{}
	svc := NewService(pay, ret, &stubAudit{}, &stubNotifier{}, &stubEnqueuer{}, observability.NewMetrics(), testLogger())

	err := svc.ResolveRefundIntent(context.Background(), 12)
	assert.ErrorIs(t, err, returns.ErrIntentNotPending)
	assert.Zero(t, pay.refundCalls)
}

func TestResolveRefundIntentPaymentFailure(t *testing.T) {
	ret := &stubReturns{
		intent: &returns.RefundIntent{ID: 12, ReturnID: 3, ReturnNumber: "RET-202608-0003", Amount: decimal.NewFromInt(60), MethodCode: "cash"},
	}
	pay := &stubPayments{refundErr: errors.New("method gone")}
	svc := NewService(pay, ret, &stubAudit{}, &stubNotifier{}, &stubEnqueuer{}, observability.NewMetrics(), testLogger())

	err := svc.ResolveRefundIntent(context.Background(), 12)
	require.Error(t, err)
	assert.Equal(t, "method gone", ret.failed[12])
	assert.Empty(t, ret.processed)
}

func TestSweepStaleRefundIntents(t *testing.T) {
	ret := &stubReturns{stale: []returns.RefundIntent{{ID: 1}, {ID: 2}, {ID: 3}}}
	enq := &stubEnqueuer{}
	svc := NewService(&stubPayments{}, ret, &stubAudit{}, &stubNotifier{}, enq, observability.NewMetrics(), testLogger())

	n, err := svc.SweepStaleRefundIntents(context.Background(), 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, enq.refunds)
}

func TestNotifyOrderPayment(t *testing.T) {
	pay := &stubPayments{getPayment: &payments.Payment{
		ID:     5,
		Status: payments.StatusCompleted,
		Allocations: []payments.Allocation{
			{OrderID: 1, OrderType: payments.OrderTypeSale, Amount: decimal.NewFromInt(70)},
			{OrderID: 2, OrderType: payments.OrderTypeInvoice, Amount: decimal.NewFromInt(30)},
		},
	}}
	notifier := &stubNotifier{}
	svc := NewService(pay, &stubReturns{}, &stubAudit{}, notifier, &stubEnqueuer{}, observability.NewMetrics(), testLogger())

	require.NoError(t, svc.NotifyOrderPayment(context.Background(), 5))
	require.Len(t, notifier.notes, 2)
	assert.Equal(t, "sale", notifier.notes[0].OrderType)
	assert.True(t, notifier.notes[1].Amount.Equal(decimal.NewFromInt(30)))
}

func TestNotifyOrderPaymentSkipsNonCompleted(t *testing.T) {
	pay := &stubPayments{getPayment: &payments.Payment{
		ID:          5,
		Status:      payments.StatusPending,
		Allocations: []payments.Allocation{{OrderID: 1, OrderType: payments.OrderTypeSale, Amount: decimal.NewFromInt(70)}},
	}}
	notifier := &stubNotifier{}
	svc := NewService(pay, &stubReturns{}, &stubAudit{}, notifier, &stubEnqueuer{}, observability.NewMetrics(), testLogger())

	require.NoError(t, svc.NotifyOrderPayment(context.Background(), 5))
	assert.Empty(t, notifier.notes)
}
