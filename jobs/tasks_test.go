package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/orders"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/recon"
	"github.com/meridian-erp/meridian-erp/internal/returns"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type stubPayments struct {
	refunds []string
}

func (s *stubPayments) CreatePayment(context.Context, payments.CreatePaymentRequest) (*payments.Payment, error) {
	return nil, nil
}

func (s *stubPayments) GetPayment(context.Context, int64) (*payments.Payment, error) {
	return nil, payments.ErrNotFound
}

func (s *stubPayments) ListPayments(context.Context, payments.ListPaymentsRequest) ([]payments.Payment, int, error) {
	return nil, 0, nil
}

func (s *stubPayments) RefundPayment(context.Context, int64, payments.RefundRequest) (*payments.Payment, error) {
	return nil, nil
}

func (s *stubPayments) IssueRefund(_ context.Context, customerID int64, amount decimal.Decimal, methodCode, reference string, _ *string) (*payments.Payment, error) {
	s.refunds = append(s.refunds, reference)
	return &payments.Payment{ID: 500, CustomerID: customerID, Amount: amount.Neg(), MethodCode: methodCode}, nil
}

type stubReturns struct {
	intents  map[int64]*returns.RefundIntent
	resolved []int64
	stale    []returns.RefundIntent
}

func (s *stubReturns) CreateReturn(context.Context, returns.CreateReturnRequest) (*returns.Return, error) {
	return nil, nil
}

func (s *stubReturns) ProcessReturn(context.Context, int64, returns.ProcessReturnRequest, *int64) (*returns.Return, *returns.RefundIntent, error) {
	return nil, nil, nil
}

func (s *stubReturns) ListReturns(context.Context, returns.ListReturnsRequest) ([]returns.Return, int, error) {
	return nil, 0, nil
}

func (s *stubReturns) ClaimRefundIntent(_ context.Context, id int64) (*returns.RefundIntent, error) {
	intent, ok := s.intents[id]
	if !ok || intent.Status != returns.IntentPending {
		return nil, fmt.Errorf("%w: id %d", returns.ErrIntentNotPending, id)
	}
	intent.Status = returns.IntentProcessing
	cp := *intent
	return &cp, nil
}

func (s *stubReturns) MarkRefundProcessed(_ context.Context, _, intentID int64) error {
	s.resolved = append(s.resolved, intentID)
	s.intents[intentID].Status = returns.IntentDone
	return nil
}

func (s *stubReturns) FailRefundIntent(_ context.Context, id int64, cause string) error {
	s.intents[id].Status = returns.IntentFailed
	return nil
}

func (s *stubReturns) ListStaleRefundIntents(context.Context, time.Time, int) ([]returns.RefundIntent, error) {
	return s.stale, nil
}

type stubAudit struct{}

func (stubAudit) Record(context.Context, shared.AuditLog) error { return nil }

type stubNotifier struct{}

func (stubNotifier) PaymentStatusChanged(context.Context, []orders.Notification) error { return nil }

type stubEnqueuer struct {
	refunds []int64
}

func (s *stubEnqueuer) EnqueueRefundProcess(_ context.Context, intentID int64) error {
	s.refunds = append(s.refunds, intentID)
	return nil
}

func (s *stubEnqueuer) EnqueueOrderPaymentStatus(context.Context, int64) error { return nil }

func newJobFixture(t *testing.T) (*recon.Service, *stubPayments, *stubReturns, *stubEnqueuer) {
	t.Helper()
	pay := &stubPayments{}
	ret := &stubReturns{intents: map[int64]*returns.RefundIntent{
		42: {
			ID:           42,
			ReturnID:     9,
			ReturnNumber: "RET-202608-0009",
			CustomerID:   7,
			Amount:       decimal.NewFromInt(80),
			MethodCode:   "cash",
			Status:       returns.IntentPending,
		},
	}}
	enq := &stubEnqueuer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := recon.NewService(pay, ret, stubAudit{}, stubNotifier{}, enq, observability.NewMetrics(), logger)
	return svc, pay, ret, enq
}

func TestRefundProcessJob(t *testing.T) {
	svc, pay, ret, _ := newJobFixture(t)
	job := &RefundProcessJob{
		Recon:  svc,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	task, err := NewRefundProcessTask(RefundProcessPayload{IntentID: 42})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, pay.refunds, 1)
	assert.Equal(t, "REFUND-RET-202608-0009", pay.refunds[0])
	assert.Equal(t, []int64{42}, ret.resolved)

	// A redelivered task finds the intent already claimed and succeeds
	// without paying twice.
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, pay.refunds, 1)
}

func TestRefundProcessJobBadPayload(t *testing.T) {
	svc, pay, _, _ := newJobFixture(t)
	job := &RefundProcessJob{
		Recon:  svc,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeRefundProcess, []byte("not-json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskTypeRefundProcess, []byte(`{"intent_id":0}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, pay.refunds)
}

func TestRefundSweepJob(t *testing.T) {
	svc, _, ret, enq := newJobFixture(t)
	ret.stale = []returns.RefundIntent{
		{ID: 42, Status: returns.IntentPending},
		{ID: 43, Status: returns.IntentPending},
	}
	job := &RefundSweepJob{
		Recon:  svc,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	require.NoError(t, job.Handle(context.Background(), NewRefundSweepTask()))
	assert.Equal(t, []int64{42, 43}, enq.refunds)
}

func TestTaskMetrics(t *testing.T) {
	svc, _, _, _ := newJobFixture(t)
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := &RefundProcessJob{
		Recon:   svc,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics,
	}

	task, err := NewRefundProcessTask(RefundProcessPayload{IntentID: 42})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}
