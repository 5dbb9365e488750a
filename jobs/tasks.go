package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/recon"
	"github.com/meridian-erp/meridian-erp/internal/returns"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRefundProcess resolves one refund intent into a refund payment.
	TaskTypeRefundProcess = "refund:process"
	// TaskTypeRefundSweep re-enqueues pending intents whose task was lost.
	TaskTypeRefundSweep = "refund:sweep"
	// TaskTypeOrderPaymentStatus pushes a payment's allocations to its orders.
	TaskTypeOrderPaymentStatus = "orders:payment_status"
)

// RefundProcessPayload identifies the intent to resolve.
type RefundProcessPayload struct {
	IntentID int64 `json:"intent_id"`
}

// OrderPaymentStatusPayload identifies the committed payment to notify for.
type OrderPaymentStatusPayload struct {
	PaymentID int64 `json:"payment_id"`
}

// NewRefundProcessTask constructs an Asynq task.
func NewRefundProcessTask(payload RefundProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRefundProcess, data), nil
}

// NewRefundSweepTask constructs the periodic sweep task.
func NewRefundSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeRefundSweep, nil)
}

// NewOrderPaymentStatusTask constructs an Asynq task.
func NewOrderPaymentStatusTask(payload OrderPaymentStatusPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOrderPaymentStatus, data), nil
}

// RefundProcessJob resolves refund intents on the worker.
type RefundProcessJob struct {
	Recon   *recon.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes one refund intent resolution.
func (j *RefundProcessJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recon == nil {
		return errors.New("refund process: handler not configured")
	}
	var payload RefundProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.IntentID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTypeRefundProcess)
	err := j.Recon.ResolveRefundIntent(ctx, payload.IntentID)
	if err != nil {
		// A lost claim race means another worker holds the intent. Done.
		if errors.Is(err, returns.ErrIntentNotPending) {
			return tracker.End(nil)
		}
		j.Logger.Error("resolve refund intent",
			slog.Int64("intent_id", payload.IntentID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.RefundResolved()
	return tracker.End(nil)
}

// RefundSweepJob re-enqueues intents stuck in pending.
type RefundSweepJob struct {
	Recon      *recon.Service
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	StaleAfter time.Duration
	BatchSize  int
}

// Handle executes one sweep pass.
func (j *RefundSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Recon == nil {
		return errors.New("refund sweep: handler not configured")
	}
	staleAfter := j.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	batch := j.BatchSize
	if batch <= 0 {
		batch = 100
	}
	tracker := j.Metrics.Track(TaskTypeRefundSweep)
	n, err := j.Recon.SweepStaleRefundIntents(ctx, staleAfter, batch)
	if err != nil {
		j.Logger.Error("refund sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	if n > 0 {
		j.Logger.Info("refund sweep", slog.Int("re_enqueued", n))
	}
	return tracker.End(nil)
}

// OrderPaymentStatusJob applies allocation notifications on the worker.
type OrderPaymentStatusJob struct {
	Recon   *recon.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle pushes one payment's allocations to the orders they paid for.
func (j *OrderPaymentStatusJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recon == nil {
		return errors.New("order payment status: handler not configured")
	}
	var payload OrderPaymentStatusPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.PaymentID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTypeOrderPaymentStatus)
	if err := j.Recon.NotifyOrderPayment(ctx, payload.PaymentID); err != nil {
		j.Logger.Error("notify order payment",
			slog.Int64("payment_id", payload.PaymentID), slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}
