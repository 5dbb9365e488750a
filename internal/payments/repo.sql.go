package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the payment ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const paymentColumns = `id, uuid, payment_number, customer_id, amount, payment_method_code, payment_date, status, allocated_amount, unallocated_amount, reference, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UUID, &p.PaymentNumber, &p.CustomerID, &p.Amount, &p.MethodCode,
		&p.PaymentDate, &p.Status, &p.AllocatedAmount, &p.UnallocatedAmount,
		&p.Reference, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetPayment returns a payment with its allocations.
func (r *Repository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	allocs, err := r.listAllocations(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Allocations = allocs
	return p, nil
}

// GetPaymentByNumber returns a payment by its business key.
func (r *Repository) GetPaymentByNumber(ctx context.Context, number string) (*Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_number = $1`, number))
	if err != nil {
		return nil, err
	}
	allocs, err := r.listAllocations(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Allocations = allocs
	return p, nil
}

func (r *Repository) listAllocations(ctx context.Context, paymentID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, payment_id, order_id, order_type, allocated_amount, allocated_at FROM payment_allocations WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var allocs []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.OrderID, &a.OrderType, &a.Amount, &a.AllocatedAt); err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// ListPayments returns a filtered, paginated payment listing and the total count.
func (r *Repository) ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if req.CustomerID != nil {
		conds = append(conds, "customer_id = "+arg(*req.CustomerID))
	}
	if req.Status != nil {
		conds = append(conds, "status = "+arg(*req.Status))
	}
	if req.DateFrom != nil {
		conds = append(conds, "payment_date >= "+arg(*req.DateFrom))
	}
	if req.DateTo != nil {
		conds = append(conds, "payment_date <= "+arg(*req.DateTo))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + paymentColumns + ` FROM payments` + where +
		" ORDER BY payment_date DESC, id DESC LIMIT " + arg(limit) + " OFFSET " + arg(req.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

// WithTx wraps callback in a ledger transaction. Isolation is owned by
// platform/db so the doc counter upsert and allocation recompute behave
// the same across ledgers.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO payments (uuid, payment_number, customer_id, amount, payment_method_code, payment_date, status, allocated_amount, unallocated_amount, reference, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
RETURNING id`,
		p.UUID, p.PaymentNumber, p.CustomerID, p.Amount, p.MethodCode, p.PaymentDate,
		p.Status, p.AllocatedAmount, p.UnallocatedAmount, p.Reference, p.Notes).Scan(&id)
	return id, err
}

// allowed column names for dynamic payment updates
var paymentUpdateColumns = map[string]struct{}{
	"amount":              {},
	"payment_method_code": {},
	"payment_date":        {},
	"status":              {},
	"reference":           {},
	"notes":               {},
}

func (t *txStore) UpdatePayment(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if _, ok := paymentUpdateColumns[col]; !ok {
			return fmt.Errorf("payments: unknown update column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := []any{id}
	for _, col := range cols {
		args = append(args, updates[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	tag, err := t.tx.Exec(ctx, `UPDATE payments SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txStore) DeletePayment(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txStore) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO payment_allocations (payment_id, order_id, order_type, allocated_amount, allocated_at)
VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
RETURNING id`, a.PaymentID, a.OrderID, a.OrderType, a.Amount, nullableTime(a.AllocatedAt)).Scan(&id)
	return id, err
}

func (t *txStore) DeleteAllocations(ctx context.Context, paymentID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM payment_allocations WHERE payment_id = $1`, paymentID)
	return err
}

func (t *txStore) SumAllocations(ctx context.Context, paymentID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(allocated_amount), 0) FROM payment_allocations WHERE payment_id = $1`, paymentID).Scan(&sum)
	return sum, err
}

func (t *txStore) SetAllocationAmounts(ctx context.Context, paymentID int64, allocated, unallocated decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET allocated_amount = $2, unallocated_amount = $3, updated_at = NOW() WHERE id = $1`, paymentID, allocated, unallocated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// NextDocNumber advances the per-prefix counter atomically and returns the
// new sequence value.
func (t *txStore) NextDocNumber(ctx context.Context, prefix string) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO doc_counters (prefix, value) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET value = doc_counters.value + 1
RETURNING value`, prefix).Scan(&seq)
	return seq, err
}
