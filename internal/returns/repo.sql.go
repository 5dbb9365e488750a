package returns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the return ledger
// and the refund intent outbox.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const returnColumns = `id, uuid, return_number, sale_id, customer_id, return_date, return_type, reason, total_amount, refund_amount, status, refund_status, notes, processed_by, processed_at, created_at, updated_at`

const intentColumns = `id, return_id, return_number, customer_id, amount, method_code, status, attempts, last_error, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReturn(row rowScanner) (*Return, error) {
	var ret Return
	err := row.Scan(&ret.ID, &ret.UUID, &ret.ReturnNumber, &ret.SaleID, &ret.CustomerID,
		&ret.ReturnDate, &ret.ReturnType, &ret.Reason, &ret.TotalAmount, &ret.RefundAmount,
		&ret.Status, &ret.RefundStatus, &ret.Notes, &ret.ProcessedBy, &ret.ProcessedAt,
		&ret.CreatedAt, &ret.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ret, nil
}

func scanIntent(row rowScanner) (*RefundIntent, error) {
	var in RefundIntent
	err := row.Scan(&in.ID, &in.ReturnID, &in.ReturnNumber, &in.CustomerID, &in.Amount,
		&in.MethodCode, &in.Status, &in.Attempts, &in.LastError, &in.CreatedAt, &in.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &in, nil
}

// GetReturn returns a return with its items.
func (r *Repository) GetReturn(ctx context.Context, id int64) (*Return, error) {
	ret, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := r.listItems(ctx, ret.ID)
	if err != nil {
		return nil, err
	}
	ret.Items = items
	return ret, nil
}

// GetReturnByNumber returns a return by its business key.
func (r *Repository) GetReturnByNumber(ctx context.Context, number string) (*Return, error) {
	ret, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE return_number = $1`, number))
	if err != nil {
		return nil, err
	}
	items, err := r.listItems(ctx, ret.ID)
	if err != nil {
		return nil, err
	}
	ret.Items = items
	return ret, nil
}

func (r *Repository) listItems(ctx context.Context, returnID int64) ([]ReturnItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, return_id, sale_item_id, product_id, quantity_returned, original_quantity, unit_price, line_total, condition FROM return_items WHERE return_id = $1 ORDER BY id`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ReturnItem
	for rows.Next() {
		var it ReturnItem
		if err := rows.Scan(&it.ID, &it.ReturnID, &it.SaleItemID, &it.ProductID,
			&it.QuantityReturned, &it.OriginalQuantity, &it.UnitPrice, &it.LineTotal, &it.Condition); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListReturns returns a filtered, paginated return listing and the total count.
func (r *Repository) ListReturns(ctx context.Context, req ListReturnsRequest) ([]Return, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if req.SaleID != nil {
		conds = append(conds, "sale_id = "+arg(*req.SaleID))
	}
	if req.CustomerID != nil {
		conds = append(conds, "customer_id = "+arg(*req.CustomerID))
	}
	if req.Status != nil {
		conds = append(conds, "status = "+arg(*req.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM returns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + returnColumns + ` FROM returns` + where +
		" ORDER BY return_date DESC, id DESC LIMIT " + arg(limit) + " OFFSET " + arg(req.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *ret)
	}
	return out, total, rows.Err()
}

// ListReturnsForSale returns every return against the sale in creation
// order, items attached.
func (r *Repository) ListReturnsForSale(ctx context.Context, saleID int64) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM returns WHERE sale_id = $1 ORDER BY created_at, id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		items, err := r.listItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

// GetRefundIntent returns one refund intent.
func (r *Repository) GetRefundIntent(ctx context.Context, id int64) (*RefundIntent, error) {
	return scanIntent(r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM refund_intents WHERE id = $1`, id))
}

// ListStaleRefundIntents returns pending intents created before olderThan,
// oldest first. The sweeper re-enqueues these; intents stuck in processing
// are left for operator review rather than risking a double refund.
func (r *Repository) ListStaleRefundIntents(ctx context.Context, olderThan time.Time, limit int) ([]RefundIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+intentColumns+` FROM refund_intents WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`,
		IntentPending, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RefundIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

// WithTx wraps callback in a ledger transaction. Availability sums run
// after LockSaleItems and must see what the previous lock holder
// committed, so the isolation level is owned by platform/db.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) LockSaleItems(ctx context.Context, saleID int64) error {
	_, err := t.tx.Exec(ctx, `SELECT id FROM sale_items WHERE sale_id = $1 FOR UPDATE`, saleID)
	return err
}

func (t *txStore) SumReturnedQuantity(ctx context.Context, saleItemID, excludeReturnID int64) (float64, error) {
	var sum float64
	err := t.tx.QueryRow(ctx, `
SELECT COALESCE(SUM(ri.quantity_returned), 0)
FROM return_items ri
JOIN returns r ON r.id = ri.return_id
WHERE ri.sale_item_id = $1 AND r.status <> $2 AND ($3 = 0 OR r.id <> $3)`,
		saleItemID, StatusRejected, excludeReturnID).Scan(&sum)
	return sum, err
}

func (t *txStore) NextDocNumber(ctx context.Context, prefix string) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO doc_counters (prefix, value) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET value = doc_counters.value + 1
RETURNING value`, prefix).Scan(&seq)
	return seq, err
}

func (t *txStore) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO returns (uuid, return_number, sale_id, customer_id, return_date, return_type, reason, total_amount, refund_amount, status, refund_status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
RETURNING id`,
		ret.UUID, ret.ReturnNumber, ret.SaleID, ret.CustomerID, ret.ReturnDate, ret.ReturnType,
		ret.Reason, ret.TotalAmount, ret.RefundAmount, ret.Status, ret.RefundStatus, ret.Notes).Scan(&id)
	return id, err
}

func (t *txStore) InsertReturnItem(ctx context.Context, item ReturnItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO return_items (return_id, sale_item_id, product_id, quantity_returned, original_quantity, unit_price, line_total, condition)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		item.ReturnID, item.SaleItemID, item.ProductID, item.QuantityReturned,
		item.OriginalQuantity, item.UnitPrice, item.LineTotal, item.Condition).Scan(&id)
	return id, err
}

func (t *txStore) DeleteReturnItems(ctx context.Context, returnID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM return_items WHERE return_id = $1`, returnID)
	return err
}

// allowed column names for dynamic return updates
var returnUpdateColumns = map[string]struct{}{
	"return_date":   {},
	"return_type":   {},
	"reason":        {},
	"total_amount":  {},
	"refund_amount": {},
	"status":        {},
	"refund_status": {},
	"notes":         {},
	"processed_by":  {},
	"processed_at":  {},
}

func (t *txStore) UpdateReturn(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if _, ok := returnUpdateColumns[col]; !ok {
			return fmt.Errorf("returns: unknown update column %q", col)
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

	tag, err := t.tx.Exec(ctx, `UPDATE returns SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txStore) DeleteReturn(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM returns WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txStore) InsertRefundIntent(ctx context.Context, in RefundIntent) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO refund_intents (return_id, return_number, customer_id, amount, method_code, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())
RETURNING id`,
		in.ReturnID, in.ReturnNumber, in.CustomerID, in.Amount, in.MethodCode, IntentPending).Scan(&id)
	return id, err
}

func (t *txStore) ClaimRefundIntent(ctx context.Context, id int64) (*RefundIntent, error) {
	in, err := scanIntent(t.tx.QueryRow(ctx, `
UPDATE refund_intents SET status = $2, attempts = attempts + 1
WHERE id = $1 AND status = $3
RETURNING `+intentColumns, id, IntentProcessing, IntentPending))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrIntentNotPending
		}
		return nil, err
	}
	return in, nil
}

func (t *txStore) ResolveRefundIntent(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE refund_intents SET status = $2, resolved_at = NOW(), last_error = NULL WHERE id = $1`, id, IntentDone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txStore) FailRefundIntent(ctx context.Context, id int64, cause string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE refund_intents SET status = $2, last_error = $3 WHERE id = $1`, id, IntentFailed, cause)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
