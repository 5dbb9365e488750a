package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the sale does not exist.
var ErrNotFound = errors.New("sales: not found")

// Repository provides read access to sales and their line items.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID returns a sale by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, doc_number, customer_id, status, total_amount, paid_amount, payment_status, sale_date, created_at FROM sales WHERE id = $1`, id)
	var s Sale
	if err := row.Scan(&s.ID, &s.DocNumber, &s.CustomerID, &s.Status, &s.TotalAmount, &s.PaidAmount, &s.PaymentStatus, &s.SaleDate, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListItems returns the line items of a sale ordered by id.
func (r *Repository) ListItems(ctx context.Context, saleID int64) ([]SaleItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, product_name, quantity, unit_price, line_total FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SaleItem
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
