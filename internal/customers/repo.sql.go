package customers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the customer does not exist.
var ErrNotFound = errors.New("customers: not found")

// Repository provides PostgreSQL backed access to the customer directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID returns a customer by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, status, credit_limit, used_credit, created_at, updated_at FROM customers WHERE id = $1`, id)
	var c Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Status, &c.CreditLimit, &c.UsedCredit, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// AdjustUsedCredit atomically applies a signed delta to the customer's used
// credit, clamping at zero. Credit-method payments increase exposure,
// refunds decrease it.
func (r *Repository) AdjustUsedCredit(ctx context.Context, id int64, delta decimal.Decimal) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE customers
SET used_credit = GREATEST(used_credit + $2, 0), updated_at = NOW()
WHERE id = $1
RETURNING id, name, status, credit_limit, used_credit, created_at, updated_at`, id, delta)
	var c Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Status, &c.CreditLimit, &c.UsedCredit, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
