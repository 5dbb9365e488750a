package methods

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the payment method does not exist.
var ErrNotFound = errors.New("methods: not found")

// Repository provides PostgreSQL backed persistence for payment methods.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const methodColumns = `id, code, name, is_active, requires_reference, requires_approval, is_credit, created_at, updated_at`

// FindByCode returns the payment method for a code, active or not.
func (r *Repository) FindByCode(ctx context.Context, code string) (*PaymentMethod, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE code = $1`, code)
	var m PaymentMethod
	if err := row.Scan(&m.ID, &m.Code, &m.Name, &m.IsActive, &m.RequiresReference, &m.RequiresApproval, &m.IsCredit, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// List returns all payment methods ordered by code.
func (r *Repository) List(ctx context.Context) ([]PaymentMethod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+methodColumns+` FROM payment_methods ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentMethod
	for rows.Next() {
		var m PaymentMethod
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.IsActive, &m.RequiresReference, &m.RequiresApproval, &m.IsCredit, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
