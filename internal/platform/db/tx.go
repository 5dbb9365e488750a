package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txOptions is the isolation level for every ledger transaction. The
// ledgers serialize on row locks (sale lines, doc counters), and the
// availability sums taken after acquiring a lock must observe the lock
// holder's committed writes. ReadCommitted's per-statement snapshots
// guarantee that; a transaction-wide snapshot would not, and would also
// surface serialization failures on the doc counter upsert.
var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes a function within a single ledger transaction. Ledger
// recomputation must happen inside the same transaction as the mutation
// that required it.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
