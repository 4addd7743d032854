// Package db holds the Postgres pool abstraction shared by the store and its
// tests.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock pools satisfy
// it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// CopyFrom bulk-inserts rows into table with the COPY protocol.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// PingRetry pings pool up to attempts times, doubling backoff after each
// failure. Cancellation stops the wait and returns ctx.Err().
func PingRetry(ctx context.Context, pool Pool, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		zap.L().Warn("db: ping failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return eris.Wrapf(err, "db: ping failed after %d attempts", attempts)
}
