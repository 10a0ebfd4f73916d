package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aeroride/carpool/pkg/resilience"
)

func queryRetryConfig() resilience.RetryConfig {
	config := resilience.DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialBackoff = 100 * time.Millisecond
	config.MaxBackoff = 2 * time.Second
	config.RetryableChecker = IsPostgresRetryable
	return config
}

// RetryableQuery runs a read query with retries on transient failures. The
// scanner must fully consume the rows; it may run more than once.
func RetryableQuery[T any](ctx context.Context, pool interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}, query string, args []interface{}, scanner func(pgx.Rows) (T, error)) (T, error) {
	result, err := resilience.RetryWithName(ctx, queryRetryConfig(), func(ctx context.Context) (interface{}, error) {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return *new(T), err
		}
		defer rows.Close()

		return scanner(rows)
	}, "database.query")
	if err != nil {
		return *new(T), err
	}
	return result.(T), nil
}

// RetryableTransaction runs fn in a transaction, retrying the whole closure
// on serialization failures and deadlocks. fn must be safe to run again in a
// fresh transaction: nothing from an aborted attempt is visible to the next.
func RetryableTransaction(ctx context.Context, pool interface {
	Begin(context.Context) (pgx.Tx, error)
}, fn func(pgx.Tx) error) error {
	config := queryRetryConfig()
	config.InitialBackoff = 50 * time.Millisecond
	config.MaxBackoff = time.Second

	_, err := resilience.RetryWithName(ctx, config, func(ctx context.Context) (interface{}, error) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return nil, err
		}
		return nil, tx.Commit(ctx)
	}, "database.transaction")
	return err
}

// IsPostgresRetryable reports whether an error is worth retrying: concurrency
// conflicts the server asks us to repeat, transient resource exhaustion, and
// connection-level interruptions. Business errors, constraint violations and
// context cancellation are final.
func IsPostgresRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		case "55P03": // lock_not_available
			return true
		case "53300", "53400": // too_many_connections, configuration_limit_exceeded
			return true
		case "08000", "08003", "08006": // connection_exception family
			return true
		case "57P01", "57P02", "57P03": // server shutdown, cannot_connect_now
			return true
		}
		return false
	}

	// Driver and network failures surface as plain errors.
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"unexpected eof",
		"server closed",
		"timeout",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
