// Package pgxv4 implements adapter.ConnPool/adapter.Tx over
// github.com/jackc/pgx/v4's connection pool, the teacher library's primary
// supported driver generation.
package pgxv4

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/essandess/gojobqueue/adapter"
)

// ConnPool wraps *pgxpool.Pool.
type ConnPool struct {
	pool *pgxpool.Pool
}

// OpenConnPool creates a pgx v4 connection pool from a DSN and wraps it.
func OpenConnPool(ctx context.Context, dsn string) (*ConnPool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewConnPool(pool), nil
}

// NewConnPool wraps an already-constructed pool, for callers that manage
// their own pgxpool.Pool lifecycle.
func NewConnPool(pool *pgxpool.Pool) *ConnPool {
	return &ConnPool{pool: pool}
}

// Exec implements adapter.ConnPool.
func (c *ConnPool) Exec(ctx context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag{tag}, nil
}

// Query implements adapter.ConnPool.
func (c *ConnPool) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow implements adapter.ConnPool.
func (c *ConnPool) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	return c.pool.QueryRow(ctx, query, args...)
}

// Begin implements adapter.ConnPool.
func (c *ConnPool) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &txWrapper{tx}, nil
}

// Ping implements adapter.ConnPool.
func (c *ConnPool) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close implements adapter.ConnPool.
func (c *ConnPool) Close() error {
	c.pool.Close()
	return nil
}

type txWrapper struct {
	tx pgx.Tx
}

func (t *txWrapper) Exec(ctx context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag{tag}, nil
}

func (t *txWrapper) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

func (t *txWrapper) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	return t.tx.QueryRow(ctx, query, args...)
}

func (t *txWrapper) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	return err
}

func (t *txWrapper) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

type rowsWrapper struct {
	rows pgx.Rows
}

func (r *rowsWrapper) Close()         { r.rows.Close() }
func (r *rowsWrapper) Err() error     { return r.rows.Err() }
func (r *rowsWrapper) Next() bool     { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

type commandTag struct {
	tag pgconn.CommandTag
}

func (c commandTag) RowsAffected() int64 { return c.tag.RowsAffected() }
