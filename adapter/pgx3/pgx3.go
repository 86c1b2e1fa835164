// Package pgx3 implements adapter.ConnPool/adapter.Tx over the "classic"
// github.com/jackc/pgx connection pool (the v3-era API), the second driver
// generation the teacher library requires alongside pgx v4.
package pgx3

import (
	"context"

	"github.com/jackc/pgx"

	"github.com/essandess/gojobqueue/adapter"
)

// ConnPool wraps *pgx.ConnPool.
type ConnPool struct {
	pool *pgx.ConnPool
}

// NewConnPool wraps an already-established pgx v3 connection pool.
func NewConnPool(pool *pgx.ConnPool) *ConnPool {
	return &ConnPool{pool: pool}
}

// Exec implements adapter.ConnPool.
func (c *ConnPool) Exec(_ context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	tag, err := c.pool.Exec(query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag(tag), nil
}

// Query implements adapter.ConnPool.
func (c *ConnPool) Query(_ context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	rows, err := c.pool.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow implements adapter.ConnPool.
func (c *ConnPool) QueryRow(_ context.Context, query string, args ...interface{}) adapter.Row {
	return c.pool.QueryRow(query, args...)
}

// Begin implements adapter.ConnPool.
func (c *ConnPool) Begin(_ context.Context) (adapter.Tx, error) {
	tx, err := c.pool.Begin()
	if err != nil {
		return nil, err
	}
	return &txWrapper{tx}, nil
}

// Ping implements adapter.ConnPool.
func (c *ConnPool) Ping(ctx context.Context) error {
	conn, err := c.pool.Acquire()
	if err != nil {
		return err
	}
	defer c.pool.Release(conn)
	return nil
}

// Close implements adapter.ConnPool.
func (c *ConnPool) Close() error {
	c.pool.Close()
	return nil
}

type txWrapper struct {
	tx *pgx.Tx
}

func (t *txWrapper) Exec(_ context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	tag, err := t.tx.Exec(query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag(tag), nil
}

func (t *txWrapper) Query(_ context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

func (t *txWrapper) QueryRow(_ context.Context, query string, args ...interface{}) adapter.Row {
	return t.tx.QueryRow(query, args...)
}

func (t *txWrapper) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if err == pgx.ErrTxClosed {
		return nil
	}
	return err
}

func (t *txWrapper) Commit(context.Context) error {
	return t.tx.Commit()
}

type rowsWrapper struct {
	rows *pgx.Rows
}

func (r *rowsWrapper) Close() { r.rows.Close() }
func (r *rowsWrapper) Err() error { return r.rows.Err() }
func (r *rowsWrapper) Next() bool { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

type commandTag pgx.CommandTag

func (c commandTag) RowsAffected() int64 { return pgx.CommandTag(c).RowsAffected() }
