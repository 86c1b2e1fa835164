// Package libpq implements adapter.ConnPool/adapter.Tx over the standard
// library's database/sql, using github.com/lib/pq as the driver — the third
// driver generation the teacher library requires.
package libpq

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/essandess/gojobqueue/adapter"
)

// ConnPool wraps *sql.DB.
type ConnPool struct {
	db *sql.DB
}

// Open opens a new *sql.DB against the lib/pq driver and wraps it.
func Open(dsn string) (*ConnPool, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &ConnPool{db: db}, nil
}

// NewConnPool wraps an already-open *sql.DB.
func NewConnPool(db *sql.DB) *ConnPool {
	return &ConnPool{db: db}
}

// Exec implements adapter.ConnPool.
func (c *ConnPool) Exec(ctx context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag{res}, nil
}

// Query implements adapter.ConnPool.
func (c *ConnPool) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow implements adapter.ConnPool.
func (c *ConnPool) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// Begin implements adapter.ConnPool.
func (c *ConnPool) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txWrapper{tx}, nil
}

// Ping implements adapter.ConnPool.
func (c *ConnPool) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close implements adapter.ConnPool.
func (c *ConnPool) Close() error {
	return c.db.Close()
}

type txWrapper struct {
	tx *sql.Tx
}

func (t *txWrapper) Exec(ctx context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag{res}, nil
}

func (t *txWrapper) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

func (t *txWrapper) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *txWrapper) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func (t *txWrapper) Commit(context.Context) error {
	return t.tx.Commit()
}

type rowsWrapper struct {
	rows *sql.Rows
}

func (r *rowsWrapper) Close() { _ = r.rows.Close() }
func (r *rowsWrapper) Err() error { return r.rows.Err() }
func (r *rowsWrapper) Next() bool { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

type commandTag struct {
	res sql.Result
}

func (c commandTag) RowsAffected() int64 {
	n, err := c.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
