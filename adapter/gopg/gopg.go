// Package gopg implements adapter.ConnPool/adapter.Tx over
// github.com/go-pg/pg/v10, the fourth driver generation the teacher library
// requires.
package gopg

import (
	"context"
	"errors"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"

	"github.com/essandess/gojobqueue/adapter"
)

// ErrMultiRowScanUnsupported is returned by Query: go-pg v10 binds its
// destination model at query time (via pg.Scan or a typed model), with no
// seam for handing it per-row destination pointers after the fact the way
// adapter.Rows' Next()/Scan() cadence requires. QueryRow doesn't have this
// problem since its destination is already known before the query runs.
// See DESIGN.md for the callers this rules out on this backend.
var ErrMultiRowScanUnsupported = errors.New("adapter/gopg: multi-row generic Scan is not supported, use QueryRow or a typed go-pg model")

// ConnPool wraps *pg.DB.
type ConnPool struct {
	db *pg.DB
}

// NewConnPool wraps an already-constructed go-pg *pg.DB.
func NewConnPool(db *pg.DB) *ConnPool {
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

// Query implements adapter.ConnPool. See ErrMultiRowScanUnsupported.
func (c *ConnPool) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	return nil, ErrMultiRowScanUnsupported
}

// QueryRow implements adapter.ConnPool.
func (c *ConnPool) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	return &rowWrapper{db: c.db, ctx: ctx, query: query, args: args}
}

// Begin implements adapter.ConnPool.
func (c *ConnPool) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := c.db.BeginContext(ctx)
	if err != nil {
		return nil, err
	}
	return &txWrapper{tx: tx}, nil
}

// Ping implements adapter.ConnPool.
func (c *ConnPool) Ping(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "SELECT 1")
	return err
}

// Close implements adapter.ConnPool.
func (c *ConnPool) Close() error {
	return c.db.Close()
}

type txWrapper struct {
	tx *pg.Tx
}

func (t *txWrapper) Exec(ctx context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag{res}, nil
}

// Query implements adapter.Tx. See ErrMultiRowScanUnsupported.
func (t *txWrapper) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	return nil, ErrMultiRowScanUnsupported
}

func (t *txWrapper) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	return &rowWrapper{tx: t.tx, ctx: ctx, query: query, args: args}
}

func (t *txWrapper) Rollback(context.Context) error {
	return t.tx.Rollback()
}

func (t *txWrapper) Commit(context.Context) error {
	return t.tx.Commit()
}

// rowWrapper defers query execution from QueryRow until Scan supplies the
// destination pointers: go-pg binds its model at query time, so this is the
// only point with both the query and the caller's dest in hand. pg.Scan
// builds that model directly from dest, giving QueryRow real column
// scanning despite the generic adapter.Row seam.
type rowWrapper struct {
	db    *pg.DB
	tx    *pg.Tx
	ctx   context.Context
	query string
	args  []interface{}
}

func (r *rowWrapper) Scan(dest ...interface{}) error {
	model := pg.Scan(dest...)
	var err error
	if r.tx != nil {
		_, err = r.tx.QueryOneContext(r.ctx, model, r.query, r.args...)
	} else {
		_, err = r.db.QueryOneContext(r.ctx, model, r.query, r.args...)
	}
	return err
}

type commandTag struct {
	res orm.Result
}

func (c commandTag) RowsAffected() int64 { return int64(c.res.RowsAffected()) }
