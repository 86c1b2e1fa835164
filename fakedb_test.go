package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/essandess/gojobqueue/adapter"
)

// fakeDB is an in-memory stand-in for the database, used the same way a
// unit test for the teacher's adapter package would use a scripted mock:
// it understands exactly the SQL jobstore.go and performer.go issue against
// JOB/NODE_INFO, plus a small generic engine for test-defined work tables
// (INSERT/SELECT/DELETE keyed on JOB_ID), since work-type SQL is authored by
// each work type's own Factory/Loader, not by the core.
type fakeDB struct {
	mu     sync.Mutex
	jobs   map[int64]Job
	nodes  map[string]NodeInfo
	tables map[string][]fakeRow
}

type fakeRow map[string]interface{}

func newFakeDB() *fakeDB {
	return &fakeDB{
		jobs:   make(map[int64]Job),
		nodes:  make(map[string]NodeInfo),
		tables: make(map[string][]fakeRow),
	}
}

func nodeKey(hostname string, port int) string {
	return fmt.Sprintf("%s:%d", hostname, port)
}

// fakeConnPool implements adapter.ConnPool over a fakeDB. Every Begin hands
// out a fresh fakeTx; there is no cross-transaction isolation (writes apply
// immediately, with an undo journal for Rollback) since the seed scenarios
// never need more than read-your-own-writes plus a working Rollback.
type fakeConnPool struct {
	db *fakeDB
}

func newFakeConnPool() *fakeConnPool {
	return &fakeConnPool{db: newFakeDB()}
}

func (p *fakeConnPool) Begin(ctx context.Context) (adapter.Tx, error) {
	return &fakeTx{db: p.db}, nil
}

func (p *fakeConnPool) Exec(ctx context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	tx := &fakeTx{db: p.db}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return tag, err
	}
	return tag, tx.Commit(ctx)
}

func (p *fakeConnPool) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	return (&fakeTx{db: p.db}).Query(ctx, query, args...)
}

func (p *fakeConnPool) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	return (&fakeTx{db: p.db}).QueryRow(ctx, query, args...)
}

func (p *fakeConnPool) Ping(ctx context.Context) error { return nil }
func (p *fakeConnPool) Close() error                   { return nil }

// txFactory adapts this pool to a TxFactory.
func (p *fakeConnPool) txFactory(ctx context.Context) (adapter.Tx, error) {
	return p.Begin(ctx)
}

// fakeTx is a single fake transaction. Mutations apply to the shared db
// immediately; Rollback replays an undo journal in reverse to restore the
// pre-transaction state.
type fakeTx struct {
	db     *fakeDB
	undo   []func()
	closed bool
}

func (t *fakeTx) recordUndo(f func()) { t.undo = append(t.undo, f) }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.closed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.closed = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	return nil
}

var (
	reGenericInsert          = regexp.MustCompile(`(?is)^\s*INSERT INTO (\w+)\s*\(([^)]*)\)\s*VALUES\s*\(([^)]*)\)\s*$`)
	reGenericSelectByJobID   = regexp.MustCompile(`(?is)^\s*SELECT (.+) FROM (\w+) WHERE JOB_ID\s*=\s*\$1(\s+FOR UPDATE)?\s*$`)
	reGenericDeleteByJobID   = regexp.MustCompile(`(?is)^\s*DELETE FROM (\w+) WHERE JOB_ID\s*=\s*\$1\s*$`)
	reGenericSelectAllTable  = regexp.MustCompile(`(?is)^\s*SELECT (.+) FROM (\w+)\s*$`)
)

func splitCols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return out
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (adapter.CommandTag, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	switch query {
	case sqlInsertJob:
		jobID := args[0].(int64)
		job := Job{JobID: jobID, WorkType: args[1].(string)}
		if v, ok := args[2].(int16); ok {
			job.Priority = v
		}
		if v, ok := args[3].(int16); ok {
			job.Weight = v
		}
		if v, ok := args[4].(sql.NullTime); ok {
			job.NotBefore = v
		}
		if v, ok := args[5].(sql.NullTime); ok {
			job.NotAfter = v
		}
		t.db.jobs[jobID] = job
		t.recordUndo(func() { delete(t.db.jobs, jobID) })
		return fakeCommandTag{1}, nil

	case sqlDeleteJob:
		jobID := args[0].(int64)
		old, existed := t.db.jobs[jobID]
		delete(t.db.jobs, jobID)
		if existed {
			t.recordUndo(func() { t.db.jobs[jobID] = old })
			return fakeCommandTag{1}, nil
		}
		return fakeCommandTag{0}, nil

	case sqlUpsertNodeInfo:
		host := args[0].(string)
		port := args[2].(int)
		key := nodeKey(host, port)
		old, existed := t.db.nodes[key]
		t.db.nodes[key] = NodeInfo{Hostname: host, PID: args[1].(int), Port: port, Time: args[3].(time.Time)}
		t.recordUndo(func() {
			if existed {
				t.db.nodes[key] = old
			} else {
				delete(t.db.nodes, key)
			}
		})
		return fakeCommandTag{1}, nil

	case sqlDeleteNodeInfo:
		key := nodeKey(args[0].(string), args[1].(int))
		old, existed := t.db.nodes[key]
		delete(t.db.nodes, key)
		if existed {
			t.recordUndo(func() { t.db.nodes[key] = old })
		}
		return fakeCommandTag{1}, nil
	}

	if m := reGenericInsert.FindStringSubmatch(query); m != nil {
		table := strings.ToUpper(m[1])
		cols := splitCols(m[2])
		row := make(fakeRow, len(cols))
		for i, c := range cols {
			if i < len(args) {
				row[c] = args[i]
			}
		}
		t.db.tables[table] = append(t.db.tables[table], row)
		idx := len(t.db.tables[table]) - 1
		t.recordUndo(func() {
			rows := t.db.tables[table]
			if idx < len(rows) {
				t.db.tables[table] = append(rows[:idx], rows[idx+1:]...)
			}
		})
		return fakeCommandTag{1}, nil
	}

	if m := reGenericDeleteByJobID.FindStringSubmatch(query); m != nil {
		table := strings.ToUpper(m[1])
		jobID := args[0]
		rows := t.db.tables[table]
		var kept []fakeRow
		var removed []fakeRow
		for _, r := range rows {
			if fmt.Sprint(r["JOB_ID"]) == fmt.Sprint(jobID) {
				removed = append(removed, r)
				continue
			}
			kept = append(kept, r)
		}
		t.db.tables[table] = kept
		n := len(removed)
		if n > 0 {
			t.recordUndo(func() {
				t.db.tables[table] = append(t.db.tables[table], removed...)
			})
		}
		return fakeCommandTag{int64(n)}, nil
	}

	return nil, fmt.Errorf("fakedb: unsupported Exec query: %s", query)
}

func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) adapter.Row {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if query == sqlLockJobForUpdate {
		jobID := args[0].(int64)
		job, ok := t.db.jobs[jobID]
		if !ok {
			return fakeSingleRow{err: sql.ErrNoRows}
		}
		return fakeSingleRow{values: []interface{}{job.JobID, job.WorkType, job.Priority, job.Weight, job.NotBefore, job.NotAfter}}
	}

	if m := reGenericSelectByJobID.FindStringSubmatch(query); m != nil {
		cols := splitCols(m[1])
		table := strings.ToUpper(m[2])
		jobID := args[0]
		for _, r := range t.db.tables[table] {
			if fmt.Sprint(r["JOB_ID"]) == fmt.Sprint(jobID) {
				vals := make([]interface{}, len(cols))
				for i, c := range cols {
					vals[i] = r[c]
				}
				return fakeSingleRow{values: vals}
			}
		}
		return fakeSingleRow{err: sql.ErrNoRows}
	}

	return fakeSingleRow{err: fmt.Errorf("fakedb: unsupported QueryRow query: %s", query)}
}

func (t *fakeTx) Query(ctx context.Context, query string, args ...interface{}) (adapter.Rows, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if query == sqlPastDueJobs {
		threshold := args[0].(time.Time)
		var jobs []Job
		for _, j := range t.db.jobs {
			// SQL "NOT_BEFORE < $1" never matches a NULL NOT_BEFORE; mirror
			// that instead of defaulting a null to "now".
			if j.NotBefore.Valid && j.NotBefore.Time.Before(threshold) {
				jobs = append(jobs, j)
			}
		}
		sort.Slice(jobs, func(i, k int) bool {
			if jobs[i].Priority != jobs[k].Priority {
				return jobs[i].Priority > jobs[k].Priority
			}
			ni, nk := jobs[i].NotBefore.Time, jobs[k].NotBefore.Time
			if !ni.Equal(nk) {
				return ni.Before(nk)
			}
			return jobs[i].JobID < jobs[k].JobID
		})
		rows := make([][]interface{}, len(jobs))
		for i, j := range jobs {
			rows[i] = []interface{}{j.JobID, j.WorkType, j.Priority, j.Weight, j.NotBefore, j.NotAfter}
		}
		return &fakeRows{rows: rows}, nil
	}

	if query == sqlSelectNodeInfo {
		var rows [][]interface{}
		for _, n := range t.db.nodes {
			rows = append(rows, []interface{}{n.Hostname, n.PID, n.Port, n.Time})
		}
		return &fakeRows{rows: rows}, nil
	}

	if m := reGenericSelectAllTable.FindStringSubmatch(query); m != nil {
		cols := splitCols(m[1])
		table := strings.ToUpper(m[2])
		var rows [][]interface{}
		for _, r := range t.db.tables[table] {
			vals := make([]interface{}, len(cols))
			for i, c := range cols {
				vals[i] = r[c]
			}
			rows = append(rows, vals)
		}
		return &fakeRows{rows: rows}, nil
	}

	return nil, fmt.Errorf("fakedb: unsupported Query query: %s", query)
}

// tableLen returns the number of rows currently in a generic work table,
// for tests to assert on e.g. DUMMY_WORK_DONE without writing SQL.
func (db *fakeDB) tableLen(table string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.tables[strings.ToUpper(table)])
}

func (db *fakeDB) tableRows(table string) []fakeRow {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]fakeRow, len(db.tables[strings.ToUpper(table)]))
	copy(out, db.tables[strings.ToUpper(table)])
	return out
}

type fakeCommandTag struct{ n int64 }

func (t fakeCommandTag) RowsAffected() int64 { return t.n }

type fakeSingleRow struct {
	values []interface{}
	err    error
}

func (r fakeSingleRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.values)
}

type fakeRows struct {
	rows [][]interface{}
	idx  int
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return scanInto(dest, r.rows[r.idx-1])
}

// scanInto assigns each value into its *T destination the same way
// database/sql.Row.Scan does, without the full conversion matrix: the
// fake's callers always pass matching concrete types.
func scanInto(dest []interface{}, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("fakedb: scan column count mismatch: got %d dest, %d values", len(dest), len(values))
	}
	for i, d := range dest {
		if err := assign(d, values[i]); err != nil {
			return fmt.Errorf("fakedb: scan column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, src interface{}) error {
	switch d := dest.(type) {
	case *int64:
		switch s := src.(type) {
		case int64:
			*d = s
		case int:
			*d = int64(s)
		case nil:
			*d = 0
		default:
			return fmt.Errorf("cannot assign %T to *int64", src)
		}
	case *int:
		switch s := src.(type) {
		case int:
			*d = s
		case int64:
			*d = int(s)
		default:
			return fmt.Errorf("cannot assign %T to *int", src)
		}
	case *int16:
		switch s := src.(type) {
		case int16:
			*d = s
		case int:
			*d = int16(s)
		case nil:
			*d = 0
		default:
			return fmt.Errorf("cannot assign %T to *int16", src)
		}
	case *int32:
		switch s := src.(type) {
		case int32:
			*d = s
		case int:
			*d = int32(s)
		default:
			return fmt.Errorf("cannot assign %T to *int32", src)
		}
	case *string:
		s, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to *string", src)
		}
		*d = s
	case *time.Time:
		s, ok := src.(time.Time)
		if !ok {
			return fmt.Errorf("cannot assign %T to *time.Time", src)
		}
		*d = s
	case *sql.NullTime:
		switch s := src.(type) {
		case sql.NullTime:
			*d = s
		case nil:
			*d = sql.NullTime{}
		default:
			return fmt.Errorf("cannot assign %T to *sql.NullTime", src)
		}
	default:
		return fmt.Errorf("fakedb: unsupported scan destination %T", dest)
	}
	return nil
}
