package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupUnknownWorkType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("NOPE")
	assert.True(t, errors.Is(err, ErrUnknownWorkType))
}

func TestRegistryLookupRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("DUMMY_WORK", WorkConfig{Factory: dummyWorkFactory, Loader: dummyWorkLoaderFor(nil)})
	cfg, err := r.Lookup("DUMMY_WORK")
	require.NoError(t, err)
	assert.NotNil(t, cfg.Factory)
	assert.NotNil(t, cfg.Loader)
}

// EnqueueWork surfaces an unknown attrs key synchronously as a schema
// error, never reaching the timer/proposal machinery (spec.md §4.7, §7).
func TestEnqueueWorkSchemaMismatch(t *testing.T) {
	pool := newFakeConnPool()
	clock := NewFakeClock(time.Now())
	q, _ := newTestQueuer(t, pool, clock)

	ctx := context.Background()
	tx, err := q.Begin(ctx)
	require.NoError(t, err)

	_, err = q.EnqueueWork(ctx, tx, "DUMMY_WORK", map[string]interface{}{"a": int64(1), "bogusColumn": int64(2)})
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	require.NoError(t, tx.Rollback(ctx))
}

func TestEnqueueWorkUnknownWorkType(t *testing.T) {
	pool := newFakeConnPool()
	clock := NewFakeClock(time.Now())
	q, _ := newTestQueuer(t, pool, clock)

	ctx := context.Background()
	tx, err := q.Begin(ctx)
	require.NoError(t, err)

	_, err = q.EnqueueWork(ctx, tx, "NOT_REGISTERED", nil)
	assert.True(t, errors.Is(err, ErrUnknownWorkType))
	require.NoError(t, tx.Rollback(ctx))
}
