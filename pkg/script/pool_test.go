package script

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct{ id int64 }

func (countingRunner) Runner() {}

type countingFactory struct{ created atomic.Int64 }

func (f *countingFactory) NewRunner() Runner {
	return countingRunner{id: f.created.Add(1)}
}

func TestRunnerPoolLimits(t *testing.T) {
	factory := &countingFactory{}
	pool, err := NewRunnerPool(t.Context(), factory, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), factory.created.Load())

	first, err := pool.GetRunnerFromPool(t.Context())
	require.NoError(t, err)
	second, err := pool.GetRunnerFromPool(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, pool.ActiveRunners())

	// pool is exhausted, the caller waits until its context gives up
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.GetRunnerFromPool(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.ReturnRunnerToPool(first)
	third, err := pool.GetRunnerFromPool(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first, third)

	pool.ReturnRunnerToPool(second)
	pool.ReturnRunnerToPool(third)
	pool.shrink()
	assert.Equal(t, 1, pool.ActiveRunners())
	assert.Equal(t, int64(2), factory.created.Load())
}

func TestRunnerPoolRejectsBadSizes(t *testing.T) {
	_, err := NewRunnerPool(t.Context(), &countingFactory{}, 1, 2)
	assert.Error(t, err)
	_, err = NewRunnerPool(t.Context(), &countingFactory{}, 0, 0)
	assert.Error(t, err)
}
