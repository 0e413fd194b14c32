// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory_test

import (
	"sync"
	"testing"

	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/pbinitiative/zenflow/pkg/storage/storagetest"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStorage(t *testing.T) {
	var store storage.Storage = inmemory.NewStorage()

	tester := storagetest.StorageTester{}

	tests := tester.GetTests()
	tester.PrepareTestData(store, t)
	for name, testFunc := range tests {
		t.Run(name, testFunc(store, t))
	}
}

func TestTransactionsAreSerialized(t *testing.T) {
	store := inmemory.NewStorage()
	ctx := t.Context()

	require.NoError(t, func() error {
		tx, err := store.Begin(ctx)
		if err != nil {
			return err
		}
		if err := tx.SaveActivityInstance(ctx, runtime.ActivityInstance{Key: 1, TokensHad: 0}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}())

	// every writer increments the same row, lost updates would show up as a smaller count
	workers := 20
	wg := sync.WaitGroup{}
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			tx, err := store.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			ai, err := tx.FindActivityInstanceByKey(ctx, 1)
			if !assert.NoError(t, err) {
				_ = tx.Rollback(ctx)
				return
			}
			ai.TokensHad++
			assert.NoError(t, tx.SaveActivityInstance(ctx, ai))
			assert.NoError(t, tx.Commit(ctx))
		}()
	}
	wg.Wait()

	ai, err := store.FindActivityInstanceByKey(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, workers, ai.TokensHad)
}

func TestCommitAfterRollbackFails(t *testing.T) {
	store := inmemory.NewStorage()
	tx, err := store.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(t.Context()))
	assert.ErrorIs(t, tx.Commit(t.Context()), inmemory.ErrTxDone)
	assert.ErrorIs(t, tx.SaveTask(t.Context(), runtime.TaskInstance{Key: 1}), inmemory.ErrTxDone)
}
