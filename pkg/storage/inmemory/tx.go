// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"context"
	"errors"

	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

var ErrTxDone = errors.New("transaction has already been committed or rolled back")

// Tx buffers writes until Commit. It holds the store's writer lock for its whole lifetime.
type Tx struct {
	reader

	store               *Storage
	processInstances    *overlayRows[runtime.ProcessInstance]
	activityInstances   *overlayRows[runtime.ActivityInstance]
	tasks               *overlayRows[runtime.TaskInstance]
	transitionInstances *overlayRows[runtime.TransitionInstance]
	done                bool
}

var _ storage.Tx = &Tx{}

func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.store.mu.Lock()
	tx.processInstances.apply()
	tx.activityInstances.apply()
	tx.tasks.apply()
	tx.transitionInstances.apply()
	tx.store.mu.Unlock()
	tx.finish()
	return nil
}

// Rollback discards the buffered writes. Calling it after Commit is a no-op.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *Tx) finish() {
	tx.done = true
	tx.store.writeMu.Unlock()
}

var _ storage.ProcessInstanceStorageWriter = &Tx{}

func (tx *Tx) SaveProcessInstance(ctx context.Context, processInstance runtime.ProcessInstance) error {
	if tx.done {
		return ErrTxDone
	}
	tx.processInstances.put(processInstance.Key, processInstance)
	return nil
}

func (tx *Tx) DeleteProcessInstance(ctx context.Context, processInstanceKey int64) error {
	if tx.done {
		return ErrTxDone
	}
	tx.processInstances.remove(processInstanceKey)
	return nil
}

var _ storage.ActivityInstanceStorageWriter = &Tx{}

func (tx *Tx) SaveActivityInstance(ctx context.Context, activityInstance runtime.ActivityInstance) error {
	if tx.done {
		return ErrTxDone
	}
	tx.activityInstances.put(activityInstance.Key, activityInstance)
	return nil
}

func (tx *Tx) DeleteActivityInstance(ctx context.Context, activityInstanceKey int64) error {
	if tx.done {
		return ErrTxDone
	}
	tx.activityInstances.remove(activityInstanceKey)
	return nil
}

var _ storage.TaskStorageWriter = &Tx{}

func (tx *Tx) SaveTask(ctx context.Context, task runtime.TaskInstance) error {
	if tx.done {
		return ErrTxDone
	}
	tx.tasks.put(task.Key, task)
	return nil
}

func (tx *Tx) DeleteTask(ctx context.Context, taskKey int64) error {
	if tx.done {
		return ErrTxDone
	}
	tx.tasks.remove(taskKey)
	return nil
}

var _ storage.TransitionInstanceStorageWriter = &Tx{}

func (tx *Tx) SaveTransitionInstance(ctx context.Context, transition runtime.TransitionInstance) error {
	if tx.done {
		return ErrTxDone
	}
	tx.transitionInstances.put(transition.Key, transition)
	return nil
}

func (tx *Tx) DeleteTransitionInstance(ctx context.Context, transitionInstanceKey int64) error {
	if tx.done {
		return ErrTxDone
	}
	tx.transitionInstances.remove(transitionInstanceKey)
	return nil
}
