// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"context"
	"errors"

	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

var ErrNotFound = errors.New("not found")

// Storage is the Instance Store used by the workflow engine.
// Reads on Storage see committed data only, all writes go through a Tx.
//
// Methods that are expected to return exactly one match MUST return ErrNotFound when the result does not exist
type Storage interface {
	Reader

	// Begin opens a transaction. Writing transactions are serialized by the store.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one transactional session. After Commit or Rollback the Tx must not be used.
type Tx interface {
	Reader
	Writer

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Reader interface {
	ProcessInstanceStorageReader
	ActivityInstanceStorageReader
	TaskStorageReader
	TransitionInstanceStorageReader
}

type Writer interface {
	ProcessInstanceStorageWriter
	ActivityInstanceStorageWriter
	TaskStorageWriter
	TransitionInstanceStorageWriter
}

type ProcessInstanceStorageReader interface {
	FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error)

	// FindChildProcessInstances returns sub-process instances started by the given process instance ordered by key
	FindChildProcessInstances(ctx context.Context, parentProcessInstanceKey int64) ([]runtime.ProcessInstance, error)
}

type ProcessInstanceStorageWriter interface {
	// SaveProcessInstance persists the instance
	// and potentially overwrites prior data stored with given process instance key
	SaveProcessInstance(ctx context.Context, processInstance runtime.ProcessInstance) error

	DeleteProcessInstance(ctx context.Context, processInstanceKey int64) error
}

// ActivityInstanceFilter selects activity instances. Zero values do not filter.
type ActivityInstanceFilter struct {
	ProcessInstanceKey        int64
	ActivityGUID              string
	MIHostActivityInstanceKey *int64
	States                    []runtime.ActivityState
}

type ActivityInstanceStorageReader interface {
	FindActivityInstanceByKey(ctx context.Context, activityInstanceKey int64) (runtime.ActivityInstance, error)

	// FindActivityInstances returns matching instances ordered by key
	FindActivityInstances(ctx context.Context, filter ActivityInstanceFilter) ([]runtime.ActivityInstance, error)
}

type ActivityInstanceStorageWriter interface {
	SaveActivityInstance(ctx context.Context, activityInstance runtime.ActivityInstance) error

	DeleteActivityInstance(ctx context.Context, activityInstanceKey int64) error
}

// TaskQuery filters the task listing. Zero values do not filter.
type TaskQuery struct {
	UserID        string
	AppInstanceID string
	ProcessGUID   string
	// AppName matches as a substring.
	AppName        string
	EndedByUserID  string
	ActivityStates []runtime.ActivityState
	TaskStates     []runtime.TaskState
	// ExcludeCompletedHosts drops tasks of multi-instance children whose host is already Completed.
	ExcludeCompletedHosts bool
	EMailSent             *bool
	Offset                int
	// Limit of 0 returns all rows.
	Limit int
}

type TaskStorageReader interface {
	FindTaskByKey(ctx context.Context, taskKey int64) (runtime.TaskInstance, error)

	// FindTasksByActivityInstance returns the tasks of an activity instance ordered by key
	FindTasksByActivityInstance(ctx context.Context, activityInstanceKey int64) ([]runtime.TaskInstance, error)

	// FindTasks returns one page of tasks ordered by key descending and the total number of matches
	FindTasks(ctx context.Context, query TaskQuery) ([]runtime.TaskInstance, int, error)
}

type TaskStorageWriter interface {
	SaveTask(ctx context.Context, task runtime.TaskInstance) error

	DeleteTask(ctx context.Context, taskKey int64) error
}

type TransitionInstanceStorageReader interface {
	FindTransitionInstanceByKey(ctx context.Context, transitionInstanceKey int64) (runtime.TransitionInstance, error)

	// FindTransitionInstances returns the transitions of a process instance ordered by key
	FindTransitionInstances(ctx context.Context, processInstanceKey int64) ([]runtime.TransitionInstance, error)
}

type TransitionInstanceStorageWriter interface {
	SaveTransitionInstance(ctx context.Context, transition runtime.TransitionInstance) error

	DeleteTransitionInstance(ctx context.Context, transitionInstanceKey int64) error
}
