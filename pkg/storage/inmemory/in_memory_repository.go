// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// Storage keeps process information in memory,
// please use NewStorage to create a new object of this type.
// Only one transaction is open at a time, Begin blocks until the previous one ends.
type Storage struct {
	reader

	mu      sync.RWMutex
	writeMu sync.Mutex

	ProcessInstances    map[int64]runtime.ProcessInstance
	ActivityInstances   map[int64]runtime.ActivityInstance
	Tasks               map[int64]runtime.TaskInstance
	TransitionInstances map[int64]runtime.TransitionInstance
}

func NewStorage() *Storage {
	mem := &Storage{
		ProcessInstances:    make(map[int64]runtime.ProcessInstance),
		ActivityInstances:   make(map[int64]runtime.ActivityInstance),
		Tasks:               make(map[int64]runtime.TaskInstance),
		TransitionInstances: make(map[int64]runtime.TransitionInstance),
	}
	mem.reader = reader{
		lock: func() func() {
			mem.mu.RLock()
			return mem.mu.RUnlock
		},
		processInstances:    committedRows[runtime.ProcessInstance](mem.ProcessInstances),
		activityInstances:   committedRows[runtime.ActivityInstance](mem.ActivityInstances),
		tasks:               committedRows[runtime.TaskInstance](mem.Tasks),
		transitionInstances: committedRows[runtime.TransitionInstance](mem.TransitionInstances),
	}
	return mem
}

var _ storage.Storage = &Storage{}

func (mem *Storage) Begin(ctx context.Context) (storage.Tx, error) {
	mem.writeMu.Lock()
	tx := &Tx{
		store:               mem,
		processInstances:    newOverlay(mem.ProcessInstances),
		activityInstances:   newOverlay(mem.ActivityInstances),
		tasks:               newOverlay(mem.Tasks),
		transitionInstances: newOverlay(mem.TransitionInstances),
	}
	tx.reader = reader{
		lock:                func() func() { return func() {} },
		processInstances:    tx.processInstances,
		activityInstances:   tx.activityInstances,
		tasks:               tx.tasks,
		transitionInstances: tx.transitionInstances,
	}
	return tx, nil
}

// reader implements storage.Reader over committed rows or over a transaction overlay.
type reader struct {
	lock                func() func()
	processInstances    rows[runtime.ProcessInstance]
	activityInstances   rows[runtime.ActivityInstance]
	tasks               rows[runtime.TaskInstance]
	transitionInstances rows[runtime.TransitionInstance]
}

var _ storage.Reader = &reader{}

func (r *reader) FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	defer r.lock()()
	res, ok := r.processInstances.get(processInstanceKey)
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (r *reader) FindChildProcessInstances(ctx context.Context, parentProcessInstanceKey int64) ([]runtime.ProcessInstance, error) {
	defer r.lock()()
	res := make([]runtime.ProcessInstance, 0)
	r.processInstances.each(func(pi runtime.ProcessInstance) {
		if pi.ParentProcessInstanceKey != nil && *pi.ParentProcessInstanceKey == parentProcessInstanceKey {
			res = append(res, pi)
		}
	})
	slices.SortFunc(res, func(a, b runtime.ProcessInstance) int { return cmp.Compare(a.Key, b.Key) })
	return res, nil
}

func (r *reader) FindActivityInstanceByKey(ctx context.Context, activityInstanceKey int64) (runtime.ActivityInstance, error) {
	defer r.lock()()
	res, ok := r.activityInstances.get(activityInstanceKey)
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (r *reader) FindActivityInstances(ctx context.Context, filter storage.ActivityInstanceFilter) ([]runtime.ActivityInstance, error) {
	defer r.lock()()
	res := make([]runtime.ActivityInstance, 0)
	r.activityInstances.each(func(ai runtime.ActivityInstance) {
		if filter.ProcessInstanceKey != 0 && ai.ProcessInstanceKey != filter.ProcessInstanceKey {
			return
		}
		if filter.ActivityGUID != "" && ai.ActivityGUID != filter.ActivityGUID {
			return
		}
		if filter.MIHostActivityInstanceKey != nil {
			if ai.MIHostActivityInstanceKey == nil || *ai.MIHostActivityInstanceKey != *filter.MIHostActivityInstanceKey {
				return
			}
		}
		if len(filter.States) > 0 && !slices.Contains(filter.States, ai.State) {
			return
		}
		res = append(res, ai)
	})
	slices.SortFunc(res, func(a, b runtime.ActivityInstance) int { return cmp.Compare(a.Key, b.Key) })
	return res, nil
}

func (r *reader) FindTaskByKey(ctx context.Context, taskKey int64) (runtime.TaskInstance, error) {
	defer r.lock()()
	res, ok := r.tasks.get(taskKey)
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (r *reader) FindTasksByActivityInstance(ctx context.Context, activityInstanceKey int64) ([]runtime.TaskInstance, error) {
	defer r.lock()()
	res := make([]runtime.TaskInstance, 0)
	r.tasks.each(func(task runtime.TaskInstance) {
		if task.ActivityInstanceKey == activityInstanceKey {
			res = append(res, task)
		}
	})
	slices.SortFunc(res, func(a, b runtime.TaskInstance) int { return cmp.Compare(a.Key, b.Key) })
	return res, nil
}

func (r *reader) FindTasks(ctx context.Context, query storage.TaskQuery) ([]runtime.TaskInstance, int, error) {
	defer r.lock()()
	res := make([]runtime.TaskInstance, 0)
	r.tasks.each(func(task runtime.TaskInstance) {
		if r.taskMatches(task, query) {
			res = append(res, task)
		}
	})
	slices.SortFunc(res, func(a, b runtime.TaskInstance) int { return cmp.Compare(b.Key, a.Key) })
	total := len(res)
	if query.Offset > 0 {
		res = res[min(query.Offset, len(res)):]
	}
	if query.Limit > 0 && len(res) > query.Limit {
		res = res[:query.Limit]
	}
	return res, total, nil
}

func (r *reader) taskMatches(task runtime.TaskInstance, query storage.TaskQuery) bool {
	if query.UserID != "" && task.AssignedToUserID != query.UserID {
		return false
	}
	if query.AppInstanceID != "" && task.AppInstanceID != query.AppInstanceID {
		return false
	}
	if query.ProcessGUID != "" && task.ProcessGUID != query.ProcessGUID {
		return false
	}
	if query.AppName != "" && !strings.Contains(task.AppName, query.AppName) {
		return false
	}
	if query.EndedByUserID != "" && task.EndedByUserID != query.EndedByUserID {
		return false
	}
	if len(query.TaskStates) > 0 && !slices.Contains(query.TaskStates, task.State) {
		return false
	}
	if query.EMailSent != nil && task.IsEMailSent != *query.EMailSent {
		return false
	}
	if len(query.ActivityStates) == 0 && !query.ExcludeCompletedHosts {
		return true
	}
	activity, ok := r.activityInstances.get(task.ActivityInstanceKey)
	if !ok {
		return false
	}
	if len(query.ActivityStates) > 0 && !slices.Contains(query.ActivityStates, activity.State) {
		return false
	}
	if query.ExcludeCompletedHosts && activity.MIHostActivityInstanceKey != nil {
		host, ok := r.activityInstances.get(*activity.MIHostActivityInstanceKey)
		if ok && host.State == runtime.ActivityStateCompleted {
			return false
		}
	}
	return true
}

func (r *reader) FindTransitionInstanceByKey(ctx context.Context, transitionInstanceKey int64) (runtime.TransitionInstance, error) {
	defer r.lock()()
	res, ok := r.transitionInstances.get(transitionInstanceKey)
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (r *reader) FindTransitionInstances(ctx context.Context, processInstanceKey int64) ([]runtime.TransitionInstance, error) {
	defer r.lock()()
	res := make([]runtime.TransitionInstance, 0)
	r.transitionInstances.each(func(t runtime.TransitionInstance) {
		if t.ProcessInstanceKey == processInstanceKey {
			res = append(res, t)
		}
	})
	slices.SortFunc(res, func(a, b runtime.TransitionInstance) int { return cmp.Compare(a.Key, b.Key) })
	return res, nil
}
