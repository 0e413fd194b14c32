// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package storagetest is the conformance suite every storage.Storage implementation runs.
package storagetest

import (
	"context"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	stdruntime "runtime"

	"github.com/pbinitiative/zenflow/pkg/ptr"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

type StorageTester struct {
	processInstance runtime.ProcessInstance
}

var keySeq = atomic.Int64{}

func init() {
	keySeq.Store(time.Now().UnixNano() / 1000)
}

func nextKey() int64 {
	return keySeq.Add(1)
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestProcessInstanceStorageWriter,
		st.TestProcessInstanceStorageReader,
		st.TestActivityInstanceStorageWriter,
		st.TestActivityInstanceStorageReader,
		st.TestTaskStorageWriter,
		st.TestTaskStorageReader,
		st.TestTaskQuery,
		st.TestTransitionInstanceStorage,
		st.TestTxIsolation,
		st.TestTxRollback,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func getProcessInstance(key int64) runtime.ProcessInstance {
	return runtime.ProcessInstance{
		Key:               key,
		ProcessGUID:       "storage-test-process",
		Version:           "1",
		AppName:           "storage-test-app",
		AppInstanceID:     "app-1",
		State:             runtime.ProcessStateRunning,
		CreatedByUserID:   "10",
		CreatedByUserName: "tester",
		CreatedAt:         now(),
	}
}

func getActivityInstance(key int64, processInstanceKey int64, guid string, state runtime.ActivityState) runtime.ActivityInstance {
	return runtime.ActivityInstance{
		Key:                 key,
		ProcessInstanceKey:  processInstanceKey,
		AppName:             "storage-test-app",
		AppInstanceID:       "app-1",
		ProcessGUID:         "storage-test-process",
		ActivityGUID:        guid,
		ActivityName:        "Activity " + guid,
		ActivityType:        model.ActivityTypeTask,
		State:               state,
		AssignedToUserIDs:   "10",
		AssignedToUserNames: "tester",
		CreatedByUserID:     "10",
		CreatedByUserName:   "tester",
		CreatedAt:           now(),
	}
}

func getTask(key int64, activity runtime.ActivityInstance, userID string, state runtime.TaskState) runtime.TaskInstance {
	return runtime.TaskInstance{
		Key:                 key,
		ActivityInstanceKey: activity.Key,
		ProcessInstanceKey:  activity.ProcessInstanceKey,
		AppName:             activity.AppName,
		AppInstanceID:       activity.AppInstanceID,
		ProcessGUID:         activity.ProcessGUID,
		ActivityGUID:        activity.ActivityGUID,
		ActivityName:        activity.ActivityName,
		AssignedToUserID:    userID,
		AssignedToUserName:  "user " + userID,
		State:               state,
		CreatedByUserID:     "10",
		CreatedByUserName:   "tester",
		CreatedAt:           now(),
	}
}

func commit(t *testing.T, s storage.Storage, fn func(tx storage.Tx)) {
	tx, err := s.Begin(t.Context())
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(t.Context()))
}

// PrepareTestData will prepare common data for the tests
func (st *StorageTester) PrepareTestData(s storage.Storage, t *testing.T) {
	st.processInstance = getProcessInstance(nextKey())
	commit(t, s, func(tx storage.Tx) {
		assert.NoError(t, tx.SaveProcessInstance(t.Context(), st.processInstance))
	})
}

func (st *StorageTester) TestProcessInstanceStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		pi := getProcessInstance(nextKey())
		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveProcessInstance(t.Context(), pi))
		})

		pi.State = runtime.ProcessStateCompleted
		pi.EndedAt = ptr.To(now())
		pi.EndedByUserID = "11"
		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveProcessInstance(t.Context(), pi))
		})

		found, err := s.FindProcessInstanceByKey(t.Context(), pi.Key)
		assert.NoError(t, err)
		assert.Equal(t, pi, found)

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.DeleteProcessInstance(t.Context(), pi.Key))
		})
		_, err = s.FindProcessInstanceByKey(t.Context(), pi.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestProcessInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		found, err := s.FindProcessInstanceByKey(t.Context(), st.processInstance.Key)
		assert.NoError(t, err)
		assert.Equal(t, st.processInstance, found)

		child := getProcessInstance(nextKey())
		child.ParentProcessInstanceKey = ptr.To(st.processInstance.Key)
		child.InvokedActivityInstanceKey = ptr.To(nextKey())
		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveProcessInstance(t.Context(), child))
		})

		children, err := s.FindChildProcessInstances(t.Context(), st.processInstance.Key)
		assert.NoError(t, err)
		assert.Equal(t, []runtime.ProcessInstance{child}, children)

		children, err = s.FindChildProcessInstances(t.Context(), child.Key)
		assert.NoError(t, err)
		assert.Empty(t, children)

		_, err = s.FindProcessInstanceByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestActivityInstanceStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		host := getActivityInstance(nextKey(), st.processInstance.Key, "mi", runtime.ActivityStateSuspended)
		host.ActivityType = model.ActivityTypeMultipleInstance
		host.ComplexType = model.ComplexTypeSignTogether
		host.MergeType = model.MergeTypeParallel
		host.CompareType = model.CompareTypePercentage
		host.CompleteOrder = ptr.To(0.5)
		host.AssignedToUserIDs = "1,2,3"
		host.AssignedToUserNames = "a,b,c"
		host.TokensRequired = 2
		host.TokensHad = 1

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), host))
		})
		found, err := s.FindActivityInstanceByKey(t.Context(), host.Key)
		assert.NoError(t, err)
		assert.Equal(t, host, found)

		host.State = runtime.ActivityStateCompleted
		host.EndedAt = ptr.To(now())
		host.EndedByUserID = "2"
		host.EndedByUserName = "b"
		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), host))
		})
		found, err = s.FindActivityInstanceByKey(t.Context(), host.Key)
		assert.NoError(t, err)
		assert.Equal(t, host, found)

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.DeleteActivityInstance(t.Context(), host.Key))
		})
		_, err = s.FindActivityInstanceByKey(t.Context(), host.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestActivityInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		pi := getProcessInstance(nextKey())
		host := getActivityInstance(nextKey(), pi.Key, "mi", runtime.ActivityStateSuspended)
		host.ActivityType = model.ActivityTypeMultipleInstance
		first := getActivityInstance(nextKey(), pi.Key, "mi", runtime.ActivityStateReady)
		first.MIHostActivityInstanceKey = ptr.To(host.Key)
		first.CompleteOrder = ptr.To(1.0)
		second := getActivityInstance(nextKey(), pi.Key, "mi", runtime.ActivityStateSuspended)
		second.MIHostActivityInstanceKey = ptr.To(host.Key)
		second.CompleteOrder = ptr.To(2.0)
		other := getActivityInstance(nextKey(), pi.Key, "other", runtime.ActivityStateCompleted)

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveProcessInstance(t.Context(), pi))
			// saved out of key order on purpose
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), other))
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), second))
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), first))
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), host))
		})

		all, err := s.FindActivityInstances(t.Context(), storage.ActivityInstanceFilter{ProcessInstanceKey: pi.Key})
		assert.NoError(t, err)
		assert.Equal(t, []runtime.ActivityInstance{host, first, second, other}, all)

		byGUID, err := s.FindActivityInstances(t.Context(), storage.ActivityInstanceFilter{ProcessInstanceKey: pi.Key, ActivityGUID: "other"})
		assert.NoError(t, err)
		assert.Equal(t, []runtime.ActivityInstance{other}, byGUID)

		children, err := s.FindActivityInstances(t.Context(), storage.ActivityInstanceFilter{MIHostActivityInstanceKey: ptr.To(host.Key)})
		assert.NoError(t, err)
		assert.Equal(t, []runtime.ActivityInstance{first, second}, children)

		suspended, err := s.FindActivityInstances(t.Context(), storage.ActivityInstanceFilter{
			MIHostActivityInstanceKey: ptr.To(host.Key),
			States:                    []runtime.ActivityState{runtime.ActivityStateSuspended},
		})
		assert.NoError(t, err)
		assert.Equal(t, []runtime.ActivityInstance{second}, suspended)

		none, err := s.FindActivityInstances(t.Context(), storage.ActivityInstanceFilter{ProcessInstanceKey: -1})
		assert.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	}
}

func (st *StorageTester) TestTaskStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		activity := getActivityInstance(nextKey(), st.processInstance.Key, "task", runtime.ActivityStateReady)
		original := getTask(nextKey(), activity, "1", runtime.TaskStateClosed)
		original.EndedAt = ptr.To(now())
		original.EndedByUserID = "1"
		original.EndedByUserName = "user 1"
		original.LastUpdatedAt = ptr.To(now())
		original.LastUpdatedByUserID = "1"
		original.LastUpdatedByUserName = "user 1"
		delegated := getTask(nextKey(), activity, "2", runtime.TaskStateToDo)
		delegated.EntrustedTaskKey = ptr.To(original.Key)
		delegated.IsEMailSent = true

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), activity))
			assert.NoError(t, tx.SaveTask(t.Context(), original))
			assert.NoError(t, tx.SaveTask(t.Context(), delegated))
		})

		found, err := s.FindTaskByKey(t.Context(), delegated.Key)
		assert.NoError(t, err)
		assert.Equal(t, delegated, found)
		found, err = s.FindTaskByKey(t.Context(), original.Key)
		assert.NoError(t, err)
		assert.Equal(t, original, found)

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.DeleteTask(t.Context(), original.Key))
		})
		_, err = s.FindTaskByKey(t.Context(), original.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestTaskStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		activity := getActivityInstance(nextKey(), st.processInstance.Key, "task", runtime.ActivityStateReady)
		first := getTask(nextKey(), activity, "1", runtime.TaskStateToDo)
		second := getTask(nextKey(), activity, "2", runtime.TaskStateReading)

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveActivityInstance(t.Context(), activity))
			assert.NoError(t, tx.SaveTask(t.Context(), second))
			assert.NoError(t, tx.SaveTask(t.Context(), first))
		})

		tasks, err := s.FindTasksByActivityInstance(t.Context(), activity.Key)
		assert.NoError(t, err)
		assert.Equal(t, []runtime.TaskInstance{first, second}, tasks)

		tasks, err = s.FindTasksByActivityInstance(t.Context(), -1)
		assert.NoError(t, err)
		assert.Empty(t, tasks)
	}
}

func (st *StorageTester) TestTaskQuery(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		appInstanceID := "query-" + time.Now().Format(time.RFC3339Nano)
		pi := getProcessInstance(nextKey())
		pi.AppInstanceID = appInstanceID

		ready := getActivityInstance(nextKey(), pi.Key, "ready", runtime.ActivityStateReady)
		ready.AppInstanceID = appInstanceID
		host := getActivityInstance(nextKey(), pi.Key, "mi", runtime.ActivityStateCompleted)
		host.AppInstanceID = appInstanceID
		child := getActivityInstance(nextKey(), pi.Key, "mi", runtime.ActivityStateReady)
		child.AppInstanceID = appInstanceID
		child.MIHostActivityInstanceKey = ptr.To(host.Key)
		done := getActivityInstance(nextKey(), pi.Key, "done", runtime.ActivityStateCompleted)
		done.AppInstanceID = appInstanceID

		t1 := getTask(nextKey(), ready, "1", runtime.TaskStateToDo)
		t2 := getTask(nextKey(), ready, "2", runtime.TaskStateToDo)
		t2.IsEMailSent = true
		t3 := getTask(nextKey(), child, "1", runtime.TaskStateToDo)
		t4 := getTask(nextKey(), done, "1", runtime.TaskStateCompleted)
		t4.EndedByUserID = "1"
		t5 := getTask(nextKey(), ready, "1", runtime.TaskStateClosed)

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveProcessInstance(t.Context(), pi))
			for _, ai := range []runtime.ActivityInstance{ready, host, child, done} {
				assert.NoError(t, tx.SaveActivityInstance(t.Context(), ai))
			}
			for _, task := range []runtime.TaskInstance{t1, t2, t3, t4, t5} {
				assert.NoError(t, tx.SaveTask(t.Context(), task))
			}
		})

		tasks, total, err := s.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: appInstanceID})
		assert.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Equal(t, []runtime.TaskInstance{t5, t4, t3, t2, t1}, tasks)

		tasks, total, err = s.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: appInstanceID, Offset: 1, Limit: 2})
		assert.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Equal(t, []runtime.TaskInstance{t4, t3}, tasks)

		tasks, total, err = s.FindTasks(t.Context(), storage.TaskQuery{
			AppInstanceID:         appInstanceID,
			UserID:                "1",
			ActivityStates:        []runtime.ActivityState{runtime.ActivityStateReady},
			TaskStates:            []runtime.TaskState{runtime.TaskStateToDo, runtime.TaskStateReading},
			ExcludeCompletedHosts: true,
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, []runtime.TaskInstance{t1}, tasks)

		tasks, _, err = s.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: appInstanceID, EMailSent: ptr.To(true)})
		assert.NoError(t, err)
		assert.Equal(t, []runtime.TaskInstance{t2}, tasks)

		tasks, _, err = s.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: appInstanceID, EndedByUserID: "1"})
		assert.NoError(t, err)
		assert.Equal(t, []runtime.TaskInstance{t4}, tasks)

		tasks, _, err = s.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: appInstanceID, AppName: "test-a", UserID: "2"})
		assert.NoError(t, err)
		assert.Equal(t, []runtime.TaskInstance{t2}, tasks)

		tasks, total, err = s.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: appInstanceID, AppName: "no-such-app"})
		assert.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, tasks)
	}
}

func (st *StorageTester) TestTransitionInstanceStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		pi := getProcessInstance(nextKey())
		forward := runtime.TransitionInstance{
			Key:                     nextKey(),
			ProcessInstanceKey:      pi.Key,
			TransitionGUID:          "t-1",
			FromActivityInstanceKey: nextKey(),
			FromActivityGUID:        "a",
			ToActivityInstanceKey:   nextKey(),
			ToActivityGUID:          "b",
			TransitionType:          runtime.TransitionTypeForward,
			FlyingType:              runtime.FlyingTypeNotFlying,
			CreatedByUserID:         "10",
			CreatedByUserName:       "tester",
			CreatedAt:               now(),
		}
		jump := forward
		jump.Key = nextKey()
		jump.TransitionType = runtime.TransitionTypeLoop
		jump.FlyingType = runtime.FlyingTypeForwardFlying

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveProcessInstance(t.Context(), pi))
			assert.NoError(t, tx.SaveTransitionInstance(t.Context(), jump))
			assert.NoError(t, tx.SaveTransitionInstance(t.Context(), forward))
		})

		found, err := s.FindTransitionInstanceByKey(t.Context(), jump.Key)
		assert.NoError(t, err)
		assert.Equal(t, jump, found)

		all, err := s.FindTransitionInstances(t.Context(), pi.Key)
		assert.NoError(t, err)
		assert.Equal(t, []runtime.TransitionInstance{forward, jump}, all)

		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.DeleteTransitionInstance(t.Context(), jump.Key))
		})
		_, err = s.FindTransitionInstanceByKey(t.Context(), jump.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestTxIsolation(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		activity := getActivityInstance(nextKey(), st.processInstance.Key, "isolated", runtime.ActivityStateReady)

		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		assert.NoError(t, tx.SaveActivityInstance(ctx, activity))

		// own writes are visible inside the transaction
		found, err := tx.FindActivityInstanceByKey(ctx, activity.Key)
		assert.NoError(t, err)
		assert.Equal(t, activity, found)

		// and invisible outside until commit
		_, err = s.FindActivityInstanceByKey(ctx, activity.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.NoError(t, tx.DeleteActivityInstance(ctx, activity.Key))
		_, err = tx.FindActivityInstanceByKey(ctx, activity.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		activity.State = runtime.ActivityStateRunning
		assert.NoError(t, tx.SaveActivityInstance(ctx, activity))
		require.NoError(t, tx.Commit(ctx))
		assert.NoError(t, tx.Rollback(ctx))

		found, err = s.FindActivityInstanceByKey(ctx, activity.Key)
		assert.NoError(t, err)
		assert.Equal(t, runtime.ActivityStateRunning, found.State)
	}
}

func (st *StorageTester) TestTxRollback(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		pi := getProcessInstance(nextKey())
		activity := getActivityInstance(nextKey(), pi.Key, "rolled-back", runtime.ActivityStateReady)
		task := getTask(nextKey(), activity, "1", runtime.TaskStateToDo)

		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		assert.NoError(t, tx.SaveProcessInstance(ctx, pi))
		assert.NoError(t, tx.SaveActivityInstance(ctx, activity))
		assert.NoError(t, tx.SaveTask(ctx, task))
		require.NoError(t, tx.Rollback(ctx))

		_, err = s.FindProcessInstanceByKey(ctx, pi.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindActivityInstanceByKey(ctx, activity.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindTaskByKey(ctx, task.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// the store accepts new transactions after a rollback
		commit(t, s, func(tx storage.Tx) {
			assert.NoError(t, tx.SaveProcessInstance(ctx, pi))
		})
		_, err = s.FindProcessInstanceByKey(ctx, pi.Key)
		assert.NoError(t, err)
	}
}
