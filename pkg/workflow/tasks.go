// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenflow/pkg/ptr"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// Delegation hands a live task over to another user.
type Delegation struct {
	TaskKey int64
	// Runner is the user handing the task over.
	Runner   model.AppRunner
	Delegate model.Performer
}

// taskManager owns task state transitions within one step.
type taskManager struct {
	step *step
}

func (tm *taskManager) createTask(ctx context.Context, ai runtime.ActivityInstance, performer model.Performer, entrustedTaskKey *int64) (runtime.TaskInstance, error) {
	s := tm.step
	task := runtime.TaskInstance{
		Key:                 s.engine.generateKey(),
		ActivityInstanceKey: ai.Key,
		ProcessInstanceKey:  ai.ProcessInstanceKey,
		AppName:             ai.AppName,
		AppInstanceID:       ai.AppInstanceID,
		ProcessGUID:         ai.ProcessGUID,
		ActivityGUID:        ai.ActivityGUID,
		ActivityName:        ai.ActivityName,
		AssignedToUserID:    performer.UserID,
		AssignedToUserName:  performer.UserName,
		State:               runtime.TaskStateToDo,
		IsEMailSent:         false,
		CreatedByUserID:     s.runner.UserID,
		CreatedByUserName:   s.runner.UserName,
		CreatedAt:           s.now,
		EntrustedTaskKey:    entrustedTaskKey,
	}
	if err := s.tx.SaveTask(ctx, task); err != nil {
		return task, fmt.Errorf("failed to create task of activity %s for user %s: %w", ai.ActivityGUID, performer.UserID, err)
	}
	s.created.TaskKeys = append(s.created.TaskKeys, task.Key)
	return task, nil
}

func (tm *taskManager) touch(task *runtime.TaskInstance) {
	task.LastUpdatedByUserID = tm.step.runner.UserID
	task.LastUpdatedByUserName = tm.step.runner.UserName
	task.LastUpdatedAt = ptr.To(tm.step.now)
}

// markRead moves the task to Reading and its activity from Ready to Running.
func (tm *taskManager) markRead(ctx context.Context, task runtime.TaskInstance) (runtime.TaskInstance, error) {
	if task.State.IsFinal() {
		return task, fmt.Errorf("%w: task %d is %s", ErrTaskStateFinal, task.Key, task.State)
	}
	task.State = runtime.TaskStateReading
	tm.touch(&task)
	if err := tm.step.tx.SaveTask(ctx, task); err != nil {
		return task, fmt.Errorf("failed to mark task %d read: %w", task.Key, err)
	}

	ai, err := tm.step.tx.FindActivityInstanceByKey(ctx, task.ActivityInstanceKey)
	if err != nil {
		return task, fmt.Errorf("failed to find activity instance of task %d: %w", task.Key, err)
	}
	if ai.State == runtime.ActivityStateReady {
		ai.State = runtime.ActivityStateRunning
		if err := tm.step.tx.SaveActivityInstance(ctx, ai); err != nil {
			return task, fmt.Errorf("failed to mark activity %s running: %w", ai.ActivityGUID, err)
		}
	}
	return task, nil
}

// finish moves a live task into a terminal state and stamps the ended-by identity.
func (tm *taskManager) finish(ctx context.Context, task runtime.TaskInstance, state runtime.TaskState) (runtime.TaskInstance, error) {
	if task.State.IsFinal() {
		return task, fmt.Errorf("%w: task %d is %s", ErrTaskStateFinal, task.Key, task.State)
	}
	task.State = state
	tm.touch(&task)
	task.EndedByUserID = tm.step.runner.UserID
	task.EndedByUserName = tm.step.runner.UserName
	task.EndedAt = ptr.To(tm.step.now)
	if err := tm.step.tx.SaveTask(ctx, task); err != nil {
		return task, fmt.Errorf("failed to set task %d to %s: %w", task.Key, state, err)
	}
	return task, nil
}

func (tm *taskManager) complete(ctx context.Context, task runtime.TaskInstance) (runtime.TaskInstance, error) {
	return tm.finish(ctx, task, runtime.TaskStateCompleted)
}

func (tm *taskManager) withdraw(ctx context.Context, task runtime.TaskInstance) (runtime.TaskInstance, error) {
	return tm.finish(ctx, task, runtime.TaskStateWithdrawn)
}

func (tm *taskManager) sendBack(ctx context.Context, task runtime.TaskInstance) (runtime.TaskInstance, error) {
	return tm.finish(ctx, task, runtime.TaskStateSendBacked)
}

// closeLiveTasks closes every live task of the activity instance except exceptKey.
func (tm *taskManager) closeLiveTasks(ctx context.Context, activityInstanceKey int64, exceptKey int64) error {
	tasks, err := tm.step.tx.FindTasksByActivityInstance(ctx, activityInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to find tasks of activity instance %d: %w", activityInstanceKey, err)
	}
	for _, task := range tasks {
		if task.Key == exceptKey || task.State.IsFinal() {
			continue
		}
		if _, err := tm.finish(ctx, task, runtime.TaskStateClosed); err != nil {
			return err
		}
	}
	return nil
}

// entrust closes the task and creates a new one for the delegate on the same activity instance.
func (tm *taskManager) entrust(ctx context.Context, task runtime.TaskInstance, delegate model.Performer) (runtime.TaskInstance, error) {
	if delegate.UserID == "" {
		return task, newEngineErrorf("task %d cannot be entrusted to an empty user", task.Key)
	}
	if task.State.IsFinal() {
		return task, fmt.Errorf("%w: task %d is %s", ErrTaskStateFinal, task.Key, task.State)
	}
	ai, err := tm.step.tx.FindActivityInstanceByKey(ctx, task.ActivityInstanceKey)
	if err != nil {
		return task, fmt.Errorf("failed to find activity instance of task %d: %w", task.Key, err)
	}
	if err := activeActivity(ai); err != nil {
		return task, fmt.Errorf("task %d cannot be entrusted: %w", task.Key, err)
	}

	roster := model.PerformerList{{UserID: delegate.UserID, UserName: delegate.UserName}}
	ai.AssignedToUserIDs = appendRoster(ai.AssignedToUserIDs, roster.UserIDs())
	ai.AssignedToUserNames = appendRoster(ai.AssignedToUserNames, roster.UserNames())
	// the delegate has not read the task yet
	ai.State = runtime.ActivityStateReady
	if err := tm.step.tx.SaveActivityInstance(ctx, ai); err != nil {
		return task, fmt.Errorf("failed to add delegate to activity %s: %w", ai.ActivityGUID, err)
	}
	if _, err := tm.finish(ctx, task, runtime.TaskStateClosed); err != nil {
		return task, err
	}
	return tm.createTask(ctx, ai, delegate, ptr.To(task.Key))
}

func appendRoster(roster, value string) string {
	if roster == "" {
		return value
	}
	return roster + "," + value
}

// isLastTask evaluates the quorum of the task's activity. Tasks outside a multi-instance node are always last.
func (tm *taskManager) isLastTask(ctx context.Context, task runtime.TaskInstance) (bool, error) {
	ai, err := tm.step.tx.FindActivityInstanceByKey(ctx, task.ActivityInstanceKey)
	if err != nil {
		return false, fmt.Errorf("failed to find activity instance of task %d: %w", task.Key, err)
	}
	if !ai.IsMultipleInstanceChild() {
		return true, nil
	}
	if activeActivity(ai) != nil {
		return false, nil
	}
	host, siblings, err := tm.hostAndSiblings(ctx, ai)
	if err != nil {
		return false, err
	}
	if !host.State.IsOpen() {
		return false, nil
	}
	return isLastCompletion(host, ai, siblings, task.AssignedToUserID)
}

func (tm *taskManager) hostAndSiblings(ctx context.Context, child runtime.ActivityInstance) (runtime.ActivityInstance, []runtime.ActivityInstance, error) {
	host, err := tm.step.tx.FindActivityInstanceByKey(ctx, *child.MIHostActivityInstanceKey)
	if err != nil {
		return host, nil, fmt.Errorf("failed to find multi-instance host of %s: %w", child.ActivityGUID, err)
	}
	siblings, err := tm.step.tx.FindActivityInstances(ctx, storage.ActivityInstanceFilter{
		ProcessInstanceKey:        child.ProcessInstanceKey,
		MIHostActivityInstanceKey: ptr.To(host.Key),
	})
	if err != nil {
		return host, nil, fmt.Errorf("failed to find children of multi-instance %s: %w", host.ActivityGUID, err)
	}
	return host, siblings, nil
}
