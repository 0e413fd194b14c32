// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenflow/internal/log"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/ptr"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MediationResult is the outcome of one step that advanced a process.
type MediationResult struct {
	ProcessInstanceKey int64
	// Results holds every feedback produced by the walk in walk order.
	Results []MediatedResult
	// Feedback is the first non-empty feedback, FeedbackNone when every branch advanced.
	Feedback         Feedback
	Created          CreatedEntities
	ProcessCompleted bool
}

func (s *step) result() MediationResult {
	return MediationResult{
		ProcessInstanceKey: s.rootProcessKey,
		Results:            s.results,
		Feedback:           firstFeedback(s.results),
		Created:            s.created,
		ProcessCompleted:   s.processCompleted,
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordStep updates the engine metrics after a committed step.
func (engine *Engine) recordStep(ctx context.Context, s *step, res MediationResult) {
	started := int64(len(res.Created.ProcessInstanceKeys))
	engine.metrics.ProcessesStarted.Add(ctx, started)
	engine.metrics.ProcessesEnded.Add(ctx, s.endedProcesses)
	engine.metrics.ProcessesRunning.Add(ctx, started-s.endedProcesses)
	engine.metrics.TasksCreated.Add(ctx, int64(len(res.Created.TaskKeys)))
	if res.Feedback != FeedbackNone {
		engine.metrics.WaitStates.Add(ctx, 1)
		log.Debugf(ctx, "step of process instance %d ended with feedback %s", res.ProcessInstanceKey, res.Feedback)
	}
}

func (engine *Engine) stepFailed(ctx context.Context, operation string, key int64, err error) {
	engine.metrics.MediationsFailed.Add(ctx, 1)
	var unknown *UnknownNodeTypeError
	if errors.As(err, &unknown) {
		engine.logger.Error("step rolled back", "operation", operation, "key", key, "feedback", unknown.Feedback(), "error", err)
		return
	}
	engine.logger.Error("step rolled back", "operation", operation, "key", key, "error", err)
}

// StartProcess creates a process instance for runner.ProcessGUID and walks it from its start node.
func (engine *Engine) StartProcess(ctx context.Context, runner model.AppRunner, resource *model.ActivityResource) (res MediationResult, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("start-process:%s", runner.ProcessGUID), trace.WithAttributes(
		attribute.String(otelPkg.AttributeProcessGUID, runner.ProcessGUID),
		attribute.String(otelPkg.AttributeAppInstanceID, runner.AppInstanceID),
		attribute.String(otelPkg.AttributeUserID, runner.UserID),
	))
	defer func() { finishSpan(span, retErr) }()

	if err := validatePerformerType(runner.NextPerformerType); err != nil {
		return res, err
	}
	pm, err := engine.getModel(ctx, runner.ProcessGUID, runner.Version)
	if err != nil {
		return res, errors.Join(newEngineErrorf("no process with guid=%s was found", runner.ProcessGUID), err)
	}

	var s *step
	err = engine.runInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		s = engine.newStep(tx, runner, resource)
		pi, err := s.createProcessInstance(ctx, pm, runner.AppName, runner.AppInstanceID)
		if err != nil {
			return err
		}
		s.rootProcessKey = pi.Key
		if err := s.startWalk(ctx, pm, &pi); err != nil {
			return fmt.Errorf("failed to start process %s: %w", pm.ProcessGUID(), err)
		}
		return nil
	})
	if err != nil {
		engine.stepFailed(ctx, "start-process", 0, err)
		return res, err
	}
	res = s.result()
	span.SetAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, res.ProcessInstanceKey),
		attribute.String(otelPkg.SpanStatusFeedback, string(res.Feedback)),
	)
	engine.recordStep(ctx, s, res)
	return res, nil
}

// CompleteTask completes the acting user's task and advances the process.
func (engine *Engine) CompleteTask(ctx context.Context, taskKey int64, runner model.AppRunner, resource *model.ActivityResource) (MediationResult, error) {
	return engine.completeTask(ctx, "complete-task", taskKey, runner, resource, false, "")
}

// Jump completes the task and continues at toActivityGUID instead of the matched successors.
func (engine *Engine) Jump(ctx context.Context, taskKey int64, toActivityGUID string, runner model.AppRunner, resource *model.ActivityResource) (MediationResult, error) {
	return engine.completeTask(ctx, "jump", taskKey, runner, resource, true, toActivityGUID)
}

func (engine *Engine) completeTask(ctx context.Context, name string, taskKey int64, runner model.AppRunner, resource *model.ActivityResource, isJump bool, toActivityGUID string) (res MediationResult, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("%s:%d", name, taskKey), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeTaskKey, taskKey),
		attribute.String(otelPkg.AttributeUserID, runner.UserID),
	))
	defer func() { finishSpan(span, retErr) }()

	if err := validatePerformerType(runner.NextPerformerType); err != nil {
		return res, err
	}

	var s *step
	err := engine.runInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		s = engine.newStep(tx, runner, resource)
		task, err := tx.FindTaskByKey(ctx, taskKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to find task with key: %d", taskKey), err)
		}
		if err := ownTask(task, runner); err != nil {
			return err
		}
		s.rootProcessKey = task.ProcessInstanceKey

		ai, err := tx.FindActivityInstanceByKey(ctx, task.ActivityInstanceKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to find activity instance of task %d", taskKey), err)
		}
		pi, err := tx.FindProcessInstanceByKey(ctx, task.ProcessInstanceKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to find process instance with key: %d", task.ProcessInstanceKey), err)
		}
		if pi.State != runtime.ProcessStateRunning {
			return newEngineErrorf("process instance %d is %s", pi.Key, pi.State)
		}
		if err := activeActivity(ai); err != nil {
			return err
		}
		pm, err := engine.getModel(ctx, pi.ProcessGUID, pi.Version)
		if err != nil {
			return err
		}
		activity, err := pm.GetActivity(ai.ActivityGUID)
		if err != nil {
			return fmt.Errorf("failed to find activity %s of process %s: %w", ai.ActivityGUID, pi.ProcessGUID, err)
		}

		from, proceed, err := s.completeActivity(ctx, task, ai, isJump)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
		if err := s.mediator(pm, &pi).ContinueForward(ctx, activity, from, isJump, toActivityGUID); err != nil {
			return fmt.Errorf("failed to continue process instance %d from %s: %w", pi.Key, activity.GUID, err)
		}
		return nil
	})
	if err != nil {
		engine.stepFailed(ctx, name, taskKey, err)
		return res, err
	}
	res = s.result()
	span.SetAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, res.ProcessInstanceKey),
		attribute.String(otelPkg.SpanStatusFeedback, string(res.Feedback)),
	)
	engine.metrics.TasksCompleted.Add(ctx, 1)
	engine.recordStep(ctx, s, res)
	return res, nil
}

// updateTask runs fn on the task inside a transaction and returns its result.
func (engine *Engine) updateTask(ctx context.Context, name string, taskKey int64, runner model.AppRunner, fn func(ctx context.Context, s *step, task runtime.TaskInstance) (runtime.TaskInstance, error)) (res runtime.TaskInstance, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("%s:%d", name, taskKey), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeTaskKey, taskKey),
		attribute.String(otelPkg.AttributeUserID, runner.UserID),
	))
	defer func() { finishSpan(span, retErr) }()

	err := engine.runInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		s := engine.newStep(tx, runner, nil)
		task, err := tx.FindTaskByKey(ctx, taskKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to find task with key: %d", taskKey), err)
		}
		res, err = fn(ctx, s, task)
		return err
	})
	return res, err
}

// ReadTask marks the acting user's task as being read.
func (engine *Engine) ReadTask(ctx context.Context, taskKey int64, runner model.AppRunner) (runtime.TaskInstance, error) {
	return engine.updateTask(ctx, "read-task", taskKey, runner, func(ctx context.Context, s *step, task runtime.TaskInstance) (runtime.TaskInstance, error) {
		if err := ownTask(task, runner); err != nil {
			return task, err
		}
		return s.tasks.markRead(ctx, task)
	})
}

func (engine *Engine) WithdrawTask(ctx context.Context, taskKey int64, runner model.AppRunner) (runtime.TaskInstance, error) {
	return engine.updateTask(ctx, "withdraw-task", taskKey, runner, func(ctx context.Context, s *step, task runtime.TaskInstance) (runtime.TaskInstance, error) {
		return s.tasks.withdraw(ctx, task)
	})
}

func (engine *Engine) SendBackTask(ctx context.Context, taskKey int64, runner model.AppRunner) (runtime.TaskInstance, error) {
	return engine.updateTask(ctx, "send-back-task", taskKey, runner, func(ctx context.Context, s *step, task runtime.TaskInstance) (runtime.TaskInstance, error) {
		return s.tasks.sendBack(ctx, task)
	})
}

// EntrustTask closes the task and returns the new task created for the delegate.
func (engine *Engine) EntrustTask(ctx context.Context, delegation Delegation) (runtime.TaskInstance, error) {
	return engine.updateTask(ctx, "entrust-task", delegation.TaskKey, delegation.Runner, func(ctx context.Context, s *step, task runtime.TaskInstance) (runtime.TaskInstance, error) {
		created, err := s.tasks.entrust(ctx, task, delegation.Delegate)
		if err == nil {
			engine.metrics.TasksCreated.Add(ctx, 1)
		}
		return created, err
	})
}

// SetTaskEMailSent records that the assignee was notified about the task.
func (engine *Engine) SetTaskEMailSent(ctx context.Context, taskKey int64) error {
	_, err := engine.updateTask(ctx, "email-sent", taskKey, model.AppRunner{}, func(ctx context.Context, s *step, task runtime.TaskInstance) (runtime.TaskInstance, error) {
		task.IsEMailSent = true
		if err := s.tx.SaveTask(ctx, task); err != nil {
			return task, fmt.Errorf("failed to mark task %d notified: %w", task.Key, err)
		}
		return task, nil
	})
	return err
}

// IsLastTask reports whether completing the task would satisfy the quorum of its activity.
func (engine *Engine) IsLastTask(ctx context.Context, taskKey int64) (bool, error) {
	var last bool
	_, err := engine.updateTask(ctx, "is-last-task", taskKey, model.AppRunner{}, func(ctx context.Context, s *step, task runtime.TaskInstance) (runtime.TaskInstance, error) {
		var err error
		last, err = s.tasks.isLastTask(ctx, task)
		return task, err
	})
	return last, err
}

// FindTasks returns one page of tasks matching the query and the total number of matches.
func (engine *Engine) FindTasks(ctx context.Context, query storage.TaskQuery) ([]runtime.TaskInstance, int, error) {
	return engine.store.FindTasks(ctx, query)
}

// FindReadyTasks lists live tasks on Ready or Running activities, skipping children of completed hosts.
func (engine *Engine) FindReadyTasks(ctx context.Context, query storage.TaskQuery) ([]runtime.TaskInstance, int, error) {
	query.TaskStates = []runtime.TaskState{runtime.TaskStateToDo, runtime.TaskStateReading}
	query.ActivityStates = []runtime.ActivityState{runtime.ActivityStateReady, runtime.ActivityStateRunning}
	query.ExcludeCompletedHosts = true
	return engine.store.FindTasks(ctx, query)
}

// FindTasksEMailUnsent lists live tasks on Ready activities whose assignee was not notified yet.
func (engine *Engine) FindTasksEMailUnsent(ctx context.Context) ([]runtime.TaskInstance, error) {
	tasks, _, err := engine.store.FindTasks(ctx, storage.TaskQuery{
		TaskStates:     []runtime.TaskState{runtime.TaskStateToDo, runtime.TaskStateReading},
		ActivityStates: []runtime.ActivityState{runtime.ActivityStateReady},
		EMailSent:      ptr.To(false),
	})
	return tasks, err
}

// FindTaskOfMine returns the live task of userID on the activity instance.
func (engine *Engine) FindTaskOfMine(ctx context.Context, activityInstanceKey int64, userID string) (runtime.TaskInstance, error) {
	tasks, err := engine.store.FindTasksByActivityInstance(ctx, activityInstanceKey)
	if err != nil {
		return runtime.TaskInstance{}, err
	}
	for _, task := range tasks {
		if task.AssignedToUserID == userID && !task.State.IsFinal() {
			return task, nil
		}
	}
	return runtime.TaskInstance{}, fmt.Errorf("task of user %s on activity instance %d: %w", userID, activityInstanceKey, storage.ErrNotFound)
}

func (engine *Engine) FindProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	return engine.store.FindProcessInstanceByKey(ctx, processInstanceKey)
}

func (engine *Engine) FindActivityInstances(ctx context.Context, processInstanceKey int64) ([]runtime.ActivityInstance, error) {
	return engine.store.FindActivityInstances(ctx, storage.ActivityInstanceFilter{ProcessInstanceKey: processInstanceKey})
}

func (engine *Engine) FindTransitionInstances(ctx context.Context, processInstanceKey int64) ([]runtime.TransitionInstance, error) {
	return engine.store.FindTransitionInstances(ctx, processInstanceKey)
}

// FindChildProcessInstances returns the sub-process instances started by a process instance.
func (engine *Engine) FindChildProcessInstances(ctx context.Context, processInstanceKey int64) ([]runtime.ProcessInstance, error) {
	return engine.store.FindChildProcessInstances(ctx, processInstanceKey)
}
