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
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/internal/appcontext"
	"github.com/pbinitiative/zenflow/pkg/ptr"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// CreatedEntities lists the keys of everything a step persisted.
type CreatedEntities struct {
	ProcessInstanceKeys    []int64
	ActivityInstanceKeys   []int64
	TaskKeys               []int64
	TransitionInstanceKeys []int64
}

// step is the state of one mediation step, shared by every mediator the walk creates.
type step struct {
	engine   *Engine
	tx       storage.Tx
	tasks    *taskManager
	runner   model.AppRunner
	resource *model.ActivityResource
	now      time.Time

	rootProcessKey   int64
	results          []MediatedResult
	created          CreatedEntities
	processCompleted bool
	endedProcesses   int64
}

func (engine *Engine) newStep(tx storage.Tx, runner model.AppRunner, resource *model.ActivityResource) *step {
	if resource == nil {
		resource = &model.ActivityResource{}
	}
	if runner.NextPerformerType == "" {
		runner.NextPerformerType = model.NextPerformerTypeSpecific
	}
	resource.AppRunner = runner
	s := &step{
		engine:   engine,
		tx:       tx,
		runner:   runner,
		resource: resource,
		now:      engine.now(),
	}
	s.tasks = &taskManager{step: s}
	return s
}

func (s *step) addResult(feedback Feedback, format string, a ...any) {
	s.results = append(s.results, MediatedResult{Feedback: feedback, Message: fmt.Sprintf(format, a...)})
}

func (s *step) mediator(pm model.ProcessModel, process *runtime.ProcessInstance) *nodeMediator {
	return &nodeMediator{
		step:    s,
		model:   pm,
		process: process,
		logger:  s.engine.logger.Named("node-mediator").With("processInstanceKey", process.Key),
	}
}

// performerPredicate keeps a human successor in the matched tree only when it can be staffed.
func (s *step) performerPredicate(resource *model.ActivityResource, activity *model.Activity) bool {
	if resource.AppRunner.NextPerformerType != model.NextPerformerTypeSpecific {
		return true
	}
	switch activity.Type {
	case model.ActivityTypeTask, model.ActivityTypeMultipleInstance:
		_, ok := resource.NextActivityPerformers[activity.GUID]
		return ok
	}
	return true
}

// nodeMediator walks the successors of one process instance.
type nodeMediator struct {
	step    *step
	model   model.ProcessModel
	process *runtime.ProcessInstance
	logger  hclog.Logger
}

// ContinueForward advances the process from an activity instance that just finished.
// With isJump the matched tree is replaced by a single branch to toActivityGUID.
func (m *nodeMediator) ContinueForward(ctx context.Context, fromActivity *model.Activity, fromInstance runtime.ActivityInstance, isJump bool, toActivityGUID string) error {
	ctx = appcontext.WithExecutionKey(ctx, m.process.Key)

	var root *model.NextActivityComponent
	if isJump {
		to, err := m.model.GetActivity(toActivityGUID)
		if err != nil {
			return fmt.Errorf("failed to find jump target %s: %w", toActivityGUID, err)
		}
		if to.Type.IsAutoCompleted() {
			return newEngineErrorf("jump target %s is a %s, only human-facing nodes can be jumped to", to.GUID, to.Type)
		}
		transition := m.model.FindTransition(fromActivity.GUID, to.GUID)
		if transition == nil {
			transition = &model.Transition{
				FromActivityGUID: fromActivity.GUID,
				ToActivityGUID:   to.GUID,
				Direction:        model.TransitionDirectionForward,
			}
		}
		root = model.NewRootComponent()
		root.Add(&model.NextActivityComponent{Activity: to, Transition: transition})
	} else {
		match, err := m.model.MatchSuccessors(ctx, fromActivity.GUID, m.step.resource.Conditions, m.step.resource, m.step.performerPredicate)
		if err != nil {
			return fmt.Errorf("failed to match successors of activity %s: %w", fromActivity.GUID, err)
		}
		if match.Type != model.MatchedTypeSuccessed || match.Root == nil || !match.Root.HasChildren() {
			return fmt.Errorf("%w: activity %s of process %s: %s", ErrNoMatchedSuccessor, fromActivity.GUID, m.model.ProcessGUID(), match.Message)
		}
		root = match.Root
	}

	if err := m.step.engine.actions.ExecuteBefore(ctx, fromActivity.ActionsFiredAt(model.FireTypeBefore), m.delegate(fromActivity)); err != nil {
		return &ActionError{ActivityGUID: fromActivity.GUID, Err: err}
	}

	for _, comp := range root.Children {
		if err := m.AdvanceNode(ctx, fromActivity, fromInstance, comp, isJump); err != nil {
			return err
		}
	}

	ends := make([]*model.Activity, 0)
	for _, comp := range root.Children {
		if comp.Activity.Type == model.ActivityTypeEnd {
			ends = append(ends, comp.Activity)
		}
	}
	if len(ends) == 0 {
		ends = append(ends, fromActivity)
	}
	for _, activity := range ends {
		if err := m.step.engine.actions.ExecuteAfter(ctx, activity.ActionsFiredAt(model.FireTypeAfter), m.delegate(activity)); err != nil {
			return &ActionError{ActivityGUID: activity.GUID, Err: err}
		}
	}
	return nil
}

// AdvanceNode instantiates one branch of the matched tree, recursing through gateways and intermediate events.
func (m *nodeMediator) AdvanceNode(ctx context.Context, fromActivity *model.Activity, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) error {
	activity := comp.Activity
	if comp.HasChildren() && !activity.Type.IsAutoCompleted() {
		return &UnknownNodeTypeError{ActivityGUID: activity.GUID, ActivityType: string(activity.Type)}
	}

	switch activity.Type {
	case model.ActivityTypeGateway, model.ActivityTypeIntermediateEvent,
		model.ActivityTypeTask, model.ActivityTypeMultipleInstance,
		model.ActivityTypeSubProcess, model.ActivityTypeEnd:
	default:
		return &UnknownNodeTypeError{ActivityGUID: activity.GUID, ActivityType: string(activity.Type)}
	}

	if fromInstance.State != runtime.ActivityStateCompleted {
		m.waitForPredecessor(fromActivity, activity)
		return nil
	}

	switch activity.Type {
	case model.ActivityTypeGateway:
		gateway, waiting, err := m.completeGateway(ctx, fromInstance, comp, isJump)
		if err != nil {
			return err
		}
		if waiting {
			return nil
		}
		for _, child := range comp.Children {
			if err := m.AdvanceNode(ctx, activity, gateway, child, isJump); err != nil {
				return err
			}
		}
	case model.ActivityTypeIntermediateEvent:
		event, ok, err := m.completeEvent(ctx, fromInstance, comp, isJump)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, child := range comp.Children {
			if err := m.AdvanceNode(ctx, activity, event, child, isJump); err != nil {
				return err
			}
		}
	case model.ActivityTypeTask:
		return m.createTaskNode(ctx, fromInstance, comp, isJump)
	case model.ActivityTypeMultipleInstance:
		return m.createMultipleInstance(ctx, fromInstance, comp, isJump)
	case model.ActivityTypeSubProcess:
		return m.startSubProcess(ctx, fromInstance, comp, isJump)
	case model.ActivityTypeEnd:
		return m.completeEnd(ctx, fromInstance, comp, isJump)
	}
	return nil
}

func (m *nodeMediator) waitForPredecessor(fromActivity *model.Activity, activity *model.Activity) {
	if IsWaitingOneOfJoin(fromActivity.GatewayDirection) {
		m.step.addResult(FeedbackNeedOtherGatewayBranchesToJoin, "activity %s waits for other branches of %s", activity.GUID, fromActivity.GUID)
	} else {
		m.step.addResult(FeedbackOtherUnknownReasonToDebug, "activity %s is not reachable, predecessor %s is not completed", activity.GUID, fromActivity.GUID)
	}
	m.logger.Debug("branch waits for its predecessor", "activityGUID", activity.GUID, "fromActivityGUID", fromActivity.GUID)
}

// createTaskNode creates the activity instance of a task node and one task per performer.
func (m *nodeMediator) createTaskNode(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) error {
	performers, err := m.step.resolvePerformers(m.model, comp.Activity)
	if err != nil {
		return err
	}
	ai := m.newActivityInstance(comp.Activity, runtime.ActivityStateReady)
	ai.AssignedToUserIDs = performers.UserIDs()
	ai.AssignedToUserNames = performers.UserNames()
	if err := m.saveActivityInstance(ctx, ai); err != nil {
		return err
	}
	for _, performer := range performers {
		if _, err := m.step.tasks.createTask(ctx, ai, performer, nil); err != nil {
			return err
		}
	}
	return m.recordTransition(ctx, fromInstance, ai, comp.Transition, isJump)
}

// completeEnd records the end node and finishes the process instance.
// A finished sub-process completes its invoking activity and resumes the parent.
func (m *nodeMediator) completeEnd(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) error {
	ai := m.newActivityInstance(comp.Activity, runtime.ActivityStateCompleted)
	if err := m.saveActivityInstance(ctx, ai); err != nil {
		return err
	}
	if err := m.recordTransition(ctx, fromInstance, ai, comp.Transition, isJump); err != nil {
		return err
	}

	m.process.State = runtime.ProcessStateCompleted
	m.process.EndedByUserID = m.step.runner.UserID
	m.process.EndedByUserName = m.step.runner.UserName
	m.process.EndedAt = ptr.To(m.step.now)
	if err := m.step.tx.SaveProcessInstance(ctx, *m.process); err != nil {
		return fmt.Errorf("failed to complete process instance %d at %s: %w", m.process.Key, comp.Activity.GUID, err)
	}
	m.step.endedProcesses++
	if m.process.Key == m.step.rootProcessKey {
		m.step.processCompleted = true
	}
	m.logger.Debug("process instance completed", "endActivityGUID", comp.Activity.GUID)

	if m.process.ParentProcessInstanceKey == nil || m.process.InvokedActivityInstanceKey == nil {
		return nil
	}
	return m.resumeParent(ctx)
}

func (m *nodeMediator) newActivityInstance(activity *model.Activity, state runtime.ActivityState) runtime.ActivityInstance {
	ai := runtime.ActivityInstance{
		Key:                m.step.engine.generateKey(),
		ProcessInstanceKey: m.process.Key,
		AppName:            m.process.AppName,
		AppInstanceID:      m.process.AppInstanceID,
		ProcessGUID:        m.process.ProcessGUID,
		ActivityGUID:       activity.GUID,
		ActivityName:       activity.Name,
		ActivityType:       activity.Type,
		GatewayDirection:   activity.GatewayDirection,
		State:              state,
		CreatedByUserID:    m.step.runner.UserID,
		CreatedByUserName:  m.step.runner.UserName,
		CreatedAt:          m.step.now,
	}
	if state == runtime.ActivityStateCompleted {
		m.step.markEnded(&ai)
	}
	return ai
}

func (m *nodeMediator) saveActivityInstance(ctx context.Context, ai runtime.ActivityInstance) error {
	if err := m.step.tx.SaveActivityInstance(ctx, ai); err != nil {
		return fmt.Errorf("failed to save activity instance of %s: %w", ai.ActivityGUID, err)
	}
	m.step.created.ActivityInstanceKeys = append(m.step.created.ActivityInstanceKeys, ai.Key)
	return nil
}

// recordTransition stores the audit record of one traversed edge.
func (m *nodeMediator) recordTransition(ctx context.Context, from runtime.ActivityInstance, to runtime.ActivityInstance, transition *model.Transition, isJump bool) error {
	ti := runtime.TransitionInstance{
		Key:                     m.step.engine.generateKey(),
		ProcessInstanceKey:      m.process.Key,
		FromActivityInstanceKey: from.Key,
		FromActivityGUID:        from.ActivityGUID,
		ToActivityInstanceKey:   to.Key,
		ToActivityGUID:          to.ActivityGUID,
		TransitionType:          runtime.TransitionTypeForward,
		FlyingType:              runtime.FlyingTypeNotFlying,
		CreatedByUserID:         m.step.runner.UserID,
		CreatedByUserName:       m.step.runner.UserName,
		CreatedAt:               m.step.now,
	}
	if transition != nil {
		ti.TransitionGUID = transition.GUID
		if transition.Direction == model.TransitionDirectionLoop {
			ti.TransitionType = runtime.TransitionTypeLoop
		}
	}
	if isJump {
		ti.FlyingType = runtime.FlyingTypeForwardFlying
	}
	if err := m.step.tx.SaveTransitionInstance(ctx, ti); err != nil {
		return fmt.Errorf("failed to record transition %s from %s to %s: %w", ti.TransitionGUID, from.ActivityGUID, to.ActivityGUID, err)
	}
	m.step.created.TransitionInstanceKeys = append(m.step.created.TransitionInstanceKeys, ti.Key)
	return nil
}

func (m *nodeMediator) delegate(activity *model.Activity) DelegateContext {
	return DelegateContext{
		AppInstanceID:      m.process.AppInstanceID,
		ProcessGUID:        m.process.ProcessGUID,
		ProcessInstanceKey: m.process.Key,
		ActivityGUID:       activity.GUID,
		ActivityName:       activity.Name,
		UserID:             m.step.runner.UserID,
		UserName:           m.step.runner.UserName,
		Conditions:         m.step.resource.Conditions,
	}
}

func (s *step) markEnded(ai *runtime.ActivityInstance) {
	ai.EndedByUserID = s.runner.UserID
	ai.EndedByUserName = s.runner.UserName
	ai.EndedAt = ptr.To(s.now)
}
