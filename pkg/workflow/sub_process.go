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
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// startSubProcess suspends the invoking node and walks the sub-process from its start node
// within the same step.
func (m *nodeMediator) startSubProcess(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) error {
	activity := comp.Activity
	if activity.SubProcessGUID == "" {
		return newEngineErrorf("sub-process activity %s references no process", activity.GUID)
	}
	invoking := m.newActivityInstance(activity, runtime.ActivityStateSuspended)
	if err := m.saveActivityInstance(ctx, invoking); err != nil {
		return err
	}
	if err := m.recordTransition(ctx, fromInstance, invoking, comp.Transition, isJump); err != nil {
		return err
	}

	childModel, err := m.step.engine.getModel(ctx, activity.SubProcessGUID, activity.SubProcessVersion)
	if err != nil {
		return fmt.Errorf("failed to start sub-process of activity %s: %w", activity.GUID, err)
	}
	child, err := m.step.createProcessInstance(ctx, childModel, m.process.AppName, m.process.AppInstanceID)
	if err != nil {
		return err
	}
	child.ParentProcessInstanceKey = ptr.To(m.process.Key)
	child.InvokedActivityInstanceKey = ptr.To(invoking.Key)
	if err := m.step.tx.SaveProcessInstance(ctx, child); err != nil {
		return fmt.Errorf("failed to link sub-process instance %d: %w", child.Key, err)
	}
	m.logger.Debug("sub-process started", "activityGUID", activity.GUID, "subProcessInstanceKey", child.Key)

	return m.step.startWalk(ctx, childModel, &child)
}

// resumeParent completes the activity that invoked this sub-process and continues the parent from it.
func (m *nodeMediator) resumeParent(ctx context.Context) error {
	invoking, err := m.step.tx.FindActivityInstanceByKey(ctx, *m.process.InvokedActivityInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to find invoking activity of sub-process %d: %w", m.process.Key, err)
	}
	if invoking.State != runtime.ActivityStateSuspended {
		return nil
	}
	invoking.State = runtime.ActivityStateCompleted
	m.step.markEnded(&invoking)
	if err := m.step.tx.SaveActivityInstance(ctx, invoking); err != nil {
		return fmt.Errorf("failed to complete invoking activity %s: %w", invoking.ActivityGUID, err)
	}

	parent, err := m.step.tx.FindProcessInstanceByKey(ctx, *m.process.ParentProcessInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to find parent of sub-process %d: %w", m.process.Key, err)
	}
	parentModel, err := m.step.engine.getModel(ctx, parent.ProcessGUID, parent.Version)
	if err != nil {
		return err
	}
	activity, err := parentModel.GetActivity(invoking.ActivityGUID)
	if err != nil {
		return fmt.Errorf("failed to find activity %s of process %s: %w", invoking.ActivityGUID, parent.ProcessGUID, err)
	}
	return m.step.mediator(parentModel, &parent).ContinueForward(ctx, activity, invoking, false, "")
}

// createProcessInstance persists a Running process instance.
func (s *step) createProcessInstance(ctx context.Context, pm model.ProcessModel, appName, appInstanceID string) (runtime.ProcessInstance, error) {
	pi := runtime.ProcessInstance{
		Key:               s.engine.generateKey(),
		ProcessGUID:       pm.ProcessGUID(),
		Version:           pm.Version(),
		AppName:           appName,
		AppInstanceID:     appInstanceID,
		State:             runtime.ProcessStateRunning,
		CreatedByUserID:   s.runner.UserID,
		CreatedByUserName: s.runner.UserName,
		CreatedAt:         s.now,
	}
	if err := s.tx.SaveProcessInstance(ctx, pi); err != nil {
		return pi, fmt.Errorf("failed to save process instance of %s: %w", pm.ProcessGUID(), err)
	}
	s.created.ProcessInstanceKeys = append(s.created.ProcessInstanceKeys, pi.Key)
	return pi, nil
}

// startWalk records a Completed start node for the process and continues from it.
func (s *step) startWalk(ctx context.Context, pm model.ProcessModel, pi *runtime.ProcessInstance) error {
	start, err := pm.GetStartActivity()
	if err != nil {
		return fmt.Errorf("failed to find start activity of process %s: %w", pm.ProcessGUID(), err)
	}
	m := s.mediator(pm, pi)
	startInstance := m.newActivityInstance(start, runtime.ActivityStateCompleted)
	if err := m.saveActivityInstance(ctx, startInstance); err != nil {
		return err
	}
	return m.ContinueForward(ctx, start, startInstance, false, "")
}
