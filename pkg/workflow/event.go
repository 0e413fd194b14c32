// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"context"

	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// completeEvent runs the actions bound to an intermediate event. A failing action stops
// this branch with IntermediateEventFailed and leaves no instance of the event behind.
func (m *nodeMediator) completeEvent(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) (runtime.ActivityInstance, bool, error) {
	activity := comp.Activity
	delegate := m.delegate(activity)
	executor := m.step.engine.actions

	err := executor.ExecuteBefore(ctx, activity.ActionsFiredAt(model.FireTypeBefore), delegate)
	if err == nil {
		err = executor.ExecuteAfter(ctx, activity.ActionsFiredAt(model.FireTypeAfter), delegate)
	}
	if err != nil {
		m.step.addResult(FeedbackIntermediateEventFailed, "intermediate event %s failed: %s", activity.GUID, err)
		m.logger.Debug("intermediate event failed", "activityGUID", activity.GUID, "error", err)
		return runtime.ActivityInstance{}, false, nil
	}

	event := m.newActivityInstance(activity, runtime.ActivityStateCompleted)
	if err := m.saveActivityInstance(ctx, event); err != nil {
		return event, false, err
	}
	if err := m.recordTransition(ctx, fromInstance, event, comp.Transition, isJump); err != nil {
		return event, false, err
	}
	return event, true, nil
}
