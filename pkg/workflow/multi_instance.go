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

// isSequential reports whether children of the node are worked one after another.
func isSequential(complexType model.ComplexType, mergeType model.MergeType, signForwardType model.SignForwardType) bool {
	if complexType == model.ComplexTypeSignForward {
		return signForwardType == model.SignForwardTypeBefore || signForwardType == model.SignForwardTypeBehind
	}
	return mergeType == model.MergeTypeSequence
}

// createMultipleInstance creates a Suspended host and one child with one task per performer.
// Sequential children are ordered 1..n and only the first one is Ready.
func (m *nodeMediator) createMultipleInstance(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) error {
	activity := comp.Activity
	detail := activity.MultipleInstance
	if detail == nil {
		return newEngineErrorf("multi-instance activity %s declares no multi-instance detail", activity.GUID)
	}
	performers, err := m.step.resolvePerformers(m.model, activity)
	if err != nil {
		return err
	}
	complexType := detail.ComplexType
	if complexType == "" {
		complexType = model.ComplexTypeSignTogether
	}

	host := m.newActivityInstance(activity, runtime.ActivityStateSuspended)
	host.ComplexType = complexType
	host.MergeType = detail.MergeType
	host.CompareType = detail.CompareType
	host.SignForwardType = detail.SignForwardType
	host.CompleteOrder = detail.CompleteOrder
	host.AssignedToUserIDs = performers.UserIDs()
	host.AssignedToUserNames = performers.UserNames()
	if err := m.saveActivityInstance(ctx, host); err != nil {
		return err
	}
	if err := m.recordTransition(ctx, fromInstance, host, comp.Transition, isJump); err != nil {
		return err
	}

	sequential := isSequential(complexType, detail.MergeType, detail.SignForwardType)
	for i, performer := range performers {
		state := runtime.ActivityStateReady
		order := -1.0
		if sequential {
			order = float64(i + 1)
			if i > 0 {
				state = runtime.ActivityStateSuspended
			}
		}
		child := m.newActivityInstance(activity, state)
		child.ComplexType = complexType
		child.MergeType = detail.MergeType
		child.CompareType = detail.CompareType
		child.SignForwardType = detail.SignForwardType
		child.CompleteOrder = ptr.To(order)
		child.MIHostActivityInstanceKey = ptr.To(host.Key)
		child.AssignedToUserIDs = performer.UserID
		child.AssignedToUserNames = performer.UserName
		if err := m.saveActivityInstance(ctx, child); err != nil {
			return err
		}
		if _, err := m.step.tasks.createTask(ctx, child, performer, nil); err != nil {
			return fmt.Errorf("failed to create task of multi-instance %s: %w", activity.GUID, err)
		}
	}
	return nil
}
