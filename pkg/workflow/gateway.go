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

	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// completeGateway resolves the gateway's own instance. waiting is true when the branch
// stops here: a join that still misses tokens, or an or-join that was already passed in this round.
func (m *nodeMediator) completeGateway(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) (gateway runtime.ActivityInstance, waiting bool, err error) {
	activity := comp.Activity
	switch activity.GatewayDirection {
	case model.GatewayDirectionAndJoin, model.GatewayDirectionAndJoinMI:
		return m.joinAll(ctx, fromInstance, comp, isJump)
	case model.GatewayDirectionOrJoin:
		return m.joinFirst(ctx, fromInstance, comp, isJump)
	default:
		// splits and the exclusive join pass straight through
		gateway = m.newActivityInstance(activity, runtime.ActivityStateCompleted)
		if err := m.saveActivityInstance(ctx, gateway); err != nil {
			return gateway, false, err
		}
		if err := m.recordTransition(ctx, fromInstance, gateway, comp.Transition, isJump); err != nil {
			return gateway, false, err
		}
		return gateway, false, nil
	}
}

// openJoin returns the join instance that is still collecting tokens, if any.
func (m *nodeMediator) openJoin(ctx context.Context, activityGUID string, states ...runtime.ActivityState) (*runtime.ActivityInstance, error) {
	instances, err := m.step.tx.FindActivityInstances(ctx, storage.ActivityInstanceFilter{
		ProcessInstanceKey: m.process.Key,
		ActivityGUID:       activityGUID,
		States:             states,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find instances of join %s: %w", activityGUID, err)
	}
	for i := len(instances) - 1; i >= 0; i-- {
		if instances[i].TokensHad < instances[i].TokensRequired {
			return &instances[i], nil
		}
	}
	return nil, nil
}

// joinAll completes the join when a token arrived on every incoming transition.
func (m *nodeMediator) joinAll(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) (runtime.ActivityInstance, bool, error) {
	activity := comp.Activity
	open, err := m.openJoin(ctx, activity.GUID, runtime.ActivityStateRunning)
	if err != nil {
		return runtime.ActivityInstance{}, false, err
	}
	var join runtime.ActivityInstance
	isNew := open == nil
	if isNew {
		join = m.newActivityInstance(activity, runtime.ActivityStateRunning)
		join.TokensRequired = m.model.IncomingTransitionCount(activity.GUID)
	} else {
		join = *open
	}
	join.TokensHad++

	satisfied := join.TokensHad >= join.TokensRequired
	if satisfied {
		join.State = runtime.ActivityStateCompleted
		m.step.markEnded(&join)
	}
	if isNew {
		err = m.saveActivityInstance(ctx, join)
	} else {
		err = m.step.tx.SaveActivityInstance(ctx, join)
	}
	if err != nil {
		return join, false, fmt.Errorf("failed to save join %s: %w", activity.GUID, err)
	}
	if err := m.recordTransition(ctx, fromInstance, join, comp.Transition, isJump); err != nil {
		return join, false, err
	}
	if !satisfied {
		m.step.addResult(FeedbackNeedOtherGatewayBranchesToJoin, "gateway %s received %d of %d branches", activity.GUID, join.TokensHad, join.TokensRequired)
		m.logger.Debug("join waits for other branches", "activityGUID", activity.GUID, "tokens", join.TokensHad, "required", join.TokensRequired)
		return join, true, nil
	}
	return join, false, nil
}

// joinFirst lets the first arriving branch through. The round then waits only for the branches
// that were still live when it passed, later arrivals of that round are absorbed and any other
// arrival opens a new round.
func (m *nodeMediator) joinFirst(ctx context.Context, fromInstance runtime.ActivityInstance, comp *model.NextActivityComponent, isJump bool) (runtime.ActivityInstance, bool, error) {
	activity := comp.Activity
	passed, err := m.openJoin(ctx, activity.GUID, runtime.ActivityStateCompleted)
	if err != nil {
		return runtime.ActivityInstance{}, false, err
	}
	if passed != nil {
		join := *passed
		join.TokensHad++
		if err := m.step.tx.SaveActivityInstance(ctx, join); err != nil {
			return join, false, fmt.Errorf("failed to save join %s: %w", activity.GUID, err)
		}
		if err := m.recordTransition(ctx, fromInstance, join, comp.Transition, isJump); err != nil {
			return join, false, err
		}
		m.step.addResult(FeedbackOrJoinOneBranchHasBeenFinishedWaitingOthers, "gateway %s was already passed by another branch", activity.GUID)
		return join, true, nil
	}

	live, err := m.liveBranches(ctx, activity.GUID)
	if err != nil {
		return runtime.ActivityInstance{}, false, err
	}
	join := m.newActivityInstance(activity, runtime.ActivityStateCompleted)
	join.TokensRequired = min(m.model.IncomingTransitionCount(activity.GUID), 1+live)
	join.TokensHad = 1
	if err := m.saveActivityInstance(ctx, join); err != nil {
		return join, false, err
	}
	if err := m.recordTransition(ctx, fromInstance, join, comp.Transition, isJump); err != nil {
		return join, false, err
	}
	return join, false, nil
}

// liveBranches counts the open instances of the process that can still send a token to the join.
// A multi-instance node counts once through its host.
func (m *nodeMediator) liveBranches(ctx context.Context, joinGUID string) (int, error) {
	open, err := m.step.tx.FindActivityInstances(ctx, storage.ActivityInstanceFilter{
		ProcessInstanceKey: m.process.Key,
		States: []runtime.ActivityState{
			runtime.ActivityStateReady,
			runtime.ActivityStateRunning,
			runtime.ActivityStateSuspended,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find open branches of join %s: %w", joinGUID, err)
	}
	live := 0
	for _, ai := range open {
		if ai.IsMultipleInstanceChild() || ai.ActivityType == model.ActivityTypeGateway || ai.ActivityGUID == joinGUID {
			continue
		}
		if m.model.Reaches(ai.ActivityGUID, joinGUID) {
			live++
		}
	}
	return live, nil
}
