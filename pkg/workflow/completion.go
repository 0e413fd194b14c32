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

	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// completeActivity completes the task and its activity instance. The returned instance is the one
// the walk continues from; proceed is false when the activity waits for more completions.
// With force a multi-instance host is completed regardless of its quorum.
func (s *step) completeActivity(ctx context.Context, task runtime.TaskInstance, ai runtime.ActivityInstance, force bool) (from runtime.ActivityInstance, proceed bool, err error) {
	if !ai.IsMultipleInstanceChild() {
		if _, err := s.tasks.complete(ctx, task); err != nil {
			return ai, false, err
		}
		if err := s.tasks.closeLiveTasks(ctx, ai.Key, task.Key); err != nil {
			return ai, false, err
		}
		ai.State = runtime.ActivityStateCompleted
		s.markEnded(&ai)
		if err := s.tx.SaveActivityInstance(ctx, ai); err != nil {
			return ai, false, fmt.Errorf("failed to complete activity %s: %w", ai.ActivityGUID, err)
		}
		return ai, true, nil
	}

	host, siblings, err := s.tasks.hostAndSiblings(ctx, ai)
	if err != nil {
		return ai, false, err
	}
	if !host.State.IsOpen() {
		return ai, false, fmt.Errorf("%w: multi-instance %s is %s", ErrActivityNotActive, host.ActivityGUID, host.State)
	}
	// the quorum is evaluated before the child itself counts as Completed
	last, err := isLastCompletion(host, ai, siblings, task.AssignedToUserID)
	if err != nil {
		return ai, false, err
	}

	if _, err := s.tasks.complete(ctx, task); err != nil {
		return ai, false, err
	}
	ai.State = runtime.ActivityStateCompleted
	s.markEnded(&ai)
	if err := s.tx.SaveActivityInstance(ctx, ai); err != nil {
		return ai, false, fmt.Errorf("failed to complete activity %s: %w", ai.ActivityGUID, err)
	}

	if last || force {
		host.State = runtime.ActivityStateCompleted
		s.markEnded(&host)
		if err := s.tx.SaveActivityInstance(ctx, host); err != nil {
			return host, false, fmt.Errorf("failed to complete multi-instance host %s: %w", host.ActivityGUID, err)
		}
		for _, sibling := range siblings {
			if sibling.Key == ai.Key || !sibling.State.IsOpen() {
				continue
			}
			sibling.State = runtime.ActivityStateWithdrawn
			s.markEnded(&sibling)
			if err := s.tx.SaveActivityInstance(ctx, sibling); err != nil {
				return host, false, fmt.Errorf("failed to withdraw multi-instance child %d: %w", sibling.Key, err)
			}
			if err := s.tasks.closeLiveTasks(ctx, sibling.Key, 0); err != nil {
				return host, false, err
			}
		}
		return host, true, nil
	}

	if isSequential(host.ComplexType, host.MergeType, ai.SignForwardType) {
		if next := nextSuspended(siblings, ai.Key); next != nil {
			next.State = runtime.ActivityStateReady
			if err := s.tx.SaveActivityInstance(ctx, *next); err != nil {
				return ai, false, fmt.Errorf("failed to activate next multi-instance child %d: %w", next.Key, err)
			}
			s.addResult(FeedbackForwardToNextSequenceTask, "activity %s continues with %s", ai.ActivityGUID, next.AssignedToUserIDs)
			return ai, false, nil
		}
	}
	s.addResult(FeedbackWaitingForCompletedMore, "activity %s waits for more completions", ai.ActivityGUID)
	return ai, false, nil
}

func nextSuspended(siblings []runtime.ActivityInstance, exceptKey int64) *runtime.ActivityInstance {
	var next *runtime.ActivityInstance
	for i := range siblings {
		sibling := &siblings[i]
		if sibling.Key == exceptKey || sibling.State != runtime.ActivityStateSuspended {
			continue
		}
		if next == nil || order(*sibling) < order(*next) {
			next = sibling
		}
	}
	return next
}

// activeActivity checks that work can be done on the activity instance now.
// Suspended children of a sequential multi-instance wait for their turn.
func activeActivity(ai runtime.ActivityInstance) error {
	if ai.State != runtime.ActivityStateReady && ai.State != runtime.ActivityStateRunning {
		return fmt.Errorf("%w: activity %s (%d) is %s", ErrActivityNotActive, ai.ActivityGUID, ai.Key, ai.State)
	}
	return nil
}

// ownTask checks that the acting user may work on the task.
func ownTask(task runtime.TaskInstance, runner model.AppRunner) error {
	if task.AssignedToUserID != runner.UserID {
		return fmt.Errorf("%w: task %d is assigned to %s, not %s", ErrTaskNotOwned, task.Key, task.AssignedToUserID, runner.UserID)
	}
	if task.State.IsFinal() {
		return fmt.Errorf("%w: task %d is %s", ErrTaskStateFinal, task.Key, task.State)
	}
	return nil
}
