// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"fmt"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

// isLastCompletion decides whether completing child satisfies the threshold of its host.
// siblings are all children of host, child included, and the decision is taken before child
// is marked Completed. assignee is the user completing the child.
func isLastCompletion(host runtime.ActivityInstance, child runtime.ActivityInstance, siblings []runtime.ActivityInstance, assignee string) (bool, error) {
	complexType := host.ComplexType
	if complexType == "" {
		complexType = model.ComplexTypeSignTogether
	}

	if complexType == model.ComplexTypeSignForward {
		if child.SignForwardType == model.SignForwardTypeParallel {
			return parallelQuorum(host, child, siblings, assignee)
		}
		return signForwardQuorum(host, child, siblings)
	}
	if host.MergeType == model.MergeTypeParallel {
		return parallelQuorum(host, child, siblings, assignee)
	}
	return sequenceQuorum(host, child, siblings)
}

func sequenceQuorum(host, child runtime.ActivityInstance, siblings []runtime.ActivityInstance) (bool, error) {
	current := order(child)
	allNum := rosterSize(host, siblings)

	if host.CompareType == model.CompareTypePercentage {
		return current/float64(allNum) >= percentage(host.CompleteOrder), nil
	}
	if err := validateCount(host); err != nil {
		return false, err
	}

	maxOrder, found := maxSuspendedOrder(siblings)
	if !found {
		maxOrder = float64(allNum)
		if host.CompleteOrder != nil && *host.CompleteOrder <= float64(allNum) {
			maxOrder = *host.CompleteOrder
		}
	}
	if host.CompleteOrder != nil && *host.CompleteOrder <= maxOrder {
		maxOrder = *host.CompleteOrder
	}
	return current >= maxOrder, nil
}

func signForwardQuorum(host, child runtime.ActivityInstance, siblings []runtime.ActivityInstance) (bool, error) {
	current := order(child)
	maxOrder, found := maxSuspendedOrder(siblings)
	if !found {
		maxOrder = current
	}

	if host.CompareType == model.CompareTypePercentage {
		if maxOrder <= 0 {
			return true, nil
		}
		return current/maxOrder >= percentage(host.CompleteOrder), nil
	}
	if err := validateCount(host); err != nil {
		return false, err
	}

	if host.CompleteOrder != nil && *host.CompleteOrder <= maxOrder {
		maxOrder = *host.CompleteOrder
	}
	if current == float64(countSuspended(siblings)) {
		return true, nil
	}
	return current >= maxOrder, nil
}

func parallelQuorum(host, child runtime.ActivityInstance, siblings []runtime.ActivityInstance, assignee string) (bool, error) {
	allCount := 0
	completed := 0
	for _, s := range siblings {
		// withdrawn children leave both counts, so a withdrawn match never completes the host
		if s.State == runtime.ActivityStateWithdrawn {
			continue
		}
		allCount++
		if s.State == runtime.ActivityStateCompleted || s.Key == child.Key || s.AssignedToUserIDs == assignee {
			completed++
		}
	}
	if allCount == 0 {
		return true, nil
	}

	if host.CompareType == model.CompareTypeCount {
		if err := validateCount(host); err != nil {
			return false, err
		}
		threshold := float64(allCount)
		if host.CompleteOrder != nil && *host.CompleteOrder < threshold {
			threshold = *host.CompleteOrder
		}
		return float64(completed) >= threshold, nil
	}
	return float64(completed)/float64(allCount) >= percentage(host.CompleteOrder), nil
}

// percentage clamps a threshold outside (0,1] to 1.
func percentage(threshold *float64) float64 {
	if threshold == nil || *threshold <= 0 || *threshold > 1 {
		return 1
	}
	return *threshold
}

func validateCount(host runtime.ActivityInstance) error {
	if host.CompleteOrder != nil && *host.CompleteOrder < 1 {
		return fmt.Errorf("%w: count threshold %v of activity %s", ErrInvalidThreshold, *host.CompleteOrder, host.ActivityGUID)
	}
	return nil
}

func order(ai runtime.ActivityInstance) float64 {
	if ai.CompleteOrder == nil {
		return 0
	}
	return *ai.CompleteOrder
}

func maxSuspendedOrder(siblings []runtime.ActivityInstance) (float64, bool) {
	found := false
	maxOrder := 0.0
	for _, s := range siblings {
		if s.State != runtime.ActivityStateSuspended {
			continue
		}
		if !found || order(s) > maxOrder {
			maxOrder = order(s)
			found = true
		}
	}
	return maxOrder, found
}

func countSuspended(siblings []runtime.ActivityInstance) int {
	n := 0
	for _, s := range siblings {
		if s.State == runtime.ActivityStateSuspended {
			n++
		}
	}
	return n
}

// rosterSize is the number of performers declared on the host, or the number of children
// when the roster is empty.
func rosterSize(host runtime.ActivityInstance, siblings []runtime.ActivityInstance) int {
	n := 0
	for _, id := range strings.Split(host.AssignedToUserIDs, ",") {
		if strings.TrimSpace(id) != "" {
			n++
		}
	}
	if n == 0 {
		n = len(siblings)
	}
	if n == 0 {
		n = 1
	}
	return n
}
