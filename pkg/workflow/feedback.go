// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import "github.com/pbinitiative/zenflow/pkg/workflow/model"

// Feedback tells the caller why a branch of a mediation step stopped without an error.
type Feedback string

const (
	FeedbackNone                                        Feedback = ""
	FeedbackForwardToNextSequenceTask                   Feedback = "FORWARD_TO_NEXT_SEQUENCE_TASK"
	FeedbackWaitingForCompletedMore                     Feedback = "WAITING_FOR_COMPLETED_MORE"
	FeedbackOrJoinOneBranchHasBeenFinishedWaitingOthers Feedback = "OR_JOIN_ONE_BRANCH_HAS_BEEN_FINISHED_WAITING_OTHERS"
	FeedbackNeedOtherGatewayBranchesToJoin              Feedback = "NEED_OTHER_GATEWAY_BRANCHES_TO_JOIN"
	FeedbackIntermediateEventFailed                     Feedback = "INTERMEDIATE_EVENT_FAILED"
	FeedbackUnknownNodeTypeToWatch                      Feedback = "UNKNOWN_NODE_TYPE_TO_WATCH"
	FeedbackOtherUnknownReasonToDebug                   Feedback = "OTHER_UNKNOWN_REASON_TO_DEBUG"
)

type MediatedResult struct {
	Feedback Feedback
	Message  string
}

// IsWaitingOneOfJoin reports whether a node with this direction waits for incoming branches.
func IsWaitingOneOfJoin(direction model.GatewayDirection) bool {
	return direction.IsJoin()
}

// firstFeedback returns the first non-empty feedback in walk order.
func firstFeedback(results []MediatedResult) Feedback {
	for _, r := range results {
		if r.Feedback != FeedbackNone {
			return r.Feedback
		}
	}
	return FeedbackNone
}
