// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

type ActivityType string

const (
	ActivityTypeStart             ActivityType = "START"
	ActivityTypeTask              ActivityType = "TASK"
	ActivityTypeGateway           ActivityType = "GATEWAY"
	ActivityTypeIntermediateEvent ActivityType = "INTERMEDIATE_EVENT"
	ActivityTypeMultipleInstance  ActivityType = "MULTIPLE_INSTANCE"
	ActivityTypeSubProcess        ActivityType = "SUB_PROCESS"
	ActivityTypeEnd               ActivityType = "END"
)

// IsAutoCompleted reports whether the engine completes nodes of this type on its own
// and keeps walking into their successors.
func (t ActivityType) IsAutoCompleted() bool {
	return t == ActivityTypeGateway || t == ActivityTypeIntermediateEvent
}

type GatewayDirection string

const (
	GatewayDirectionNone       GatewayDirection = ""
	GatewayDirectionAndSplit   GatewayDirection = "AND_SPLIT"
	GatewayDirectionOrSplit    GatewayDirection = "OR_SPLIT"
	GatewayDirectionXOrSplit   GatewayDirection = "XOR_SPLIT"
	GatewayDirectionAndSplitMI GatewayDirection = "AND_SPLIT_MI"
	GatewayDirectionAndJoin    GatewayDirection = "AND_JOIN"
	GatewayDirectionOrJoin     GatewayDirection = "OR_JOIN"
	GatewayDirectionXOrJoin    GatewayDirection = "XOR_JOIN"
	GatewayDirectionAndJoinMI  GatewayDirection = "AND_JOIN_MI"
)

func (d GatewayDirection) IsJoin() bool {
	switch d {
	case GatewayDirectionAndJoin, GatewayDirectionOrJoin, GatewayDirectionXOrJoin, GatewayDirectionAndJoinMI:
		return true
	}
	return false
}

func (d GatewayDirection) IsSplit() bool {
	switch d {
	case GatewayDirectionAndSplit, GatewayDirectionOrSplit, GatewayDirectionXOrSplit, GatewayDirectionAndSplitMI:
		return true
	}
	return false
}

type ComplexType string

const (
	ComplexTypeSignTogether ComplexType = "SIGN_TOGETHER"
	ComplexTypeSignForward  ComplexType = "SIGN_FORWARD"
)

type MergeType string

const (
	MergeTypeSequence MergeType = "SEQUENCE"
	MergeTypeParallel MergeType = "PARALLEL"
)

type CompareType string

const (
	CompareTypeCount      CompareType = "COUNT"
	CompareTypePercentage CompareType = "PERCENTAGE"
)

type SignForwardType string

const (
	SignForwardTypeNone     SignForwardType = ""
	SignForwardTypeBefore   SignForwardType = "BEFORE"
	SignForwardTypeBehind   SignForwardType = "BEHIND"
	SignForwardTypeParallel SignForwardType = "PARALLEL"
)

type TransitionDirection string

const (
	TransitionDirectionForward  TransitionDirection = "FORWARD"
	TransitionDirectionLoop     TransitionDirection = "LOOP"
	TransitionDirectionBackward TransitionDirection = "BACKWARD"
)

type NextPerformerType string

const (
	NextPerformerTypeSpecific   NextPerformerType = "SPECIFIC"
	NextPerformerTypeDefinition NextPerformerType = "DEFINITION"
	NextPerformerTypeSingle     NextPerformerType = "SINGLE"
)

type MatchedType string

const (
	MatchedTypeSuccessed          MatchedType = "SUCCESSED"
	MatchedTypeNoMatch            MatchedType = "NO_MATCH"
	MatchedTypeNoMatchedPerformer MatchedType = "NO_MATCHED_PERFORMER"
)

type ActionType string

const (
	ActionTypeMethod ActionType = "METHOD"
	ActionTypeScript ActionType = "SCRIPT"
)

type FireType string

const (
	FireTypeBefore FireType = "BEFORE"
	FireTypeAfter  FireType = "AFTER"
)
