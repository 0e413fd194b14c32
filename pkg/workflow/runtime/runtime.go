// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"time"

	"github.com/pbinitiative/zenflow/pkg/workflow/model"
)

type ProcessState string

const (
	ProcessStateRunning    ProcessState = "RUNNING"
	ProcessStateCompleted  ProcessState = "COMPLETED"
	ProcessStateTerminated ProcessState = "TERMINATED"
)

type ActivityState string

const (
	ActivityStateReady     ActivityState = "READY"
	ActivityStateRunning   ActivityState = "RUNNING"
	ActivityStateSuspended ActivityState = "SUSPENDED"
	ActivityStateCompleted ActivityState = "COMPLETED"
	ActivityStateWithdrawn ActivityState = "WITHDRAWN"
)

// IsOpen reports whether work can still be done on an activity in this state.
func (s ActivityState) IsOpen() bool {
	return s == ActivityStateReady || s == ActivityStateRunning || s == ActivityStateSuspended
}

type TaskState string

const (
	TaskStateToDo       TaskState = "TODO"
	TaskStateReading    TaskState = "READING"
	TaskStateCompleted  TaskState = "COMPLETED"
	TaskStateWithdrawn  TaskState = "WITHDRAWN"
	TaskStateSendBacked TaskState = "SEND_BACKED"
	TaskStateClosed     TaskState = "CLOSED"
)

// IsFinal reports whether the state is terminal. Terminal tasks are never changed again.
func (s TaskState) IsFinal() bool {
	switch s {
	case TaskStateCompleted, TaskStateWithdrawn, TaskStateSendBacked, TaskStateClosed:
		return true
	}
	return false
}

type TransitionType string

const (
	TransitionTypeForward  TransitionType = "FORWARD"
	TransitionTypeLoop     TransitionType = "LOOP"
	TransitionTypeBackward TransitionType = "BACKWARD"
)

type FlyingType string

const (
	FlyingTypeNotFlying     FlyingType = "NOT_FLYING"
	FlyingTypeForwardFlying FlyingType = "FORWARD_FLYING"
)

type ProcessInstance struct {
	Key           int64
	ProcessGUID   string
	Version       string
	AppName       string
	AppInstanceID string
	State         ProcessState
	// ParentProcessInstanceKey and InvokedActivityInstanceKey are set for sub-process instances.
	ParentProcessInstanceKey   *int64
	InvokedActivityInstanceKey *int64
	CreatedByUserID            string
	CreatedByUserName          string
	CreatedAt                  time.Time
	EndedByUserID              string
	EndedByUserName            string
	EndedAt                    *time.Time
}

type ActivityInstance struct {
	Key                int64
	ProcessInstanceKey int64
	AppName            string
	AppInstanceID      string
	ProcessGUID        string
	ActivityGUID       string
	ActivityName       string
	ActivityType       model.ActivityType
	GatewayDirection   model.GatewayDirection
	State              ActivityState

	ComplexType     model.ComplexType
	MergeType       model.MergeType
	CompareType     model.CompareType
	SignForwardType model.SignForwardType
	CompleteOrder   *float64
	// MIHostActivityInstanceKey links a multi-instance child to its host.
	MIHostActivityInstanceKey *int64

	// AssignedToUserIDs and AssignedToUserNames are comma joined.
	AssignedToUserIDs   string
	AssignedToUserNames string

	TokensRequired int
	TokensHad      int

	CreatedByUserID   string
	CreatedByUserName string
	CreatedAt         time.Time
	EndedByUserID     string
	EndedByUserName   string
	EndedAt           *time.Time
}

func (a ActivityInstance) IsMultipleInstanceChild() bool {
	return a.MIHostActivityInstanceKey != nil
}

type TaskInstance struct {
	Key                   int64
	ActivityInstanceKey   int64
	ProcessInstanceKey    int64
	AppName               string
	AppInstanceID         string
	ProcessGUID           string
	ActivityGUID          string
	ActivityName          string
	AssignedToUserID      string
	AssignedToUserName    string
	State                 TaskState
	IsEMailSent           bool
	CreatedByUserID       string
	CreatedByUserName     string
	CreatedAt             time.Time
	LastUpdatedByUserID   string
	LastUpdatedByUserName string
	LastUpdatedAt         *time.Time
	EndedByUserID         string
	EndedByUserName       string
	EndedAt               *time.Time
	// EntrustedTaskKey references the original task when this one was created by delegation.
	EntrustedTaskKey *int64
}

type TransitionInstance struct {
	Key                     int64
	ProcessInstanceKey      int64
	TransitionGUID          string
	FromActivityInstanceKey int64
	FromActivityGUID        string
	ToActivityInstanceKey   int64
	ToActivityGUID          string
	TransitionType          TransitionType
	FlyingType              FlyingType
	CreatedByUserID         string
	CreatedByUserName       string
	CreatedAt               time.Time
}
