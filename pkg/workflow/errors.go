// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNoMatchedSuccessor   = errors.New("no matched successor")
	ErrInvalidPerformerType = errors.New("invalid next performer type")
	ErrPerformersMissing    = errors.New("performers missing for activity")
	ErrInvalidThreshold     = errors.New("invalid multi-instance threshold")
	ErrTaskStateFinal       = errors.New("task is already in a final state")
	ErrTaskNotOwned         = errors.New("task is not assigned to the acting user")
	ErrActivityNotActive    = errors.New("activity instance is not ready or running")
)

type WorkflowError struct {
	Msg string
}

func (e *WorkflowError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &WorkflowError{
		Msg: fmt.Sprintf(format, a...),
	}
}

// UnknownNodeTypeError is returned when the walk reaches a node kind the mediator cannot instantiate.
// The whole step is rolled back.
type UnknownNodeTypeError struct {
	ActivityGUID string
	ActivityType string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("unknown node type %q at activity %s", e.ActivityType, e.ActivityGUID)
}

func (e *UnknownNodeTypeError) Feedback() Feedback {
	return FeedbackUnknownNodeTypeToWatch
}

// ActionError wraps a failure of an action bound to an activity.
type ActionError struct {
	ActivityGUID string
	Err          error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action of activity %s failed: %s", e.ActivityGUID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
