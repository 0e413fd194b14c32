// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package model holds the process-definition contract the workflow engine walks:
// activities, transitions, bound actions, performers and the successor query.
package model

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrModelNotFound    = errors.New("process model not found")
	ErrActivityNotFound = errors.New("activity not found")
)

// MultipleInstanceDetail describes a multi-actor node.
// CompleteOrder is an ordinal when CompareType is Count and a fraction when it is Percentage.
type MultipleInstanceDetail struct {
	ComplexType     ComplexType
	MergeType       MergeType
	CompareType     CompareType
	SignForwardType SignForwardType
	CompleteOrder   *float64
}

type Activity struct {
	GUID             string
	Name             string
	Type             ActivityType
	GatewayDirection GatewayDirection
	MultipleInstance *MultipleInstanceDetail
	// SubProcessGUID references the process started by a SubProcess node.
	SubProcessGUID    string
	SubProcessVersion string
	// Performers are the declared performers used when the runner resolves them from the definition.
	Performers PerformerList
	Actions    []Action
}

func (a *Activity) ActionsFiredAt(fireType FireType) []Action {
	if a == nil {
		return nil
	}
	res := make([]Action, 0, len(a.Actions))
	for _, action := range a.Actions {
		if action.FireType == fireType {
			res = append(res, action)
		}
	}
	return res
}

type Transition struct {
	GUID             string
	FromActivityGUID string
	ToActivityGUID   string
	Direction        TransitionDirection
	// Condition is a FEEL expression over the condition bindings; empty means always true.
	Condition string
}

type Action struct {
	Name     string
	Type     ActionType
	FireType FireType
	// Method names a registered Go action for ActionTypeMethod.
	Method string
	// Script is JavaScript source for ActionTypeScript.
	Script string
}

type Performer struct {
	UserID   string
	UserName string
}

type PerformerList []Performer

func (p PerformerList) UserIDs() string {
	ids := make([]string, len(p))
	for i, performer := range p {
		ids[i] = performer.UserID
	}
	return strings.Join(ids, ",")
}

func (p PerformerList) UserNames() string {
	names := make([]string, len(p))
	for i, performer := range p {
		names[i] = performer.UserName
	}
	return strings.Join(names, ",")
}

// PerformerMap maps a successor activity GUID to its performers.
type PerformerMap map[string]PerformerList

// AppRunner is the acting identity of one engine call.
type AppRunner struct {
	AppName           string
	AppInstanceID     string
	ProcessGUID       string
	Version           string
	UserID            string
	UserName          string
	NextPerformerType NextPerformerType
}

// ActivityResource carries the transient inputs of one mediation step.
type ActivityResource struct {
	AppRunner              AppRunner
	Conditions             map[string]string
	NextActivityPerformers PerformerMap
}

// PerformerPredicate decides whether a human-facing successor can be instantiated with the given resource.
type PerformerPredicate func(resource *ActivityResource, activity *Activity) bool

// NextActivityComponent is one node of the matched successor tree.
// The root is a sentinel without Activity and Transition.
type NextActivityComponent struct {
	Activity   *Activity
	Transition *Transition
	Children   []*NextActivityComponent
}

func NewRootComponent() *NextActivityComponent {
	return &NextActivityComponent{}
}

func (c *NextActivityComponent) IsRoot() bool {
	return c.Activity == nil
}

func (c *NextActivityComponent) HasChildren() bool {
	return len(c.Children) > 0
}

func (c *NextActivityComponent) Add(child *NextActivityComponent) {
	c.Children = append(c.Children, child)
}

type MatchResult struct {
	Type    MatchedType
	Root    *NextActivityComponent
	Message string
}

// ProcessModel is a loaded process definition.
type ProcessModel interface {
	ProcessGUID() string
	Version() string
	GetActivity(activityGUID string) (*Activity, error)
	GetStartActivity() (*Activity, error)
	// FindTransition returns the transition between two activities or nil when they are not directly connected.
	FindTransition(fromActivityGUID, toActivityGUID string) *Transition
	IncomingTransitionCount(activityGUID string) int
	// Reaches reports whether some path of transitions leads from one activity to the other.
	// Transition conditions are ignored.
	Reaches(fromActivityGUID, toActivityGUID string) bool
	GetActivityPerformers(activityGUID string) (PerformerList, error)
	// MatchSuccessors returns the tree of successors reachable from the given activity under the condition bindings.
	MatchSuccessors(ctx context.Context, fromActivityGUID string, conditions map[string]string, resource *ActivityResource, predicate PerformerPredicate) (MatchResult, error)
}

// Provider resolves process models. An empty version selects the latest one.
type Provider interface {
	GetProcessModel(ctx context.Context, processGUID string, version string) (ProcessModel, error)
}
