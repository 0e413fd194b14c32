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
	"sync"

	"github.com/pbinitiative/zenflow/pkg/script"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
)

// DelegateContext is what an action sees of the step that runs it.
type DelegateContext struct {
	AppInstanceID      string
	ProcessGUID        string
	ProcessInstanceKey int64
	ActivityGUID       string
	ActivityName       string
	UserID             string
	UserName           string
	Conditions         map[string]string
}

// ActionExecutor runs the actions bound to an activity. Any returned error fails the whole step.
type ActionExecutor interface {
	ExecuteBefore(ctx context.Context, actions []model.Action, delegate DelegateContext) error
	ExecuteAfter(ctx context.Context, actions []model.Action, delegate DelegateContext) error
}

// ActionMethod is a Go implementation of an ActionTypeMethod action.
type ActionMethod func(ctx context.Context, delegate DelegateContext) error

// DefaultActionExecutor runs registered methods and JavaScript snippets.
type DefaultActionExecutor struct {
	mu      sync.RWMutex
	methods map[string]ActionMethod
	scripts script.ScriptRuntime
}

var _ ActionExecutor = &DefaultActionExecutor{}

func NewActionExecutor(scripts script.ScriptRuntime) *DefaultActionExecutor {
	return &DefaultActionExecutor{
		methods: map[string]ActionMethod{},
		scripts: scripts,
	}
}

// RegisterMethod binds name to fn, replacing an earlier registration.
func (e *DefaultActionExecutor) RegisterMethod(name string, fn ActionMethod) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.methods[name] = fn
}

func (e *DefaultActionExecutor) RemoveMethod(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.methods, name)
}

func (e *DefaultActionExecutor) ExecuteBefore(ctx context.Context, actions []model.Action, delegate DelegateContext) error {
	return e.execute(ctx, actions, delegate)
}

func (e *DefaultActionExecutor) ExecuteAfter(ctx context.Context, actions []model.Action, delegate DelegateContext) error {
	return e.execute(ctx, actions, delegate)
}

func (e *DefaultActionExecutor) execute(ctx context.Context, actions []model.Action, delegate DelegateContext) error {
	for _, action := range actions {
		var err error
		switch action.Type {
		case model.ActionTypeMethod:
			err = e.runMethod(ctx, action, delegate)
		case model.ActionTypeScript:
			err = e.runScript(action, delegate)
		default:
			err = fmt.Errorf("unsupported action type %q", action.Type)
		}
		if err != nil {
			return fmt.Errorf("action %q: %w", action.Name, err)
		}
	}
	return nil
}

func (e *DefaultActionExecutor) runMethod(ctx context.Context, action model.Action, delegate DelegateContext) error {
	e.mu.RLock()
	fn, ok := e.methods[action.Method]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("method %q is not registered", action.Method)
	}
	return fn(ctx, delegate)
}

// runScript treats a script that throws or evaluates to false as failed.
func (e *DefaultActionExecutor) runScript(action model.Action, delegate DelegateContext) error {
	if e.scripts == nil {
		return fmt.Errorf("no script runtime configured")
	}
	vars := make(map[string]any, len(delegate.Conditions)+6)
	for k, v := range delegate.Conditions {
		vars[k] = v
	}
	vars["appInstanceID"] = delegate.AppInstanceID
	vars["processGUID"] = delegate.ProcessGUID
	vars["processInstanceKey"] = delegate.ProcessInstanceKey
	vars["activityGUID"] = delegate.ActivityGUID
	vars["activityName"] = delegate.ActivityName
	vars["userID"] = delegate.UserID

	res, err := e.scripts.RunScript(action.Script, vars)
	if err != nil {
		return err
	}
	if ok, isBool := res.(bool); isBool && !ok {
		return fmt.Errorf("script returned false")
	}
	return nil
}
