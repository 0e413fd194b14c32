// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/pbinitiative/zenflow/pkg/script"
)

type JsRunnerFactory struct{}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

type JsRuntime struct {
	ctx  context.Context
	pool *script.RunnerPool
}

var _ script.ScriptRuntime = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxPoolSize int, minPoolSize int) (*JsRuntime, error) {
	pool, err := script.NewRunnerPool(ctx, JsRunnerFactory{}, maxPoolSize, minPoolSize)
	if err != nil {
		return nil, err
	}
	return &JsRuntime{
		ctx:  ctx,
		pool: pool,
	}, nil
}

// RunScript evaluates script with vars bound as globals and returns the value of the last expression.
func (r *JsRuntime) RunScript(script string, vars map[string]any) (any, error) {
	runner, err := r.pool.GetRunnerFromPool(r.ctx)
	if err != nil {
		return nil, fmt.Errorf("no script runner available: %w", err)
	}
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).runScript(script, vars)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	return &JsRunner{vm: goja.New()}
}

func (r *JsRunner) runScript(script string, vars map[string]any) (any, error) {
	global := r.vm.GlobalObject()
	for name, value := range vars {
		if err := global.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to bind script variable %q: %w", name, err)
		}
	}
	// bound variables must not leak into the next script run on this vm
	defer func() {
		for name := range vars {
			_ = global.Delete(name)
		}
	}()

	resp, err := r.vm.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("error running script %q: %w", script, err)
	}
	if resp == nil {
		return nil, nil
	}
	return resp.Export(), nil
}
