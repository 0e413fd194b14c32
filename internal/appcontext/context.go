// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package appcontext

import (
	"context"
)

type EXECUTION_CONTEXT string

var (
	// ExecutionKey holds the process instance key an engine call is working on.
	ExecutionKey EXECUTION_CONTEXT = "executionKey"
)

func WithExecutionKey(ctx context.Context, processInstanceKey int64) context.Context {
	return context.WithValue(ctx, ExecutionKey, processInstanceKey)
}

func GetExecutionContext(ctx context.Context) (int64, bool) {
	key, ok := ctx.Value(ExecutionKey).(int64)
	return key, ok
}
