// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package appcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionKey(t *testing.T) {
	ctx := WithExecutionKey(context.Background(), 1234)

	valFromCtx, found := GetExecutionContext(ctx)
	assert.True(t, found)
	assert.Equal(t, int64(1234), valFromCtx)

	valFromCtx, found = GetExecutionContext(context.Background())
	assert.False(t, found)
	assert.Equal(t, int64(0), valFromCtx)
}
