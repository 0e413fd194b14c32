// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/internal/appcontext"
	"github.com/stretchr/testify/assert"
)

func TestLogCarriesExecutionKey(t *testing.T) {
	buf := &bytes.Buffer{}
	mu.Lock()
	previous := logger
	logger = hclog.New(&hclog.LoggerOptions{Output: buf, Level: hclog.Debug})
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		logger = previous
		mu.Unlock()
	})

	ctx := appcontext.WithExecutionKey(context.Background(), 42)
	Infof(ctx, "advanced %s", "review")
	Debugf(context.Background(), "plain")

	out := buf.String()
	assert.Contains(t, out, "advanced review")
	assert.Contains(t, out, "executionKey=42")
	assert.Contains(t, out, "plain")
}
