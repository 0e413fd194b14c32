// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScript(t *testing.T) {
	rt, err := NewJsRuntime(t.Context(), 1, 1)
	require.NoError(t, err)

	res, err := rt.RunScript("amount > 1000", map[string]any{"amount": 1500})
	require.NoError(t, err)
	assert.Equal(t, true, res)

	res, err = rt.RunScript("typeof amount", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", res)

	res, err = rt.RunScript("approver + '@' + activity", map[string]any{"approver": "jack", "activity": "review"})
	require.NoError(t, err)
	assert.Equal(t, "jack@review", res)
}

func TestRunScriptError(t *testing.T) {
	rt, err := NewJsRuntime(t.Context(), 1, 0)
	require.NoError(t, err)

	_, err = rt.RunScript("throw new Error('rejected')", nil)
	assert.ErrorContains(t, err, "rejected")
}
