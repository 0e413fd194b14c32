// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

// ScriptRuntime runs activity action scripts. vars are exposed to the script as globals.
type ScriptRuntime interface {
	RunScript(script string, vars map[string]any) (any, error)
}
