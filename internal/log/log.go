// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package log is the process wide logger of the zenflow server.
// Messages logged with a context carry the execution key stored in it by appcontext.
package log

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/internal/appcontext"
)

var (
	mu     sync.RWMutex
	logger hclog.Logger = hclog.Default()
)

// Init installs the default logger writing text at info level to stderr.
func Init() {
	Configure("info", false)
}

// Configure replaces the process logger. Unknown levels fall back to info.
func Configure(level string, json bool) {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	l := hclog.New(&hclog.LoggerOptions{
		Name:       "zenflow",
		Level:      lvl,
		Output:     os.Stderr,
		JSONFormat: json,
	})
	hclog.SetDefault(l)

	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns a named sub logger for a component.
func Logger(name string) hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Named(name)
}

func current(ctx context.Context) hclog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if ctx == nil {
		return l
	}
	if key, ok := appcontext.GetExecutionContext(ctx); ok {
		return l.With("executionKey", key)
	}
	return l
}

func Debugf(ctx context.Context, format string, args ...any) {
	current(ctx).Debug(fmt.Sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	current(ctx).Info(fmt.Sprintf(format, args...))
}

func Warnf(ctx context.Context, format string, args ...any) {
	current(ctx).Warn(fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	current(ctx).Error(fmt.Sprintf(format, args...))
}

// Error logs without a context, used before one exists.
func Error(format string, args ...any) {
	current(nil).Error(fmt.Sprintf(format, args...))
}
