// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Runner interface {
	Runner()
}

type RunnerFactory interface {
	NewRunner() Runner
}

// RunnerPool hands out script runners. A runner is used by one goroutine at a time.
type RunnerPool struct {
	pool               chan Runner
	runnerFactory      RunnerFactory
	activeRunnersCount int
	activeRunnersMu    *sync.Mutex
	maxPoolSize        int // max amount of active runners
	minPoolSize        int // min amount of idle runners kept around
}

func NewRunnerPool(ctx context.Context, runnerFactory RunnerFactory, maxPoolSize int, minPoolSize int) (*RunnerPool, error) {
	if maxPoolSize < 1 {
		return nil, fmt.Errorf("script pool max size must be positive, got %d", maxPoolSize)
	}
	if maxPoolSize < minPoolSize {
		return nil, fmt.Errorf("script pool max size %d is smaller than min size %d", maxPoolSize, minPoolSize)
	}

	p := RunnerPool{
		pool:            make(chan Runner, maxPoolSize),
		runnerFactory:   runnerFactory,
		activeRunnersMu: &sync.Mutex{},
		maxPoolSize:     maxPoolSize,
		minPoolSize:     minPoolSize,
	}

	for range minPoolSize {
		p.pool <- p.runnerFactory.NewRunner()
		p.activeRunnersCount++
	}

	// idle runners above the minimum are released every 10 minutes
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.shrink()
			case <-ctx.Done():
				return
			}
		}
	}()
	return &p, nil
}

func (r *RunnerPool) shrink() {
	for len(r.pool) > r.minPoolSize {
		select {
		case <-r.pool:
			r.activeRunnersMu.Lock()
			r.activeRunnersCount--
			r.activeRunnersMu.Unlock()
		default:
			return
		}
	}
}

// GetRunnerFromPool blocks until a runner is free or ctx is done.
func (r *RunnerPool) GetRunnerFromPool(ctx context.Context) (Runner, error) {
	select {
	case runner := <-r.pool:
		return runner, nil
	default:
	}

	r.activeRunnersMu.Lock()
	if r.activeRunnersCount < r.maxPoolSize {
		r.activeRunnersCount++
		r.activeRunnersMu.Unlock()
		return r.runnerFactory.NewRunner(), nil
	}
	r.activeRunnersMu.Unlock()

	select {
	case runner := <-r.pool:
		return runner, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RunnerPool) ReturnRunnerToPool(runner Runner) {
	select {
	case r.pool <- runner:
	default:
		// pool is full, drop the runner
		r.activeRunnersMu.Lock()
		r.activeRunnersCount--
		r.activeRunnersMu.Unlock()
	}
}

// ActiveRunners returns the number of runners currently created by the pool.
func (r *RunnerPool) ActiveRunners() int {
	r.activeRunnersMu.Lock()
	defer r.activeRunnersMu.Unlock()
	return r.activeRunnersCount
}
