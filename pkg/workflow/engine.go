// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package workflow advances process instances through their process models.
//
// Every public operation runs as one transaction on the Instance Store. A step either commits
// everything the walk created or, on any error, nothing at all. Wait states (joins that are not
// satisfied yet, quorums that are not met) are not errors, they are reported as Feedback.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/v2/expirable"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/script/js"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Engine struct {
	name       string
	store      storage.Storage
	models     model.Provider
	modelCache *expirable.LRU[string, model.ProcessModel]
	cacheSize  int
	cacheTTL   time.Duration
	actions    ActionExecutor
	snowflake  *snowflake.Node
	logger     hclog.Logger
	tracer     trace.Tracer
	metrics    *otelPkg.EngineMetrics
	now        func() time.Time
}

type EngineOption = func(*Engine)

// NewEngine creates a new workflow engine. Storage and a model provider are required.
func NewEngine(options ...EngineOption) (*Engine, error) {
	name := fmt.Sprintf("Workflow-Engine-%d", getGlobalSnowflakeIdGenerator().Generate().Int64())
	engine := Engine{
		name:      name,
		snowflake: getGlobalSnowflakeIdGenerator(),
		cacheSize: 128,
		cacheTTL:  10 * time.Minute,
		logger:    hclog.Default().Named("workflow-engine"),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}

	for _, option := range options {
		option(&engine)
	}

	if engine.store == nil {
		return nil, newEngineErrorf("engine %s has no storage configured", engine.name)
	}
	if engine.models == nil {
		return nil, newEngineErrorf("engine %s has no process model provider configured", engine.name)
	}
	if engine.actions == nil {
		scripts, err := js.NewJsRuntime(context.Background(), 4, 0)
		if err != nil {
			return nil, errors.Join(newEngineErrorf("failed to create script runtime"), err)
		}
		engine.actions = NewActionExecutor(scripts)
	}
	engine.modelCache = expirable.NewLRU[string, model.ProcessModel](engine.cacheSize, nil, engine.cacheTTL)
	engine.tracer = otel.Tracer(engine.name)

	metrics, err := otelPkg.NewMetrics(otel.Meter(engine.name))
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to create engine metrics"), err)
	}
	engine.metrics = metrics

	return &engine, nil
}

func EngineWithStorage(store storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.store = store
	}
}

func EngineWithModelProvider(provider model.Provider) EngineOption {
	return func(engine *Engine) {
		engine.models = provider
	}
}

func EngineWithActionExecutor(executor ActionExecutor) EngineOption {
	return func(engine *Engine) {
		engine.actions = executor
	}
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

// EngineWithModelCache sizes the process model cache in front of the provider.
func EngineWithModelCache(size int, ttl time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.cacheSize = size
		engine.cacheTTL = ttl
	}
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

// runInTx executes fn in one store transaction. The transaction ignores caller cancellation,
// a started step always runs to commit or rollback.
func (engine *Engine) runInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	tx, err := engine.store.Begin(ctx)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to begin transaction"), err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Join(newEngineErrorf("failed to commit transaction"), err)
	}
	return nil
}
