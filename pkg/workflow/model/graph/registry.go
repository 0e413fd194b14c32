// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/pbinitiative/zenflow/pkg/workflow/model"
)

// Registry keeps graphs by process GUID. The most recently registered version is the latest.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string][]*Graph
}

var _ model.Provider = &Registry{}

func NewRegistry() *Registry {
	return &Registry{graphs: map[string][]*Graph{}}
}

// Register adds a graph, replacing a previously registered graph with the same GUID and version.
func (r *Registry) Register(g *Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.graphs[g.processGUID]
	for i, existing := range versions {
		if existing.version == g.version {
			versions = append(versions[:i], versions[i+1:]...)
			break
		}
	}
	r.graphs[g.processGUID] = append(versions, g)
}

func (r *Registry) GetProcessModel(ctx context.Context, processGUID string, version string) (model.ProcessModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.graphs[processGUID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("process %s: %w", processGUID, model.ErrModelNotFound)
	}
	if version == "" {
		return versions[len(versions)-1], nil
	}
	for _, g := range versions {
		if g.version == version {
			return g, nil
		}
	}
	return nil, fmt.Errorf("process %s version %s: %w", processGUID, version, model.ErrModelNotFound)
}
