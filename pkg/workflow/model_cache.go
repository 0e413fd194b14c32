// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenflow/pkg/workflow/model"
)

func modelCacheKey(processGUID, version string) string {
	return processGUID + "@" + version
}

// getModel resolves a process model through the cache. Requests for the latest version
// are cached under the empty version and under the version the provider returned.
func (engine *Engine) getModel(ctx context.Context, processGUID string, version string) (model.ProcessModel, error) {
	if pm, ok := engine.modelCache.Get(modelCacheKey(processGUID, version)); ok {
		return pm, nil
	}
	pm, err := engine.models.GetProcessModel(ctx, processGUID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load process model %s version %q: %w", processGUID, version, err)
	}
	engine.modelCache.Add(modelCacheKey(processGUID, version), pm)
	if version == "" {
		engine.modelCache.Add(modelCacheKey(processGUID, pm.Version()), pm)
	}
	return pm, nil
}
