// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"fmt"

	"github.com/pbinitiative/zenflow/pkg/workflow/model"
)

func validatePerformerType(t model.NextPerformerType) error {
	switch t {
	case "", model.NextPerformerTypeSpecific, model.NextPerformerTypeDefinition, model.NextPerformerTypeSingle:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidPerformerType, t)
}

// resolvePerformers returns the performers of a human-facing successor.
func (s *step) resolvePerformers(pm model.ProcessModel, activity *model.Activity) (model.PerformerList, error) {
	var performers model.PerformerList
	switch s.runner.NextPerformerType {
	case model.NextPerformerTypeSpecific:
		performers = s.resource.NextActivityPerformers[activity.GUID]
	case model.NextPerformerTypeDefinition:
		declared, err := pm.GetActivityPerformers(activity.GUID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve performers of activity %s: %w", activity.GUID, err)
		}
		performers = declared
	case model.NextPerformerTypeSingle:
		performers = model.PerformerList{{UserID: s.runner.UserID, UserName: s.runner.UserName}}
	default:
		return nil, fmt.Errorf("%w: %q at activity %s", ErrInvalidPerformerType, s.runner.NextPerformerType, activity.GUID)
	}
	if len(performers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPerformersMissing, activity.GUID)
	}
	return performers, nil
}
