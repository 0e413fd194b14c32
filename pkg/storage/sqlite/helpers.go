// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pbinitiative/zenflow/pkg/ptr"
)

func toNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return ptr.To(n.Int64)
}

func toNullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func fromNullFloat64(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return ptr.To(n.Float64)
}

// Times are stored as unix microseconds in UTC.
func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func toNullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromNullMicros(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	return ptr.To(fromMicros(n.Int64))
}

// inClause renders "column IN (?,?,...)" and appends the values to args.
func inClause[S ~string](column string, values []S, args []any) (string, []any) {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args = append(args, string(v))
	}
	return column + " IN (" + strings.Join(placeholders, ",") + ")", args
}
