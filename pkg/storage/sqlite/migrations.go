// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed migrations
var migrations embed.FS

// GetMigrations returns the schema scripts in file name order.
func GetMigrations() ([]string, error) {
	migDir, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}
	names := make([]string, 0, len(migDir))
	for _, f := range migDir {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	res := make([]string, 0, len(names))
	for _, name := range names {
		content, err := migrations.ReadFile(path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		res = append(res, string(content))
	}
	return res, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	scripts, err := GetMigrations()
	if err != nil {
		return err
	}
	for i, script := range scripts {
		if _, err := db.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("failed to apply migration #%d: %w", i+1, err)
		}
	}
	return nil
}
