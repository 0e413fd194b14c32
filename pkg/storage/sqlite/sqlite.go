// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package sqlite is a storage.Storage on a local SQLite database.
// Transactions start with BEGIN IMMEDIATE, so writers serialize on the database lock
// and a transaction never reads rows another writer is about to change.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/hashicorp/go-hclog"
	sqlite3 "github.com/rqlite/go-sqlite3"

	"github.com/pbinitiative/zenflow/pkg/storage"
)

const driverName = "zenflow-sqlite3"

var registerDriver sync.Once

// Storage keeps process information in a SQLite database,
// please use Open to create a new object of this type.
type Storage struct {
	reader

	db     *sql.DB
	logger hclog.Logger
}

var _ storage.Storage = &Storage{}

// Open opens (or creates) the database file at path and applies the embedded migrations.
func Open(ctx context.Context, path string, logger hclog.Logger) (*Storage, error) {
	registerDriver.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{})
	})
	if logger == nil {
		logger = hclog.Default().Named("sqlite-store")
	}

	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	dsn := fmt.Sprintf("file:%s?%s", path, params.Encode())

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sqlite store opened", "path", path)
	return &Storage{
		reader: reader{q: db},
		db:     db,
		logger: logger,
	}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrBusy {
			return nil, fmt.Errorf("sqlite database is locked by another writer: %w", err)
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{
		reader: reader{q: tx},
		tx:     tx,
	}, nil
}

type Tx struct {
	reader

	tx *sql.Tx
}

var _ storage.Tx = &Tx{}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
