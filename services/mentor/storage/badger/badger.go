// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB lifecycle for the mentor service.
//
// The service keeps one embedded database for interaction memory and
// suspended-session persistence. This package owns opening, closing, and
// background value-log garbage collection; callers run their reads and
// writes through WithReadTxn/WithTxn and work with raw BadgerDB
// transactions inside the callback, so key layout and encoding stay with
// the feature packages that own them.
//
// Import aliased as badgerstore to avoid colliding with the upstream
// driver import.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Config
// =============================================================================

// Config controls how the database is opened.
type Config struct {
	// Path is the directory holding the data and value-log files.
	// Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in RAM. No files are written.
	// Intended for tests.
	InMemory bool

	// SyncWrites fsyncs every write. Durable across power loss, slower.
	SyncWrites bool

	// GCInterval is how often the value-log garbage collector runs.
	// 0 disables background collection. Ignored for in-memory databases.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal log output. Nil falls back to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the on-disk configuration the service uses. The
// caller must fill in Path before opening.
func DefaultConfig() Config {
	return Config{
		SyncWrites: false,
		GCInterval: 10 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for an ephemeral in-memory
// database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// =============================================================================
// DB
// =============================================================================

// DB is a lifecycle wrapper around a single BadgerDB instance.
//
// Description:
//
//	Opened once at startup and shared by every store that persists
//	through it. WithTxn and WithReadTxn check context cancellation
//	before entering BadgerDB, which has no context support of its own.
//	Close stops the background garbage collector before closing the
//	database, so it is safe to call during shutdown while stores are
//	still wired.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine; never share a *dgbadger.Txn across goroutines.
type DB struct {
	db     *dgbadger.DB
	log    *slog.Logger
	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenDB opens (creating if necessary) the database described by cfg.
//
// Inputs:
//   - cfg: Open configuration. Path is required unless InMemory is set.
//
// Outputs:
//   - *DB: Ready-to-use wrapper. The caller owns the lifecycle and must
//     call Close.
//   - error: Non-nil when the directory cannot be opened or locked.
func OpenDB(cfg Config) (*DB, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: config path is empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(slogAdapter{log: log})

	raw, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}

	d := &DB{db: raw, log: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.gcStop = make(chan struct{})
		d.gcDone = make(chan struct{})
		go d.gcLoop(cfg.GCInterval)
	}
	return d, nil
}

// WithTxn runs fn inside a read-write transaction. The transaction commits
// when fn returns nil and discards otherwise.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger: txn aborted: %w", err)
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger: txn aborted: %w", err)
	}
	return d.db.View(fn)
}

// Close stops the background garbage collector and closes the database.
func (d *DB) Close() error {
	if d.gcStop != nil {
		close(d.gcStop)
		<-d.gcDone
		d.gcStop = nil
	}
	return d.db.Close()
}

// gcLoop reclaims value-log space on a timer. ErrNoRewrite means there was
// nothing worth collecting and is not a failure.
func (d *DB) gcLoop(interval time.Duration) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			err := d.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, dgbadger.ErrNoRewrite) {
				d.log.Warn("badger value-log GC failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// =============================================================================
// Logging
// =============================================================================

// slogAdapter routes BadgerDB's internal chatter through slog. Info and
// below map to Debug so steady-state compaction noise stays out of the
// service log.
type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.log.Error("badger: " + sprintTrimmed(format, args...))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.log.Warn("badger: " + sprintTrimmed(format, args...))
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.log.Debug("badger: " + sprintTrimmed(format, args...))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.log.Debug("badger: " + sprintTrimmed(format, args...))
}

// sprintTrimmed formats and strips the trailing newline BadgerDB puts on
// its log lines.
func sprintTrimmed(format string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
