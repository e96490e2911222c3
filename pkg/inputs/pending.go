// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package inputs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "github.com/teradata-labs/assistantmd/internal/sqlitedriver"
)

// PathDigest pairs a vault-relative path with its content digest.
type PathDigest struct {
	Path   string
	Digest string
}

// PendingStore persists which files a workflow has already processed for
// a given {pending} input pattern. A file re-queues when its digest
// changes. Backed by SQLite in WAL mode.
type PendingStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewPendingStore opens (or creates) the pending-state database.
func NewPendingStore(ctx context.Context, dbPath string, logger *zap.Logger) (*PendingStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open pending database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &PendingStore{db: db, logger: logger}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize pending schema: %w", err)
	}
	return store, nil
}

func (s *PendingStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_state (
		workflow_global_id TEXT NOT NULL,
		pattern TEXT NOT NULL,
		path TEXT NOT NULL,
		digest TEXT NOT NULL,
		marked_at INTEGER NOT NULL,
		PRIMARY KEY (workflow_global_id, pattern, path)
	);

	CREATE INDEX IF NOT EXISTS idx_pending_workflow ON pending_state(workflow_global_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// FilterUnprocessed returns the candidates not yet marked processed for
// (globalID, pattern), preserving candidate order. A candidate whose
// stored digest differs from its current one counts as unprocessed.
func (s *PendingStore) FilterUnprocessed(ctx context.Context, globalID, pattern string, candidates []PathDigest) ([]PathDigest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT digest FROM pending_state WHERE workflow_global_id = ? AND pattern = ? AND path = ?`

	var unprocessed []PathDigest
	for _, candidate := range candidates {
		var stored string
		err := s.db.QueryRowContext(ctx, query, globalID, pattern, candidate.Path).Scan(&stored)
		switch {
		case err == sql.ErrNoRows:
			unprocessed = append(unprocessed, candidate)
		case err != nil:
			return nil, fmt.Errorf("failed to query pending state: %w", err)
		case stored != candidate.Digest:
			unprocessed = append(unprocessed, candidate)
		}
	}
	return unprocessed, nil
}

// MarkProcessed records the files as processed for (globalID, pattern).
// Called only after the consuming step completes successfully.
func (s *PendingStore) MarkProcessed(ctx context.Context, globalID, pattern string, files []PathDigest) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin pending transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pending_state (workflow_global_id, pattern, path, digest, marked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workflow_global_id, pattern, path) DO UPDATE SET digest = excluded.digest, marked_at = excluded.marked_at
	`
	now := time.Now().Unix()
	for _, f := range files {
		if _, err := tx.ExecContext(ctx, query, globalID, pattern, f.Path, f.Digest, now); err != nil {
			return fmt.Errorf("failed to mark %s processed: %w", f.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pending state: %w", err)
	}

	s.logger.Debug("marked files processed",
		zap.String("global_id", globalID),
		zap.String("pattern", pattern),
		zap.Int("count", len(files)))
	return nil
}

// Forget drops all pending state for a workflow, e.g. when its file is
// removed from the vault.
func (s *PendingStore) Forget(ctx context.Context, globalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_state WHERE workflow_global_id = ?`, globalID); err != nil {
		return fmt.Errorf("failed to forget pending state: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PendingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
