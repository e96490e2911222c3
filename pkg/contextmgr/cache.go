// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package contextmgr

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "github.com/teradata-labs/assistantmd/internal/sqlitedriver"
)

// CacheKey identifies one cached section output. The template digest is
// part of the key, so editing a template orphans all its entries.
type CacheKey struct {
	TemplateDigest string
	SectionIndex   int

	// SliceDigest covers the recent-runs and recent-summaries slices the
	// section saw; a different window is a different entry.
	SliceDigest string

	// SessionID is set for session-scoped entries only.
	SessionID string
}

// SectionCache persists section outputs between context builds. Backed
// by SQLite in WAL mode.
type SectionCache struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger

	// now is a clock hook for tests.
	now func() time.Time
}

// NewSectionCache opens (or creates) the section cache database.
func NewSectionCache(ctx context.Context, dbPath string, logger *zap.Logger) (*SectionCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open section cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	cache := &SectionCache{db: db, logger: logger, now: time.Now}
	if err := cache.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize section cache schema: %w", err)
	}
	return cache, nil
}

func (c *SectionCache) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS section_cache (
		template_digest TEXT NOT NULL,
		section_index INTEGER NOT NULL,
		slice_digest TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (template_digest, section_index, slice_digest, session_id)
	);

	CREATE INDEX IF NOT EXISTS idx_section_cache_session ON section_cache(session_id);
	`
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// Get returns the cached value for key, or ok=false when absent or
// expired. Expired rows are removed on read.
func (c *SectionCache) Get(ctx context.Context, key CacheKey) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var value string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM section_cache
		WHERE template_digest = ? AND section_index = ? AND slice_digest = ? AND session_id = ?`,
		key.TemplateDigest, key.SectionIndex, key.SliceDigest, key.SessionID,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read section cache: %w", err)
	}

	// expires_at 0 means session lifetime: valid until ClearSession.
	if expiresAt != 0 && c.now().Unix() >= expiresAt {
		_, _ = c.db.ExecContext(ctx, `
			DELETE FROM section_cache
			WHERE template_digest = ? AND section_index = ? AND slice_digest = ? AND session_id = ?`,
			key.TemplateDigest, key.SectionIndex, key.SliceDigest, key.SessionID)
		return "", false, nil
	}
	return value, true, nil
}

// Put stores a section output. expiresAt zero marks a session-lifetime
// entry.
func (c *SectionCache) Put(ctx context.Context, key CacheKey, value string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires int64
	if !expiresAt.IsZero() {
		expires = expiresAt.Unix()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO section_cache (template_digest, section_index, slice_digest, session_id, value, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(template_digest, section_index, slice_digest, session_id)
		DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, created_at = excluded.created_at`,
		key.TemplateDigest, key.SectionIndex, key.SliceDigest, key.SessionID, value, expires, c.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write section cache: %w", err)
	}
	return nil
}

// ClearSession drops all session-scoped entries for one session.
func (c *SectionCache) ClearSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM section_cache WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear session cache: %w", err)
	}
	return nil
}

// Prune removes expired entries and entries whose template digest is
// not in keep. Called after a rescan.
func (c *SectionCache) Prune(ctx context.Context, keep []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM section_cache WHERE expires_at != 0 AND expires_at <= ?`, c.now().Unix()); err != nil {
		return fmt.Errorf("failed to prune expired cache entries: %w", err)
	}
	if len(keep) == 0 {
		return nil
	}

	args := make([]interface{}, len(keep))
	placeholders := ""
	for i, digest := range keep {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = digest
	}
	query := fmt.Sprintf(`DELETE FROM section_cache WHERE template_digest NOT IN (%s)`, placeholders)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune orphaned cache entries: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *SectionCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
