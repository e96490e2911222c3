// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package scheduler persists cron and once triggers for workflows and
// fires engine runs when they come due.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/types"

	_ "github.com/teradata-labs/assistantmd/internal/sqlitedriver"
)

// Job is one persistent scheduled workflow. The args are deliberately
// minimal: the definition is re-resolved by global id at fire time, so
// edits between reconciliations take effect on the next run.
type Job struct {
	GlobalID   string
	TriggerRaw string
	Engine     string
	DataRoot   string
	NextFire   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RunSummary is one row of a workflow's run history.
type RunSummary struct {
	RunID      string
	Cause      string
	StartedAt  time.Time
	FinishedAt time.Time
	Failed     bool
	ErrorKind  string
	Error      string
}

// Store persists scheduler jobs and run history to SQLite in WAL mode.
// The reconciler is the single writer of the jobs table.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore opens (or creates) the scheduler database.
func NewStore(ctx context.Context, dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open scheduler store: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize scheduler schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		global_id TEXT PRIMARY KEY,
		trigger_raw TEXT NOT NULL,
		engine TEXT NOT NULL,
		data_root TEXT NOT NULL,
		next_fire INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_next_fire ON jobs(next_fire);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		global_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		cause TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_global_id ON runs(global_id, started_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Put inserts or replaces a job.
func (s *Store) Put(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	created := now
	if !job.CreatedAt.IsZero() {
		created = job.CreatedAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (global_id, trigger_raw, engine, data_root, next_fire, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(global_id) DO UPDATE SET
			trigger_raw = excluded.trigger_raw,
			engine = excluded.engine,
			data_root = excluded.data_root,
			next_fire = excluded.next_fire,
			updated_at = excluded.updated_at`,
		job.GlobalID, job.TriggerRaw, job.Engine, job.DataRoot, unixOrZero(job.NextFire), created, now)
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.GlobalID, err)
	}
	return nil
}

// UpdateArgs refreshes a job's args without touching its trigger or
// next-fire time.
func (s *Store) UpdateArgs(ctx context.Context, globalID, dataRoot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET data_root = ?, updated_at = ? WHERE global_id = ?`,
		dataRoot, time.Now().Unix(), globalID)
	if err != nil {
		return fmt.Errorf("failed to update job args for %s: %w", globalID, err)
	}
	return nil
}

// UpdateNextFire records when a job will next run.
func (s *Store) UpdateNextFire(ctx context.Context, globalID string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET next_fire = ?, updated_at = ? WHERE global_id = ?`,
		unixOrZero(next), time.Now().Unix(), globalID)
	if err != nil {
		return fmt.Errorf("failed to update next fire for %s: %w", globalID, err)
	}
	return nil
}

// Get returns the job for globalID, or ok=false when absent.
func (s *Store) Get(ctx context.Context, globalID string) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT global_id, trigger_raw, engine, data_root, next_fire, created_at, updated_at
		FROM jobs WHERE global_id = ?`, globalID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read job %s: %w", globalID, err)
	}
	return job, true, nil
}

// Delete removes a job. Deleting an absent job is not an error.
func (s *Store) Delete(ctx context.Context, globalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE global_id = ?`, globalID); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", globalID, err)
	}
	return nil
}

// List returns every job ordered by next fire time.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT global_id, trigger_raw, engine, data_root, next_fire, created_at, updated_at
		FROM jobs ORDER BY next_fire ASC, global_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecordRun appends one run record to the history.
func (s *Store) RecordRun(ctx context.Context, record *types.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := 0
	if record.Failed() {
		failed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (global_id, run_id, cause, started_at, finished_at, failed, error_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.GlobalID, record.RunID, record.Cause,
		record.StartedAt.Unix(), record.FinishedAt.Unix(),
		failed, record.ErrorKind, record.Error)
	if err != nil {
		return fmt.Errorf("failed to record run for %s: %w", record.GlobalID, err)
	}
	return nil
}

// GetRunHistory returns the most recent runs for a workflow, newest
// first.
func (s *Store) GetRunHistory(ctx context.Context, globalID string, limit int) ([]*RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, cause, started_at, finished_at, failed, error_kind, error
		FROM runs WHERE global_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, globalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history for %s: %w", globalID, err)
	}
	defer rows.Close()

	var history []*RunSummary
	for rows.Next() {
		var (
			run       RunSummary
			started   int64
			finished  int64
			failed    int
			errorKind sql.NullString
			runErr    sql.NullString
		)
		if err := rows.Scan(&run.RunID, &run.Cause, &started, &finished, &failed, &errorKind, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run history: %w", err)
		}
		run.StartedAt = time.Unix(started, 0)
		run.FinishedAt = time.Unix(finished, 0)
		run.Failed = failed != 0
		run.ErrorKind = errorKind.String
		run.Error = runErr.String
		history = append(history, &run)
	}
	return history, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		nextFire  int64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&job.GlobalID, &job.TriggerRaw, &job.Engine, &job.DataRoot, &nextFire, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if nextFire != 0 {
		job.NextFire = time.Unix(nextFire, 0)
	}
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return &job, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
