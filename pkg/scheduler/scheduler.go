// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

// DefaultWorkerLimit bounds concurrent workflow runs.
const DefaultWorkerLimit = 4

// ProtectedPrefix marks reserved non-workflow jobs that reconciliation
// never touches.
const ProtectedPrefix = "system/"

// Runner executes one workflow run. The definition is re-resolved by
// global id inside the runner, so the scheduler never holds one.
type Runner func(ctx context.Context, globalID, cause string) (*types.RunRecord, error)

// Config wires a Scheduler.
type Config struct {
	Store    *Store
	Runner   Runner
	DataRoot string

	// WorkerLimit bounds concurrent runs. Defaults to DefaultWorkerLimit.
	WorkerLimit int

	Logger *zap.Logger

	// Now is a clock hook for tests.
	Now func() time.Time
}

// Scheduler fires workflow runs from persistent cron and once triggers.
// Runs of the same workflow never overlap; different workflows run
// concurrently up to the worker limit.
type Scheduler struct {
	store    *Store
	runner   Runner
	dataRoot string
	logger   *zap.Logger
	now      func() time.Time

	cron *cron.Cron
	sem  chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	timers   map[string]*time.Timer
	inflight map[string]bool
	pending  map[string]string
	started  bool
	stopped  bool
}

// New creates a Scheduler. Start must be called before triggers fire.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.WorkerLimit <= 0 {
		cfg.WorkerLimit = DefaultWorkerLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:    cfg.Store,
		runner:   cfg.Runner,
		dataRoot: cfg.DataRoot,
		logger:   cfg.Logger,
		now:      cfg.Now,
		cron:     cron.New(),
		sem:      make(chan struct{}, cfg.WorkerLimit),
		entries:  map[string]cron.EntryID{},
		timers:   map[string]*time.Timer{},
		inflight: map[string]bool{},
		pending:  map[string]string{},
	}, nil
}

// Start arms every stored job and begins the cron engine. A once job
// whose fire time passed while the process was down is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	jobs, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if strings.HasPrefix(job.GlobalID, ProtectedPrefix) {
			continue
		}
		if err := s.arm(ctx, job); err != nil {
			s.logger.Warn("failed to arm job",
				zap.String("global_id", job.GlobalID),
				zap.Error(err))
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Int("jobs", len(jobs)),
		zap.Int("worker_limit", cap(s.sem)))
	return nil
}

// Stop halts trigger processing and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Created  []string
	Updated  []string
	Replaced []string
	Removed  []string
}

// Reconcile aligns the job store with the current definitions. Jobs
// whose trigger and engine are unchanged keep their next-fire time;
// protected jobs are never touched.
func (s *Scheduler) Reconcile(ctx context.Context, defs []*directive.Definition) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	now := s.now()

	want := map[string]*directive.Definition{}
	for _, def := range defs {
		if def.Kind != directive.KindWorkflow || !def.Enabled || def.Schedule == nil {
			continue
		}
		// A once trigger in the past schedules nothing.
		if def.Schedule.Kind == directive.ScheduleOnce && !def.Schedule.At.After(now) {
			continue
		}
		want[def.GlobalID] = def
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, job := range existing {
		if strings.HasPrefix(job.GlobalID, ProtectedPrefix) {
			continue
		}
		def, ok := want[job.GlobalID]
		if !ok {
			if err := s.removeJob(ctx, job.GlobalID); err != nil {
				return nil, err
			}
			report.Removed = append(report.Removed, job.GlobalID)
			continue
		}
		seen[job.GlobalID] = true

		if job.TriggerRaw == def.Schedule.Raw && job.Engine == def.Engine {
			if err := s.store.UpdateArgs(ctx, job.GlobalID, s.dataRoot); err != nil {
				return nil, err
			}
			if err := s.ensureArmed(ctx, job); err != nil {
				return nil, err
			}
			report.Updated = append(report.Updated, job.GlobalID)
			continue
		}

		if err := s.createJob(ctx, def); err != nil {
			return nil, err
		}
		report.Replaced = append(report.Replaced, job.GlobalID)
	}

	for id, def := range want {
		if seen[id] {
			continue
		}
		if err := s.createJob(ctx, def); err != nil {
			return nil, err
		}
		report.Created = append(report.Created, id)
	}

	s.logger.Info("scheduler reconciled",
		zap.Int("created", len(report.Created)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("replaced", len(report.Replaced)),
		zap.Int("removed", len(report.Removed)))
	return report, nil
}

// TriggerNow runs a workflow immediately through the normal worker
// path, serialized behind any in-flight run of the same workflow.
func (s *Scheduler) TriggerNow(globalID string) {
	s.dispatch(globalID, types.CauseManual)
}

// Jobs lists the stored jobs, soonest first.
func (s *Scheduler) Jobs(ctx context.Context) ([]*Job, error) {
	return s.store.List(ctx)
}

// RunHistory returns the latest runs of one workflow, newest first.
func (s *Scheduler) RunHistory(ctx context.Context, globalID string, limit int) ([]*RunSummary, error) {
	return s.store.GetRunHistory(ctx, globalID, limit)
}

// createJob stores and arms a job with a fresh next-fire time.
func (s *Scheduler) createJob(ctx context.Context, def *directive.Definition) error {
	next, err := s.nextFire(def.Schedule)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", def.GlobalID, err)
	}

	s.unarm(def.GlobalID)
	job := &Job{
		GlobalID:   def.GlobalID,
		TriggerRaw: def.Schedule.Raw,
		Engine:     def.Engine,
		DataRoot:   s.dataRoot,
		NextFire:   next,
	}
	if err := s.store.Put(ctx, job); err != nil {
		return err
	}
	return s.arm(ctx, job)
}

// removeJob drops a job from the store and the trigger engine.
func (s *Scheduler) removeJob(ctx context.Context, globalID string) error {
	s.unarm(globalID)
	return s.store.Delete(ctx, globalID)
}

// ensureArmed arms a preserved job that is not yet in the trigger
// engine (first reconcile after restart arms everything in Start).
func (s *Scheduler) ensureArmed(ctx context.Context, job *Job) error {
	s.mu.Lock()
	_, hasEntry := s.entries[job.GlobalID]
	_, hasTimer := s.timers[job.GlobalID]
	s.mu.Unlock()
	if hasEntry || hasTimer {
		return nil
	}
	return s.arm(ctx, job)
}

// arm registers a job with the cron engine or a one-shot timer.
func (s *Scheduler) arm(ctx context.Context, job *Job) error {
	sched, err := directive.ParseSchedule(job.TriggerRaw, time.Local, time.Time{})
	if err != nil {
		return fmt.Errorf("invalid stored trigger for %s: %w", job.GlobalID, err)
	}

	switch sched.Kind {
	case directive.ScheduleCron:
		cronSched, err := cron.ParseStandard(sched.CronExpr)
		if err != nil {
			return fmt.Errorf("invalid cron expression for %s: %w", job.GlobalID, err)
		}
		globalID := job.GlobalID
		entryID := s.cron.Schedule(cronSched, cron.FuncJob(func() {
			s.dispatch(globalID, types.CauseScheduled)
			_ = s.store.UpdateNextFire(context.Background(), globalID, cronSched.Next(s.now()))
		}))
		s.mu.Lock()
		s.entries[job.GlobalID] = entryID
		s.mu.Unlock()

		if job.NextFire.IsZero() {
			return s.store.UpdateNextFire(ctx, job.GlobalID, cronSched.Next(s.now()))
		}
		return nil

	case directive.ScheduleOnce:
		at := job.NextFire
		if at.IsZero() {
			at = sched.At
		}
		delay := at.Sub(s.now())
		if delay < 0 {
			s.logger.Warn("dropping once job whose fire time passed",
				zap.String("global_id", job.GlobalID),
				zap.Time("fire_time", at))
			return s.store.Delete(ctx, job.GlobalID)
		}
		globalID := job.GlobalID
		timer := time.AfterFunc(delay, func() { s.fireOnce(globalID) })
		s.mu.Lock()
		s.timers[job.GlobalID] = timer
		s.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("unknown trigger kind %q for %s", sched.Kind, job.GlobalID)
	}
}

// unarm removes a job from the trigger engine.
func (s *Scheduler) unarm(globalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[globalID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, globalID)
	}
	if timer, ok := s.timers[globalID]; ok {
		timer.Stop()
		delete(s.timers, globalID)
	}
}

// fireOnce runs a one-shot job and removes it from the store.
func (s *Scheduler) fireOnce(globalID string) {
	s.dispatch(globalID, types.CauseScheduled)

	s.mu.Lock()
	delete(s.timers, globalID)
	s.mu.Unlock()

	if err := s.store.Delete(context.Background(), globalID); err != nil {
		s.logger.Error("failed to remove fired once job",
			zap.String("global_id", globalID),
			zap.Error(err))
	}
}

// dispatch runs a workflow on a worker. Runs of the same workflow are
// serialized: a trigger landing while one is in flight queues behind it
// and starts when the in-flight run completes. The queue holds one
// trigger per workflow; further overlaps collapse into it.
func (s *Scheduler) dispatch(globalID, cause string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.inflight[globalID] {
		if _, queued := s.pending[globalID]; !queued {
			s.pending[globalID] = cause
			s.logger.Info("queueing overlapping run",
				zap.String("global_id", globalID),
				zap.String("cause", cause))
		}
		s.mu.Unlock()
		return
	}
	s.inflight[globalID] = true
	s.mu.Unlock()

	s.spawn(globalID, cause)
}

// spawn runs one workflow on a worker. The caller must already hold the
// workflow's in-flight slot.
func (s *Scheduler) spawn(globalID, cause string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sem <- struct{}{}
		s.execute(globalID, cause)
		<-s.sem

		s.finish(globalID)
	}()
}

// finish releases a workflow's in-flight slot, draining the queued
// trigger if one arrived during the run.
func (s *Scheduler) finish(globalID string) {
	s.mu.Lock()
	next, queued := s.pending[globalID]
	delete(s.pending, globalID)
	if queued && !s.stopped {
		// Keep the in-flight slot and hand it to the queued run.
		s.mu.Unlock()
		s.spawn(globalID, next)
		return
	}
	delete(s.inflight, globalID)
	s.mu.Unlock()
}

func (s *Scheduler) execute(globalID, cause string) {
	record, err := s.runner(context.Background(), globalID, cause)
	if err != nil {
		s.logger.Error("workflow run failed",
			zap.String("global_id", globalID),
			zap.String("cause", cause),
			zap.Error(err))
	}
	if record == nil {
		return
	}
	if err := s.store.RecordRun(context.Background(), record); err != nil {
		s.logger.Error("failed to record run",
			zap.String("global_id", globalID),
			zap.Error(err))
	}
}

// nextFire computes the first fire time of a fresh trigger.
func (s *Scheduler) nextFire(sched *directive.Schedule) (time.Time, error) {
	switch sched.Kind {
	case directive.ScheduleCron:
		cronSched, err := cron.ParseStandard(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		return cronSched.Next(s.now()), nil
	case directive.ScheduleOnce:
		return sched.At, nil
	default:
		return time.Time{}, fmt.Errorf("unknown trigger kind %q", sched.Kind)
	}
}
