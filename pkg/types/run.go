// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import "time"

// Run causes. A run may also be caused by a single named step, in which
// case Cause carries the step name.
const (
	CauseScheduled = "scheduled"
	CauseManual    = "manual"
)

// StepStatus is the outcome of one step within a run.
type StepStatus string

const (
	StepExecuted StepStatus = "executed"
	StepSkipped  StepStatus = "skipped"
	StepFailed   StepStatus = "failed"
)

// StepResult records one step's outcome in a run.
type StepResult struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	SkipReason  string     `json:"skip_reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	ModelCalled bool       `json:"model_called"`
	StartedAt   time.Time  `json:"started_at"`
	DurationMs  int64      `json:"duration_ms"`
}

// RunRecord is the write-only history of one workflow invocation. The
// engine appends to it as steps complete; the host persists it opaquely.
type RunRecord struct {
	RunID            string       `json:"run_id"`
	GlobalID         string       `json:"global_id"`
	Cause            string       `json:"cause"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
	Steps            []StepResult `json:"steps"`
	OutputFiles      []string     `json:"output_files,omitempty"`
	VariablesCreated []string     `json:"variables_created,omitempty"`
	ErrorKind        string       `json:"error_kind,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// Failed reports whether the run aborted with an error.
func (r *RunRecord) Failed() bool {
	return r.Error != ""
}

// RecordOutputFile notes a file the run wrote, deduplicated.
func (r *RunRecord) RecordOutputFile(path string) {
	for _, p := range r.OutputFiles {
		if p == path {
			return
		}
	}
	r.OutputFiles = append(r.OutputFiles, path)
}

// RecordVariable notes a buffer the run created or updated, deduplicated.
func (r *RunRecord) RecordVariable(name string) {
	for _, v := range r.VariablesCreated {
		if v == name {
			return
		}
	}
	r.VariablesCreated = append(r.VariablesCreated, name)
}
