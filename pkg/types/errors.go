// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInputMissing signals that a required input produced no matches. The
// step engine recovers it by skipping the step; it never fails a run.
var ErrInputMissing = errors.New("required input produced no matches")

// DirectiveParseError reports a malformed or unknown directive. At load
// time the owning file is marked invalid and its schedule is removed.
type DirectiveParseError struct {
	Line   int
	Name   string
	Reason string
}

func (e *DirectiveParseError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: directive @%s: %s", e.Line, e.Name, e.Reason)
}

// InvalidPatternError reports an unknown pattern token or a forbidden path
// construct in a directive value.
type InvalidPatternError struct {
	Pattern string
	Reason  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

// VaultBoundaryError reports a path that resolves outside its vault root.
// Fatal for the run; never retried.
type VaultBoundaryError struct {
	Path string
}

func (e *VaultBoundaryError) Error() string {
	return fmt.Sprintf("path %q escapes the vault", e.Path)
}

// ScheduleParseError reports an invalid frontmatter schedule. The workflow
// still loads but schedules nothing.
type ScheduleParseError struct {
	Value  string
	Reason string
}

func (e *ScheduleParseError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %s", e.Value, e.Reason)
}

// ModelUnavailableError reports a model alias with no usable provider or
// secret behind it.
type ModelUnavailableError struct {
	Alias  string
	Reason string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %q unavailable: %s", e.Alias, e.Reason)
}

// ToolError reports a failure surfaced by a tool. Non-critical tool errors
// are returned to the model as the tool-call result; critical ones abort
// the step.
type ToolError struct {
	Tool     string
	Message  string
	Critical bool
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// TimeoutError reports a blown LLM or tool deadline.
type TimeoutError struct {
	Op       string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded its %s deadline", e.Op, e.Deadline)
}

// BufferLimitError reports a payload or full-buffer read that exceeds the
// internal size cap. Callers should use a range read instead.
type BufferLimitError struct {
	Scope Scope
	Name  string
	Size  int
	Limit int
}

func (e *BufferLimitError) Error() string {
	return fmt.Sprintf("buffer %s/%s: %d bytes exceeds the %d byte limit", e.Scope, e.Name, e.Size, e.Limit)
}

// RuntimeStateError reports engine access before bootstrap completed.
type RuntimeStateError struct {
	Op string
}

func (e *RuntimeStateError) Error() string {
	return fmt.Sprintf("%s called before runtime bootstrap", e.Op)
}

// ConfigRepairError reports a settings file that disagrees with its
// template in a way the user must repair.
type ConfigRepairError struct {
	Missing []string
}

func (e *ConfigRepairError) Error() string {
	return fmt.Sprintf("settings file is missing required sections: %v", e.Missing)
}

// ErrorKind returns a stable machine-readable label for err, for run
// records and status surfaces. Unrecognized errors report "internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		directiveErr *DirectiveParseError
		patternErr   *InvalidPatternError
		boundaryErr  *VaultBoundaryError
		scheduleErr  *ScheduleParseError
		modelErr     *ModelUnavailableError
		toolErr      *ToolError
		timeoutErr   *TimeoutError
		bufferErr    *BufferLimitError
		runtimeErr   *RuntimeStateError
		repairErr    *ConfigRepairError
	)
	switch {
	case errors.Is(err, ErrInputMissing):
		return "input_missing"
	case errors.As(err, &directiveErr):
		return "directive_parse"
	case errors.As(err, &patternErr):
		return "invalid_pattern"
	case errors.As(err, &boundaryErr):
		return "vault_boundary"
	case errors.As(err, &scheduleErr):
		return "schedule_parse"
	case errors.As(err, &modelErr):
		return "model_unavailable"
	case errors.As(err, &toolErr):
		return "tool_error"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &bufferErr):
		return "buffer_limit_exceeded"
	case errors.As(err, &runtimeErr):
		return "runtime_state"
	case errors.As(err, &repairErr):
		return "config_repair_needed"
	default:
		return "internal"
	}
}
