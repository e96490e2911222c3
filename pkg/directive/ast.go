// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package directive parses workflow and context-template markdown files:
// YAML frontmatter, level-2 section headings, and @directive lines. The
// result is a single typed definition consumed by the loader, the step
// engine, and the context manager; nothing re-parses at run time.
package directive

import (
	"strings"
	"time"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// Kind distinguishes the two definition flavors.
type Kind string

const (
	// KindWorkflow is a schedulable step pipeline.
	KindWorkflow Kind = "workflow"

	// KindContextTemplate composes chat-agent system context.
	KindContextTemplate Kind = "context_template"
)

// CountAll marks passthrough_runs, @recent_runs, and @recent_summaries
// values spelled "all".
const CountAll = -1

// Definition is the parsed form of one markdown definition file.
type Definition struct {
	// Name is the file base name without extension.
	Name string

	// Vault and GlobalID are stamped by the loader.
	Vault    string
	GlobalID string

	Kind Kind

	// Engine is the workflow engine tag; "step" is the only defined engine.
	Engine string

	// Schedule is nil when the file carries none or when the schedule
	// failed to parse (see ScheduleError).
	Schedule *Schedule

	// ScheduleError is the message of a schedule that failed to parse.
	// The definition still loads; it just schedules nothing.
	ScheduleError string

	Enabled     bool
	Description string

	// WeekStartDay anchors week pattern tokens. Default Monday.
	WeekStartDay time.Weekday

	// PassthroughRuns and TokenThreshold apply to context templates only.
	// PassthroughRuns is CountAll when spelled "all" or omitted.
	PassthroughRuns int
	TokenThreshold  int

	// Custom preserves unknown frontmatter keys. The runtime ignores them.
	Custom map[string]interface{}

	// Instructions is the workflow system preamble. ChatInstructions and
	// ContextInstructions are the context-template fixed sections.
	Instructions        string
	ChatInstructions    string
	ContextInstructions string

	// Steps are the executable sections in source order.
	Steps []Step

	// SourceDigest is the SHA-256 of the file content, hex encoded.
	SourceDigest string

	// Path is the absolute source file path, stamped by the loader.
	Path string

	// Warnings are non-fatal findings surfaced by status commands, e.g.
	// mixing @output file: with the file_ops_safe tool in one step.
	Warnings []string
}

// HasExecutableSections reports whether any executable section exists.
func (d *Definition) HasExecutableSections() bool {
	return len(d.Steps) > 0
}

// Step returns the named step, matching case-insensitively.
func (d *Definition) Step(name string) *Step {
	for i := range d.Steps {
		if strings.EqualFold(d.Steps[i].Heading, name) {
			return &d.Steps[i]
		}
	}
	return nil
}

// ScheduleKind discriminates recurring and one-shot triggers.
type ScheduleKind string

const (
	ScheduleCron ScheduleKind = "cron"
	ScheduleOnce ScheduleKind = "once"
)

// Schedule is a parsed frontmatter trigger.
type Schedule struct {
	Kind ScheduleKind

	// CronExpr is the 5-field expression for ScheduleCron.
	CronExpr string

	// At is the fire time for ScheduleOnce.
	At time.Time

	// Raw is the frontmatter spelling, kept for reconciliation compares.
	Raw string
}

// SourceKind distinguishes input sources.
type SourceKind string

const (
	SourceFile     SourceKind = "file"
	SourceVariable SourceKind = "variable"
)

// InputSpec is one parsed @input directive.
type InputSpec struct {
	Kind SourceKind

	// Value is the file pattern or variable name.
	Value string

	// Required skips the step when no matches exist.
	Required bool

	// RefsOnly emits only reference labels instead of content.
	RefsOnly bool

	// Head truncates content to the first N characters. 0 means off.
	Head int

	// Properties emits only the YAML frontmatter block of each item,
	// optionally filtered to the listed keys. Nil means off.
	Properties *PropertiesFilter

	// Output routes the assembled payload instead of inlining it.
	Output *types.OutputSpec

	// WriteMode applies to Output; empty inherits the step write mode.
	WriteMode types.WriteMode

	// Scope applies to variable reads and routed variable writes.
	Scope types.Scope

	Line int
}

// PropertiesFilter selects frontmatter keys; empty Keys keeps all.
type PropertiesFilter struct {
	Keys []string
}

// ToolSpec is one enabled tool with its routing parameters.
type ToolSpec struct {
	Name      string
	Output    *types.OutputSpec
	WriteMode types.WriteMode
	Scope     types.Scope
}

// CacheKind enumerates @cache values.
type CacheKind string

const (
	CacheSession  CacheKind = "session"
	CacheDaily    CacheKind = "daily"
	CacheWeekly   CacheKind = "weekly"
	CacheDuration CacheKind = "duration"
)

// CacheSpec is a parsed @cache directive.
type CacheSpec struct {
	Kind CacheKind

	// TTL applies to CacheDuration.
	TTL time.Duration
}

// Step is one executable section: directives plus a prompt body.
type Step struct {
	Heading string
	Index   int
	Line    int

	Inputs  []InputSpec
	Outputs []types.OutputSpec

	// Header is prepended to file outputs as a level-1 heading.
	Header string

	// Model is the alias to call; empty means the settings default and
	// "none" skips the model call entirely.
	Model    string
	Thinking bool

	Tools []ToolSpec

	// WriteMode is the step default for outputs. Defaults to append.
	WriteMode types.WriteMode

	// RunOn gates execution by weekday.
	RunOn DayMask

	// Cache, RecentRuns, and RecentSummaries apply to context-template
	// sections only. RecentRuns/RecentSummaries are CountAll for "all".
	Cache           *CacheSpec
	RecentRuns      int
	RecentSummaries int

	Body string
}

// ModelNone reports whether the step skips the model call.
func (s *Step) ModelNone() bool {
	return strings.EqualFold(s.Model, "none")
}

// RoutesOutput reports whether any step or tool destination is set.
func (s *Step) RoutesOutput() bool {
	if len(s.Outputs) > 0 {
		return true
	}
	for _, tool := range s.Tools {
		if tool.Output != nil {
			return true
		}
	}
	return false
}

// DayMask is a weekday set, one bit per time.Weekday.
type DayMask uint8

// DayMaskAll matches every weekday; DayMaskNever matches none.
const (
	DayMaskAll   DayMask = 0x7f
	DayMaskNever DayMask = 0
)

// Contains reports whether the mask includes the given weekday.
func (m DayMask) Contains(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

// With returns the mask with the given weekday added.
func (m DayMask) With(d time.Weekday) DayMask {
	return m | (1 << uint(d))
}
