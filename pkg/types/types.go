// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the assistantmd engine.
// This package breaks import cycles by providing the common vocabulary that
// the directive parser, router, tool adapter, and step engine all depend on.
package types

// Scope identifies the lifetime of a buffer.
type Scope string

const (
	// ScopeRun buffers live for one engine invocation.
	ScopeRun Scope = "run"

	// ScopeSession buffers live for one chat session.
	ScopeSession Scope = "session"
)

// Valid reports whether s is a recognized scope.
func (s Scope) Valid() bool {
	return s == ScopeRun || s == ScopeSession
}

// WriteMode controls how a payload combines with existing content at a
// destination.
type WriteMode string

const (
	// WriteModeAppend adds the payload after existing content.
	WriteModeAppend WriteMode = "append"

	// WriteModeReplace discards existing content.
	WriteModeReplace WriteMode = "replace"

	// WriteModeNew allocates a fresh numbered name (name_000, name_001, ...).
	WriteModeNew WriteMode = "new"
)

// Valid reports whether m is a recognized write mode.
func (m WriteMode) Valid() bool {
	return m == WriteModeAppend || m == WriteModeReplace || m == WriteModeNew
}

// DestKind identifies where a routed payload lands.
type DestKind string

const (
	// DestInline returns the payload to the caller unchanged.
	DestInline DestKind = "inline"

	// DestVariable stores the payload in a named buffer.
	DestVariable DestKind = "variable"

	// DestFile writes the payload into the vault.
	DestFile DestKind = "file"

	// DestContext appends the payload to the chat-agent system preamble.
	// Only valid inside context template sections.
	DestContext DestKind = "context"

	// DestDiscard drops the payload.
	DestDiscard DestKind = "discard"
)

// OutputSpec is a parsed routing destination: where a payload goes and how
// it combines with what is already there.
type OutputSpec struct {
	// Dest is the destination kind.
	Dest DestKind

	// Target is the variable name (DestVariable) or vault-relative file
	// path (DestFile). Empty for the other kinds.
	Target string

	// Scope applies to DestVariable. Zero value means the caller's default
	// (run in workflows, session in chat tool calls).
	Scope Scope

	// WriteMode overrides the step-level write mode when non-empty.
	WriteMode WriteMode
}

// String renders the spec the way directives spell it, e.g. "variable:foo"
// or "file:notes/today.md". Used in manifests and run logs.
func (o OutputSpec) String() string {
	switch o.Dest {
	case DestVariable, DestFile:
		return string(o.Dest) + ":" + o.Target
	default:
		return string(o.Dest)
	}
}
