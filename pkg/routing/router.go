// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package routing is the uniform writer behind every destination a
// directive can name: inline, variable:NAME, file:PATH, context, and
// discard. Inputs, tool results, and step outputs all pass through here
// so write modes, the vault sandbox, and manifests behave identically.
package routing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/internal/atomicfile"
	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// FileAppendSeparator joins chunks appended to the same markdown file.
const FileAppendSeparator = "\n\n"

// manifestMaxLabels caps the source labels listed in a manifest.
const manifestMaxLabels = 5

// Request describes one payload to route.
type Request struct {
	// Payload is the text to deliver.
	Payload string

	// Spec names the destination.
	Spec types.OutputSpec

	// WriteMode is the effective mode when the spec carries none.
	WriteMode types.WriteMode

	// DefaultScope applies to variable destinations without an explicit
	// scope: run in workflows, session in chat tool calls.
	DefaultScope types.Scope

	// Sources label where the payload came from, for the manifest.
	Sources []string

	// Source tags buffer writes for Info output.
	Source string

	// Header is prepended as a level-1 heading to file destinations only.
	Header string
}

// Result reports where a payload went.
type Result struct {
	// Inline is what the caller should put in the prompt: the payload
	// itself for inline destinations, the manifest otherwise.
	Inline string

	// Routed is false only for inline destinations.
	Routed bool

	// FilePath is the vault-relative path written for file destinations.
	FilePath string

	// Variable is the final buffer name for variable destinations (it
	// differs from the spec target under write mode "new").
	Variable string

	// Scope is the buffer scope used for variable destinations.
	Scope types.Scope
}

// Router writes payloads to their destinations. ContextSink receives
// context-destination payloads and is only set by the context manager.
type Router struct {
	Vault       *vault.Vault
	Buffers     *buffers.Store
	ContextSink func(text string)
	Logger      *zap.Logger
}

// NewRouter wires a router for one run.
func NewRouter(v *vault.Vault, store *buffers.Store, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{Vault: v, Buffers: store, Logger: logger}
}

// Route delivers one payload. The returned Inline text is the payload
// for inline destinations and a one-line manifest for everything else.
func (r *Router) Route(req Request) (*Result, error) {
	mode := req.Spec.WriteMode
	if mode == "" {
		mode = req.WriteMode
	}
	if mode == "" {
		mode = types.WriteModeAppend
	}

	switch req.Spec.Dest {
	case types.DestInline, "":
		return &Result{Inline: req.Payload}, nil

	case types.DestVariable:
		scope := req.Spec.Scope
		if scope == "" {
			scope = req.DefaultScope
		}
		if scope == "" {
			scope = types.ScopeRun
		}
		finalName, err := r.Buffers.Put(scope, req.Spec.Target, req.Payload, req.Source, mode)
		if err != nil {
			return nil, err
		}
		dest := types.OutputSpec{Dest: types.DestVariable, Target: finalName, Scope: scope}
		return &Result{
			Inline:   manifest(req, dest.String()),
			Routed:   true,
			Variable: finalName,
			Scope:    scope,
		}, nil

	case types.DestFile:
		relPath, err := r.writeFile(req, mode)
		if err != nil {
			return nil, err
		}
		return &Result{
			Inline:   manifest(req, "file:"+relPath),
			Routed:   true,
			FilePath: relPath,
		}, nil

	case types.DestContext:
		if r.ContextSink == nil {
			return nil, fmt.Errorf("context destination is only valid in context template sections")
		}
		r.ContextSink(req.Payload)
		return &Result{Inline: manifest(req, "context"), Routed: true}, nil

	case types.DestDiscard:
		return &Result{Inline: manifest(req, "discard"), Routed: true}, nil

	default:
		return nil, fmt.Errorf("unknown destination %q", req.Spec.Dest)
	}
}

// writeFile delivers a payload into the vault, honoring the write mode
// and prepending the header when present. Returns the final relative
// path, which differs from the target under write mode "new".
func (r *Router) writeFile(req Request, mode types.WriteMode) (string, error) {
	if r.Vault == nil {
		return "", fmt.Errorf("file destination requires a vault")
	}

	rel := vault.EnsureMarkdownExt(req.Spec.Target)
	payload := req.Payload
	if req.Header != "" {
		payload = "# " + req.Header + "\n\n" + payload
	}

	if mode == types.WriteModeNew {
		numbered, err := r.nextNumberedPath(rel)
		if err != nil {
			return "", err
		}
		rel = numbered
	}

	abs, err := r.Vault.ResolvePath(rel)
	if err != nil {
		return "", err
	}

	switch mode {
	case types.WriteModeAppend:
		if _, statErr := os.Stat(abs); statErr == nil {
			if err := atomicfile.AppendFile(abs, []byte(FileAppendSeparator+payload), 0o644); err != nil {
				return "", fmt.Errorf("failed to append to %s: %w", rel, err)
			}
			break
		}
		if err := atomicfile.WriteFile(abs, []byte(payload), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", rel, err)
		}
	default:
		if err := atomicfile.WriteFile(abs, []byte(payload), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}

	r.Logger.Debug("routed payload to file",
		zap.String("path", rel),
		zap.String("write_mode", string(mode)),
		zap.Int("bytes", len(payload)))
	return rel, nil
}

// nextNumberedPath picks base_000.md, base_001.md, ... for write mode
// "new", checking the filesystem so repeated runs never collide.
func (r *Router) nextNumberedPath(rel string) (string, error) {
	ext := filepath.Ext(rel)
	base := strings.TrimSuffix(rel, ext)
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s_%03d%s", base, n, ext)
		abs, err := r.Vault.ResolvePath(candidate)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// manifest renders the compact one-line summary inlined in place of a
// routed payload: count, destination, byte length, and source labels.
func manifest(req Request, dest string) string {
	count := len(req.Sources)
	if count == 0 {
		count = 1
	}
	noun := "item"
	if count != 1 {
		noun = "items"
	}

	labels := req.Sources
	truncated := 0
	if len(labels) > manifestMaxLabels {
		truncated = len(labels) - manifestMaxLabels
		labels = labels[:manifestMaxLabels]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[routed %d %s to %s, %d bytes", count, noun, dest, len(req.Payload))
	if len(labels) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(labels, ", "))
		if truncated > 0 {
			fmt.Fprintf(&b, " and %d more", truncated)
		}
	}
	b.WriteString("]")
	return b.String()
}
