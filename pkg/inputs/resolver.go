// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package inputs resolves @input directives: pattern expansion, glob
// matching inside the vault sandbox, {latest}/{pending} selection,
// content modifiers, and routed payloads. Pending-state transitions are
// staged here and committed by the engine after the step succeeds.
package inputs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/routing"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// InputDelimiter separates the contributions of multiple @input
// directives in the inlined prompt, so the model can tell them apart.
const InputDelimiter = "\n\n---\n\n"

// ItemSeparator joins the contents of multiple files matched by one
// @input pattern.
const ItemSeparator = "\n\n"

// ElisionMarker is appended to head-truncated content.
const ElisionMarker = " […]"

// Resolver expands and loads the inputs of one step.
type Resolver struct {
	Vault    *vault.Vault
	Buffers  *buffers.Store
	Router   *routing.Router
	Pending  *PendingStore
	Patterns *patterns.Resolver
	GlobalID string
	Logger   *zap.Logger
}

// PendingCommit is a staged pending-state transition, committed only
// after the consuming step completes successfully.
type PendingCommit struct {
	Pattern string
	Files   []PathDigest
}

// Resolution is the outcome of resolving a step's input set.
type Resolution struct {
	// Inline is the text to place in the user prompt: contributions in
	// source order, routed ones replaced by their manifests.
	Inline string

	// Commits are the staged {pending} transitions.
	Commits []PendingCommit

	// FilesWritten and VariablesWritten record routed side effects.
	FilesWritten     []string
	VariablesWritten []string
}

// Resolve processes the ordered input set. A required input with no
// matches returns ErrInputMissing; the engine skips the step.
func (r *Resolver) Resolve(ctx context.Context, specs []directive.InputSpec, stepMode types.WriteMode, defaultScope types.Scope) (*Resolution, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	res := &Resolution{}
	var parts []string

	for _, spec := range specs {
		contribution, err := r.resolveOne(ctx, &spec, stepMode, defaultScope, res)
		if err != nil {
			return nil, err
		}
		if contribution != "" {
			parts = append(parts, contribution)
		}
	}

	res.Inline = strings.Join(parts, InputDelimiter)
	return res, nil
}

// Commit applies the staged pending transitions. The engine calls this
// once the step has finished without error.
func (res *Resolution) Commit(ctx context.Context, store *PendingStore, globalID string) error {
	for _, c := range res.Commits {
		if err := store.MarkProcessed(ctx, globalID, c.Pattern, c.Files); err != nil {
			return err
		}
	}
	return nil
}

// item is one loaded input element before modifiers apply.
type item struct {
	label   string
	content string
}

func (r *Resolver) resolveOne(ctx context.Context, spec *directive.InputSpec, stepMode types.WriteMode, defaultScope types.Scope, res *Resolution) (string, error) {
	var items []item
	var err error

	switch spec.Kind {
	case directive.SourceFile:
		items, err = r.loadFiles(ctx, spec, res)
	case directive.SourceVariable:
		items, err = r.loadVariable(spec, defaultScope)
	default:
		return "", fmt.Errorf("unknown input source %q", spec.Kind)
	}
	if err != nil {
		return "", err
	}

	if len(items) == 0 {
		if spec.Required {
			return "", types.ErrInputMissing
		}
		return "", nil
	}

	// Modifier precedence: refs_only > properties > head.
	for i := range items {
		items[i].content = applyModifiers(spec, items[i])
	}

	payload := joinItems(items)
	labels := make([]string, len(items))
	for i, it := range items {
		labels[i] = it.label
	}

	if spec.Output == nil {
		return payload, nil
	}

	mode := spec.WriteMode
	if mode == "" {
		mode = stepMode
	}
	result, err := r.Router.Route(routing.Request{
		Payload:      payload,
		Spec:         *spec.Output,
		WriteMode:    mode,
		DefaultScope: scopeOrDefault(spec.Scope, defaultScope),
		Sources:      labels,
		Source:       "input",
	})
	if err != nil {
		return "", err
	}
	if result.FilePath != "" {
		res.FilesWritten = append(res.FilesWritten, result.FilePath)
	}
	if result.Variable != "" {
		res.VariablesWritten = append(res.VariablesWritten, result.Variable)
	}
	return result.Inline, nil
}

// loadFiles expands the pattern, applies selectors, and reads content.
func (r *Resolver) loadFiles(ctx context.Context, spec *directive.InputSpec, res *Resolution) ([]item, error) {
	expanded, err := r.Patterns.Expand(spec.Value)
	if err != nil {
		return nil, err
	}
	glob, selector, err := patterns.ExtractSelector(expanded)
	if err != nil {
		return nil, err
	}
	if err := patterns.ValidatePathPattern(glob); err != nil {
		return nil, err
	}

	matches, err := r.globVault(glob)
	if err != nil {
		return nil, err
	}

	if selector != nil {
		switch selector.Kind {
		case patterns.SelectorLatest:
			// Most-recent-by-name-date: date-stamped names sort
			// lexicographically, so the tail of the sorted list is newest.
			if len(matches) > selector.N {
				matches = matches[len(matches)-selector.N:]
			}
		case patterns.SelectorPending:
			matches, err = r.selectPending(ctx, spec.Value, matches, selector.N, res)
			if err != nil {
				return nil, err
			}
		}
	}

	var items []item
	for _, rel := range matches {
		abs, err := r.Vault.ResolvePath(rel)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", rel, err)
		}
		items = append(items, item{label: rel, content: string(data)})
	}
	return items, nil
}

// globVault matches a vault-relative glob and returns sorted relative
// paths of regular files.
func (r *Resolver) globVault(glob string) ([]string, error) {
	abs := filepath.Join(r.Vault.Root, filepath.FromSlash(glob))
	hits, err := filepath.Glob(abs)
	if err != nil {
		return nil, &types.InvalidPatternError{Pattern: glob, Reason: err.Error()}
	}

	var matches []string
	for _, hit := range hits {
		info, err := os.Stat(hit)
		if err != nil || info.IsDir() {
			continue
		}
		matches = append(matches, r.Vault.RelPath(hit))
	}
	sort.Strings(matches)
	return matches, nil
}

// selectPending filters matches down to unprocessed files, caps them at
// n, and stages the commit for after the step succeeds.
func (r *Resolver) selectPending(ctx context.Context, pattern string, matches []string, n int, res *Resolution) ([]string, error) {
	if r.Pending == nil {
		return nil, fmt.Errorf("{pending} requires a pending-state store")
	}

	candidates := make([]PathDigest, 0, len(matches))
	for _, rel := range matches {
		abs, err := r.Vault.ResolvePath(rel)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", rel, err)
		}
		sum := sha256.Sum256(data)
		candidates = append(candidates, PathDigest{Path: rel, Digest: hex.EncodeToString(sum[:])})
	}

	unprocessed, err := r.Pending.FilterUnprocessed(ctx, r.GlobalID, pattern, candidates)
	if err != nil {
		return nil, err
	}
	if len(unprocessed) > n {
		unprocessed = unprocessed[:n]
	}
	if len(unprocessed) == 0 {
		return nil, nil
	}

	res.Commits = append(res.Commits, PendingCommit{Pattern: pattern, Files: unprocessed})

	paths := make([]string, len(unprocessed))
	for i, f := range unprocessed {
		paths[i] = f.Path
	}
	return paths, nil
}

func (r *Resolver) loadVariable(spec *directive.InputSpec, defaultScope types.Scope) ([]item, error) {
	scope := scopeOrDefault(spec.Scope, defaultScope)
	content, err := r.Buffers.Get(scope, spec.Value)
	if errors.Is(err, buffers.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []item{{label: "variable:" + spec.Value, content: content}}, nil
}

// applyModifiers renders one item per the spec's modifier precedence.
func applyModifiers(spec *directive.InputSpec, it item) string {
	switch {
	case spec.RefsOnly:
		return it.label
	case spec.Properties != nil:
		props := extractProperties(it.content, spec.Properties.Keys)
		if props == "" {
			// No frontmatter; fall back to the reference label.
			return it.label
		}
		return props
	case spec.Head > 0:
		// Truncate on runes so a multi-byte character is never split.
		runes := []rune(it.content)
		if len(runes) <= spec.Head {
			return it.content
		}
		return string(runes[:spec.Head]) + ElisionMarker
	default:
		return it.content
	}
}

// extractProperties pulls the YAML frontmatter block out of content,
// optionally filtered to the listed keys. Returns "" when absent.
func extractProperties(content string, keys []string) string {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t\r") != "---" {
		return ""
	}
	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\r") == "---" {
			closing = i
			break
		}
	}
	if closing == -1 {
		return ""
	}
	block := strings.Join(lines[1:closing], "\n")
	if len(keys) == 0 {
		return strings.TrimSpace(block)
	}

	fields := map[string]interface{}{}
	if err := yaml.Unmarshal([]byte(block), &fields); err != nil {
		return strings.TrimSpace(block)
	}
	filtered := map[string]interface{}{}
	for _, key := range keys {
		if v, ok := fields[key]; ok {
			filtered[key] = v
		}
	}
	if len(filtered) == 0 {
		return ""
	}
	out, err := yaml.Marshal(filtered)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func joinItems(items []item) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.content
	}
	return strings.Join(parts, ItemSeparator)
}

func scopeOrDefault(scope, fallback types.Scope) types.Scope {
	if scope != "" {
		return scope
	}
	if fallback != "" {
		return fallback
	}
	return types.ScopeRun
}
