// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package inputs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/routing"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

func newTestResolver(t *testing.T) (*Resolver, *vault.Vault) {
	t.Helper()
	root := t.TempDir()
	v := &vault.Vault{Name: "Test", Root: root}
	store := buffers.NewStore()

	pending, err := NewPendingStore(context.Background(), filepath.Join(t.TempDir(), "pending.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pending.Close() })

	fixed := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	return &Resolver{
		Vault:   v,
		Buffers: store,
		Router:  routing.NewRouter(v, store, zap.NewNop()),
		Pending: pending,
		Patterns: patterns.NewResolver(patterns.Config{
			Location: time.UTC,
			Now:      func() time.Time { return fixed },
		}),
		GlobalID: "Test/workflow",
		Logger:   zap.NewNop(),
	}, v
}

func writeVaultFile(t *testing.T, v *vault.Vault, rel, content string) {
	t.Helper()
	abs := filepath.Join(v.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func fileInput(value string, mod func(*directive.InputSpec)) directive.InputSpec {
	spec := directive.InputSpec{Kind: directive.SourceFile, Value: value}
	if mod != nil {
		mod(&spec)
	}
	return spec
}

func TestResolveGlobAndDateToken(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "notes/2026-02-10.md", "today's note")

	res, err := r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("notes/{today}.md", nil),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "today's note", res.Inline)
}

func TestResolveRequiredMissingSignalsSkip(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("inbox/*.md", func(s *directive.InputSpec) { s.Required = true }),
	}, types.WriteModeAppend, types.ScopeRun)
	require.ErrorIs(t, err, types.ErrInputMissing)
}

func TestResolveOptionalMissingContributesNothing(t *testing.T) {
	r, _ := newTestResolver(t)

	res, err := r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("inbox/*.md", nil),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Empty(t, res.Inline)
}

func TestResolveMultipleInputsKeepSourceOrder(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "a.md", "alpha")
	writeVaultFile(t, v, "b.md", "beta")

	res, err := r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("b.md", nil),
		fileInput("a.md", nil),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "beta"+InputDelimiter+"alpha", res.Inline)
}

func TestResolveRoutedInputInlinesManifestOnly(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "notes/a.md", "secret body")

	res, err := r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("notes/a.md", func(s *directive.InputSpec) {
			s.Output = &types.OutputSpec{Dest: types.DestVariable, Target: "foo"}
		}),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)

	assert.NotContains(t, res.Inline, "secret body")
	assert.Contains(t, res.Inline, "variable:foo")
	assert.Equal(t, []string{"foo"}, res.VariablesWritten)

	content, err := r.Buffers.Get(types.ScopeRun, "foo")
	require.NoError(t, err)
	assert.Equal(t, "secret body", content)
}

func TestResolveRoutedAggregationAppends(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "notes/a.md", "content a")
	writeVaultFile(t, v, "notes/b.md", "content b")

	for _, name := range []string{"notes/a.md", "notes/b.md"} {
		_, err := r.Resolve(context.Background(), []directive.InputSpec{
			fileInput(name, func(s *directive.InputSpec) {
				s.Output = &types.OutputSpec{Dest: types.DestVariable, Target: "foo"}
			}),
		}, types.WriteModeAppend, types.ScopeRun)
		require.NoError(t, err)
	}

	content, err := r.Buffers.Get(types.ScopeRun, "foo")
	require.NoError(t, err)
	assert.Equal(t, "content a"+buffers.AppendSeparator+"content b", content)
}

func TestResolveLatestSelector(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "journal/2026-02-08.md", "older")
	writeVaultFile(t, v, "journal/2026-02-09.md", "newer")
	writeVaultFile(t, v, "journal/2026-02-10.md", "newest")

	res, err := r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("journal/{latest:2}", nil),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "newer"+ItemSeparator+"newest", res.Inline)
}

func TestResolvePendingIdempotence(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "inbox/one.md", "first item")
	writeVaultFile(t, v, "inbox/two.md", "second item")

	ctx := context.Background()
	specs := []directive.InputSpec{
		fileInput("inbox/{pending:5}", func(s *directive.InputSpec) { s.Required = true }),
	}

	res, err := r.Resolve(ctx, specs, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Contains(t, res.Inline, "first item")
	assert.Contains(t, res.Inline, "second item")
	require.Len(t, res.Commits, 1)

	// Commit the transition, as the engine does after step success.
	require.NoError(t, res.Commit(ctx, r.Pending, r.GlobalID))

	// Second run on an unchanged vault: nothing pending, step skips.
	_, err = r.Resolve(ctx, specs, types.WriteModeAppend, types.ScopeRun)
	require.ErrorIs(t, err, types.ErrInputMissing)
}

func TestResolvePendingUncommittedStaysPending(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "inbox/one.md", "item")

	ctx := context.Background()
	specs := []directive.InputSpec{fileInput("inbox/{pending}", nil)}

	res, err := r.Resolve(ctx, specs, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Contains(t, res.Inline, "item")

	// Without a commit the file is still pending on the next run.
	res, err = r.Resolve(ctx, specs, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Contains(t, res.Inline, "item")
}

func TestResolvePendingRequeuesOnEdit(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "inbox/one.md", "version 1")

	ctx := context.Background()
	specs := []directive.InputSpec{fileInput("inbox/{pending}", nil)}

	res, err := r.Resolve(ctx, specs, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx, r.Pending, r.GlobalID))

	writeVaultFile(t, v, "inbox/one.md", "version 2")

	res, err = r.Resolve(ctx, specs, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Contains(t, res.Inline, "version 2")
}

func TestResolveModifiers(t *testing.T) {
	r, v := newTestResolver(t)
	withFM := "---\nname: Ada\nrole: engineer\nteam: core\n---\n\nLong body text here."
	writeVaultFile(t, v, "people/ada.md", withFM)
	writeVaultFile(t, v, "plain.md", "just text, no frontmatter")

	ctx := context.Background()

	res, err := r.Resolve(ctx, []directive.InputSpec{
		fileInput("people/ada.md", func(s *directive.InputSpec) { s.RefsOnly = true }),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "people/ada.md", res.Inline)

	res, err = r.Resolve(ctx, []directive.InputSpec{
		fileInput("people/ada.md", func(s *directive.InputSpec) {
			s.Properties = &directive.PropertiesFilter{Keys: []string{"name", "role"}}
		}),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Contains(t, res.Inline, "name: Ada")
	assert.Contains(t, res.Inline, "role: engineer")
	assert.NotContains(t, res.Inline, "team")
	assert.NotContains(t, res.Inline, "Long body")

	// properties on a file without frontmatter falls back to the label.
	res, err = r.Resolve(ctx, []directive.InputSpec{
		fileInput("plain.md", func(s *directive.InputSpec) {
			s.Properties = &directive.PropertiesFilter{}
		}),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "plain.md", res.Inline)

	res, err = r.Resolve(ctx, []directive.InputSpec{
		fileInput("plain.md", func(s *directive.InputSpec) { s.Head = 9 }),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "just text"+ElisionMarker, res.Inline)
}

func TestResolveHeadCountsRunes(t *testing.T) {
	r, v := newTestResolver(t)
	writeVaultFile(t, v, "notes.md", "héllo wörld")

	// head counts characters, so multi-byte runes never get split.
	res, err := r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("notes.md", func(s *directive.InputSpec) { s.Head = 5 }),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "héllo"+ElisionMarker, res.Inline)

	// A head larger than the rune count leaves the content untouched.
	res, err = r.Resolve(context.Background(), []directive.InputSpec{
		fileInput("notes.md", func(s *directive.InputSpec) { s.Head = 11 }),
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", res.Inline)
}

func TestResolveVariableInput(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Buffers.Put(types.ScopeRun, "foo", "stored content", "test", types.WriteModeReplace)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), []directive.InputSpec{
		{Kind: directive.SourceVariable, Value: "foo"},
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Equal(t, "stored content", res.Inline)

	// A missing variable without required contributes nothing.
	res, err = r.Resolve(context.Background(), []directive.InputSpec{
		{Kind: directive.SourceVariable, Value: "absent"},
	}, types.WriteModeAppend, types.ScopeRun)
	require.NoError(t, err)
	assert.Empty(t, res.Inline)

	_, err = r.Resolve(context.Background(), []directive.InputSpec{
		{Kind: directive.SourceVariable, Value: "absent", Required: true},
	}, types.WriteModeAppend, types.ScopeRun)
	require.ErrorIs(t, err, types.ErrInputMissing)
}
