// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/inputs"
	"github.com/teradata-labs/assistantmd/pkg/llm"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/tools"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// harness bundles the engine with a fixed clock and a scripted model.
type harness struct {
	engine  *Engine
	vault   *vault.Vault
	fake    *llm.FakeProvider
	pending *inputs.PendingStore
}

func newHarness(t *testing.T, now time.Time, results ...*llm.CallResult) *harness {
	t.Helper()

	fake := llm.NewFakeProvider(results...)
	gateway, err := llm.NewGateway(llm.GatewayConfig{
		Resolver:  &llm.StaticResolver{Default: "fake-default", Aliases: map[string]string{"gpt-mini": "fake-mini"}},
		Providers: map[string]llm.Provider{"fake": fake},
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	pending, err := inputs.NewPendingStore(context.Background(), filepath.Join(t.TempDir(), "pending.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pending.Close() })

	clock := func() time.Time { return now }
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.NewBufferOpsTool()))
	require.NoError(t, registry.Register(tools.NewFileOpsSafeTool()))

	eng, err := New(Config{
		Gateway:  gateway,
		Tools:    registry,
		Pending:  pending,
		Patterns: patterns.NewResolver(patterns.Config{Now: clock}),
		Logger:   zap.NewNop(),
		Now:      clock,
	})
	require.NoError(t, err)

	return &harness{
		engine:  eng,
		vault:   &vault.Vault{Name: "Personal", Root: t.TempDir()},
		fake:    fake,
		pending: pending,
	}
}

func (h *harness) parse(t *testing.T, name, content string) *directive.Definition {
	t.Helper()
	def, err := directive.Parse(name, []byte(content), directive.KindWorkflow)
	require.NoError(t, err)
	def.Vault = h.vault.Name
	def.GlobalID = vault.GlobalID(h.vault.Name, name)
	return def
}

func (h *harness) writeVaultFile(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(h.vault.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (h *harness) readVaultFile(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.vault.Root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// Two steps chained through one date-stamped file: the first writes it,
// the second reads it back into its prompt and appends.
func TestRunFileChaining(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now,
		&llm.CallResult{Text: "winter haiku here"},
		&llm.CallResult{Text: "a fine critique"},
	)

	def := h.parse(t, "daily-haiku", `---
workflow_engine: step
schedule: "cron: 0 9 * * *"
enabled: true
---

## Compose

@output file: test/{today}
@model gpt-mini

Write a haiku for the current season.

## Critique

@input file: test/{today}
@output file: test/{today}
@write_mode append
@model gpt-mini

Critique the haiku above.
`)

	record, err := h.engine.Run(context.Background(), RunRequest{
		Definition: def,
		Vault:      h.vault,
		Cause:      types.CauseScheduled,
	})
	require.NoError(t, err)
	require.Len(t, record.Steps, 2)
	assert.Equal(t, types.StepExecuted, record.Steps[0].Status)
	assert.Equal(t, types.StepExecuted, record.Steps[1].Status)
	assert.Equal(t, []string{"test/2026-02-10.md"}, record.OutputFiles)

	content := h.readVaultFile(t, "test/2026-02-10.md")
	assert.Contains(t, content, "winter haiku here")
	assert.Contains(t, content, "a fine critique")
	assert.Less(t,
		indexOf(content, "winter haiku here"),
		indexOf(content, "a fine critique"))

	// Step 2's prompt carries the text step 1 wrote.
	require.Len(t, h.fake.Requests, 2)
	user := h.fake.Requests[1].Messages[0].Content
	assert.Contains(t, user, "winter haiku here")
	assert.Contains(t, user, "Critique the haiku above.")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestRunOnGate(t *testing.T) {
	workflow := `## Friday Report

@run_on friday
@output file: reports/weekly.md
@model gpt-mini

Write the weekly report.
`

	tuesday := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, tuesday)
	def := h.parse(t, "weekly-report", workflow)

	record, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, types.StepSkipped, record.Steps[0].Status)
	assert.Equal(t, "run_on gate", record.Steps[0].SkipReason)
	assert.Zero(t, h.fake.CallCount())
	assert.Empty(t, record.OutputFiles)

	friday := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)
	h2 := newHarness(t, friday, &llm.CallResult{Text: "report body"})
	def2 := h2.parse(t, "weekly-report", workflow)

	record2, err := h2.engine.Run(context.Background(), RunRequest{Definition: def2, Vault: h2.vault})
	require.NoError(t, err)
	assert.Equal(t, types.StepExecuted, record2.Steps[0].Status)
	assert.Equal(t, 1, h2.fake.CallCount())
}

func TestRequiredInputSkip(t *testing.T) {
	h := newHarness(t, time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))
	def := h.parse(t, "inbox-digest", `## Digest

@input file: inbox/{pending:5} (required)
@output variable: digest
@model gpt-mini

Summarize the inbox.
`)

	record, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, types.StepSkipped, record.Steps[0].Status)
	assert.Equal(t, "required input produced no matches", record.Steps[0].SkipReason)
	assert.False(t, record.Steps[0].ModelCalled)
	assert.Zero(t, h.fake.CallCount())
}

// Running the same {pending} step twice on an unchanged vault processes
// each file exactly once.
func TestPendingIdempotence(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now, &llm.CallResult{Text: "digested"})
	h.writeVaultFile(t, "inbox/note-a.md", "first note")
	h.writeVaultFile(t, "inbox/note-b.md", "second note")

	workflow := `## Digest

@input file: inbox/{pending:5} (required)
@output variable: digest
@model gpt-mini

Summarize the inbox.
`
	def := h.parse(t, "inbox-digest", workflow)

	record, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	assert.Equal(t, types.StepExecuted, record.Steps[0].Status)
	user := h.fake.Requests[0].Messages[0].Content
	assert.Contains(t, user, "first note")
	assert.Contains(t, user, "second note")

	// Second run: everything already processed, step skips.
	record2, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	assert.Equal(t, types.StepSkipped, record2.Steps[0].Status)
	assert.Equal(t, 1, h.fake.CallCount())
}

// Failed steps must not commit pending state, so the files re-queue.
func TestPendingNotCommittedOnFailure(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now) // no scripted result: the model call fails
	h.writeVaultFile(t, "inbox/note-a.md", "first note")

	def := h.parse(t, "inbox-digest", `## Digest

@input file: inbox/{pending:5} (required)
@output variable: digest
@model gpt-mini

Summarize the inbox.
`)

	record, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.Error(t, err)
	assert.Equal(t, types.StepFailed, record.Steps[0].Status)
	assert.True(t, record.Failed())

	// Retry with a working model: the file is still pending.
	h.fake.Enqueue(&llm.CallResult{Text: "digested"})
	record2, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	assert.Equal(t, types.StepExecuted, record2.Steps[0].Status)
}

// Two steps aggregate into one variable, a third consumes it. The
// aggregating prompts see manifests, never the file bodies.
func TestRoutingAndBufferAggregation(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now, &llm.CallResult{Text: "summary text"})
	h.writeVaultFile(t, "notes/a.md", "alpha content")
	h.writeVaultFile(t, "notes/b.md", "beta content")

	def := h.parse(t, "aggregate", `## Load A

@input file: notes/a.md (output=variable: foo)
@model none

## Load B

@input file: notes/b.md (output=variable: foo)
@model none

## Summarize

@input variable: foo
@output variable: summary
@model gpt-mini

Summarize the above.
`)

	record, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	require.Len(t, record.Steps, 3)
	for _, step := range record.Steps {
		assert.Equal(t, types.StepExecuted, step.Status)
	}
	assert.Contains(t, record.VariablesCreated, "foo")

	require.Len(t, h.fake.Requests, 1)
	user := h.fake.Requests[0].Messages[0].Content
	assert.Contains(t, user, "alpha content")
	assert.Contains(t, user, "beta content")
	assert.Less(t, indexOf(user, "alpha content"), indexOf(user, "beta content"))
}

func TestHeaderAndPatternSubstitution(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now, &llm.CallResult{Text: "daily body"})

	def := h.parse(t, "daily-log", `## Log

@output file: logs/{today}
@header Log for {today}
@write_mode replace
@model gpt-mini

Write the log.
`)

	_, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)

	content := h.readVaultFile(t, "logs/2026-02-10.md")
	assert.Contains(t, content, "# Log for 2026-02-10")
	assert.Contains(t, content, "daily body")
}

func TestSingleStepRun(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now, &llm.CallResult{Text: "second only"})

	def := h.parse(t, "two-steps", `## First

@output variable: a
@model gpt-mini

First prompt.

## Second

@output variable: b
@model gpt-mini

Second prompt.
`)

	record, err := h.engine.Run(context.Background(), RunRequest{
		Definition: def,
		Vault:      h.vault,
		StepName:   "Second",
	})
	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, "Second", record.Steps[0].Name)
	assert.Equal(t, "Second", record.Cause)
	assert.Equal(t, 1, h.fake.CallCount())
}

func TestRunUnknownStep(t *testing.T) {
	h := newHarness(t, time.Now())
	def := h.parse(t, "wf", "## Only\n\n@model none\n\nGo.\n")

	_, err := h.engine.Run(context.Background(), RunRequest{
		Definition: def,
		Vault:      h.vault,
		StepName:   "Missing",
	})
	require.Error(t, err)
}

func TestRunEventOrdering(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now, &llm.CallResult{Text: "done"})

	def := h.parse(t, "wf", `## Work

@output variable: out
@model gpt-mini

Do the work.
`)

	var kinds []types.EventKind
	_, err := h.engine.Run(context.Background(), RunRequest{
		Definition: def,
		Vault:      h.vault,
		Events:     func(ev types.Event) { kinds = append(kinds, ev.Kind) },
	})
	require.NoError(t, err)

	require.NotEmpty(t, kinds)
	assert.Equal(t, types.EventStepStarted, kinds[0])
	assert.Equal(t, types.EventStepFinished, kinds[len(kinds)-1])
	assert.Contains(t, kinds, types.EventDelta)
	assert.Contains(t, kinds, types.EventDone)
}

func TestModelNonePassthroughRoutesInputs(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.writeVaultFile(t, "notes/src.md", "source body")

	def := h.parse(t, "mover", `## Move

@input file: notes/src.md
@output file: archive/dest.md
@write_mode replace
@model none
`)

	record, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	assert.Equal(t, types.StepExecuted, record.Steps[0].Status)
	assert.False(t, record.Steps[0].ModelCalled)
	assert.Zero(t, h.fake.CallCount())

	content := h.readVaultFile(t, "archive/dest.md")
	assert.Contains(t, content, "source body")
}

func TestModelNonePassthroughExcludesBody(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.writeVaultFile(t, "notes/src.md", "source body")

	def := h.parse(t, "mover", `## Move

@input file: notes/src.md
@output file: archive/dest.md
@write_mode replace
@model none

Move the note into the archive.
`)

	record, err := h.engine.Run(context.Background(), RunRequest{Definition: def, Vault: h.vault})
	require.NoError(t, err)
	assert.False(t, record.Steps[0].ModelCalled)

	// Only the routed inputs land in the destination, never the prose.
	content := h.readVaultFile(t, "archive/dest.md")
	assert.Contains(t, content, "source body")
	assert.NotContains(t, content, "Move the note")
}
