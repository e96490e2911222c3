// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package contextmgr

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/engine"
	"github.com/teradata-labs/assistantmd/pkg/llm"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/tools"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

type managerHarness struct {
	manager *Manager
	fake    *llm.FakeProvider
	vault   *vault.Vault
	cache   *SectionCache
	buffers *buffers.Registry
}

func newManagerHarness(t *testing.T, now time.Time, results ...*llm.CallResult) *managerHarness {
	t.Helper()

	fake := llm.NewFakeProvider(results...)
	gateway, err := llm.NewGateway(llm.GatewayConfig{
		Resolver:  &llm.StaticResolver{Default: "fake-default", Aliases: map[string]string{"gpt-mini": "fake-mini"}},
		Providers: map[string]llm.Provider{"fake": fake},
	})
	require.NoError(t, err)

	clock := func() time.Time { return now }
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.NewBufferOpsTool()))

	eng, err := engine.New(engine.Config{
		Gateway:  gateway,
		Tools:    registry,
		Patterns: patterns.NewResolver(patterns.Config{Now: clock}),
		Now:      clock,
	})
	require.NoError(t, err)

	cache, err := NewSectionCache(context.Background(), filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	cache.now = clock

	bufRegistry := buffers.NewRegistry()
	mgr, err := NewManager(Config{
		Engine:   eng,
		Cache:    cache,
		Buffers:  bufRegistry,
		Patterns: patterns.NewResolver(patterns.Config{Now: clock}),
		Now:      clock,
	})
	require.NoError(t, err)

	return &managerHarness{
		manager: mgr,
		fake:    fake,
		vault:   &vault.Vault{Name: "Personal", Root: t.TempDir()},
		cache:   cache,
		buffers: bufRegistry,
	}
}

func parseTemplate(t *testing.T, name, content string) *directive.Definition {
	t.Helper()
	def, err := directive.Parse(name, []byte(content), directive.KindContextTemplate)
	require.NoError(t, err)
	def.Vault = "Personal"
	def.GlobalID = vault.GlobalID("Personal", name)
	return def
}

func TestBuildContextChatInstructionsOnly(t *testing.T) {
	h := newManagerHarness(t, time.Now())
	tmpl := parseTemplate(t, "default", "## Chat Instructions\n\nBe concise.\n")

	history := []Turn{{User: "hi", Assistant: "hello"}, {User: "more", Assistant: "sure"}}
	result, err := h.manager.BuildContext(context.Background(), BuildRequest{
		Template:          tmpl,
		Vault:             h.vault,
		SessionID:         "s1",
		History:           history,
		LatestUserMessage: "question",
	})
	require.NoError(t, err)

	assert.Contains(t, result.SystemPrompt, "Be concise.")
	assert.Equal(t, history, result.History)
	assert.Zero(t, result.SectionsRun)
	assert.Zero(t, h.fake.CallCount())
}

func TestBuildContextTokenGating(t *testing.T) {
	h := newManagerHarness(t, time.Now())
	tmpl := parseTemplate(t, "gated", `---
token_threshold: 100000
passthrough_runs: 2
---

## Chat Instructions

Stay helpful.

## Background

@output context
@model gpt-mini

Summarize the vault state.
`)

	history := []Turn{
		{User: "a", Assistant: "b"},
		{User: "c", Assistant: "d"},
		{User: "e", Assistant: "f"},
	}
	result, err := h.manager.BuildContext(context.Background(), BuildRequest{
		Template:          tmpl,
		Vault:             h.vault,
		SessionID:         "s1",
		History:           history,
		LatestUserMessage: "short",
	})
	require.NoError(t, err)

	assert.True(t, result.Gated)
	assert.Zero(t, h.fake.CallCount())
	// Window keeps the last passthrough_runs turns.
	assert.Equal(t, history[1:], result.History)
	assert.NotContains(t, result.SystemPrompt, "vault state")
}

func TestBuildContextSectionsRouteToContext(t *testing.T) {
	h := newManagerHarness(t, time.Now(),
		&llm.CallResult{Text: "background summary"},
		&llm.CallResult{Text: "side note"},
	)
	tmpl := parseTemplate(t, "layered", `---
token_threshold: 1
---

## Chat Instructions

Stay helpful.

## Background

@output context
@model gpt-mini

Summarize recent activity.

## Side Work

@output variable: scratch (scope=session)
@model gpt-mini

Write a side note.
`)

	result, err := h.manager.BuildContext(context.Background(), BuildRequest{
		Template:          tmpl,
		Vault:             h.vault,
		SessionID:         "s1",
		History:           []Turn{{User: "long enough history to pass the threshold", Assistant: "indeed"}},
		LatestUserMessage: "go",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SectionsRun)
	// Only the context-routed section reaches the system prompt.
	assert.Contains(t, result.SystemPrompt, "background summary")
	assert.NotContains(t, result.SystemPrompt, "side note")

	// The other section landed in a session buffer for later turns.
	store := h.buffers.StoreFor("s1")
	content, err := store.Get("session", "scratch")
	require.NoError(t, err)
	assert.Equal(t, "side note", content)
}

func TestBuildContextCacheHitSkipsModel(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	h := newManagerHarness(t, now, &llm.CallResult{Text: "cached summary"})
	tmpl := parseTemplate(t, "cached", `## Chat Instructions

Stay helpful.

## Background

@cache 1h
@output context
@model gpt-mini

Summarize recent activity.
`)

	req := BuildRequest{
		Template:          tmpl,
		Vault:             h.vault,
		SessionID:         "s1",
		History:           []Turn{{User: "hello there", Assistant: "hi"}},
		LatestUserMessage: "go",
	}

	first, err := h.manager.BuildContext(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SectionsRun)
	assert.Contains(t, first.SystemPrompt, "cached summary")

	second, err := h.manager.BuildContext(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.SectionsRun)
	assert.Equal(t, 1, second.SectionsCached)
	assert.Contains(t, second.SystemPrompt, "cached summary")
	assert.Equal(t, 1, h.fake.CallCount())
}

func TestBuildContextTemplateEditInvalidatesCache(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	h := newManagerHarness(t, now,
		&llm.CallResult{Text: "first summary"},
		&llm.CallResult{Text: "second summary"},
	)

	content := `## Chat Instructions

Stay helpful.

## Background

@cache daily
@output context
@model gpt-mini

Summarize recent activity.
`
	tmpl := parseTemplate(t, "evolving", content)
	req := BuildRequest{
		Template:          tmpl,
		Vault:             h.vault,
		SessionID:         "s1",
		History:           []Turn{{User: "hello", Assistant: "hi"}},
		LatestUserMessage: "go",
	}
	_, err := h.manager.BuildContext(context.Background(), req)
	require.NoError(t, err)

	// An edited template has a new digest; the old entry is orphaned.
	edited := parseTemplate(t, "evolving", strings.Replace(content, "recent activity", "everything", 1))
	req.Template = edited
	result, err := h.manager.BuildContext(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SectionsRun)
	assert.Contains(t, result.SystemPrompt, "second summary")
	assert.Equal(t, 2, h.fake.CallCount())
}

func TestBuildContextGatedSectionBypassesCache(t *testing.T) {
	friday := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	h := newManagerHarness(t, friday, &llm.CallResult{Text: "friday special"})
	tmpl := parseTemplate(t, "weekly", `## Chat Instructions

Stay helpful.

## Friday Notes

@run_on friday
@cache weekly
@output context
@model gpt-mini

Summarize the week.
`)

	req := BuildRequest{
		Template:          tmpl,
		Vault:             h.vault,
		SessionID:         "s1",
		History:           []Turn{{User: "hello", Assistant: "hi"}},
		LatestUserMessage: "go",
	}
	result, err := h.manager.BuildContext(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, result.SystemPrompt, "friday special")

	// Saturday: the gate skips the section and the cached value never
	// surfaces.
	h.manager.now = func() time.Time { return friday.AddDate(0, 0, 1) }
	saturday, err := h.manager.BuildContext(context.Background(), req)
	require.NoError(t, err)
	assert.NotContains(t, saturday.SystemPrompt, "friday special")
	assert.Zero(t, saturday.SectionsCached)
}

func TestBuildContextRecentRunsWindow(t *testing.T) {
	h := newManagerHarness(t, time.Now(), &llm.CallResult{Text: "windowed"})
	tmpl := parseTemplate(t, "windowed", `## Chat Instructions

Stay helpful.

## Recap

@recent_runs 1
@output context
@model gpt-mini

Recap the conversation.
`)

	_, err := h.manager.BuildContext(context.Background(), BuildRequest{
		Template:  tmpl,
		Vault:     h.vault,
		SessionID: "s1",
		History: []Turn{
			{User: "oldest message", Assistant: "ok"},
			{User: "newest message", Assistant: "ok"},
		},
		LatestUserMessage: "go",
	})
	require.NoError(t, err)

	require.Len(t, h.fake.Requests, 1)
	system := h.fake.Requests[0].System
	assert.Contains(t, system, "newest message")
	assert.NotContains(t, system, "oldest message")
}
