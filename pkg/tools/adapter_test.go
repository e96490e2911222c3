// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/routing"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// echoTool returns its "text" argument; failTool always errors.
type echoTool struct{ critical bool }

func (e *echoTool) Name() string         { return "echo" }
func (e *echoTool) Description() string  { return "Echoes text back." }
func (e *echoTool) Instructions() string { return "" }
func (e *echoTool) Critical() bool       { return e.critical }
func (e *echoTool) InputSchema() *JSONSchema {
	return &JSONSchema{
		Type:       "object",
		Properties: map[string]*JSONSchema{"text": {Type: "string"}},
		Required:   []string{"text"},
	}
}
func (e *echoTool) Execute(ctx context.Context, args map[string]interface{}, env *Env) (*types.ToolResult, error) {
	text, _ := args["text"].(string)
	return types.TextResult(text), nil
}

type failTool struct{ critical bool }

func (f *failTool) Name() string             { return "fail" }
func (f *failTool) Description() string      { return "Always fails." }
func (f *failTool) Instructions() string     { return "" }
func (f *failTool) Critical() bool           { return f.critical }
func (f *failTool) InputSchema() *JSONSchema { return &JSONSchema{Type: "object"} }
func (f *failTool) Execute(ctx context.Context, args map[string]interface{}, env *Env) (*types.ToolResult, error) {
	return nil, &types.ToolError{Tool: "fail", Message: "boom"}
}

func newTestEnv(t *testing.T) (*Env, *routing.Router) {
	t.Helper()
	v := &vault.Vault{Name: "Test", Root: t.TempDir()}
	store := buffers.NewStore()
	router := routing.NewRouter(v, store, zap.NewNop())
	return &Env{Vault: v, Buffers: store, Router: router, DefaultScope: types.ScopeRun}, router
}

func TestAdapterRoutesResultAndReturnsManifest(t *testing.T) {
	env, router := newTestEnv(t)
	registry := NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	adapter, err := NewAdapter(registry, router, env, []directive.ToolSpec{
		{Name: "echo", Output: &types.OutputSpec{Dest: types.DestVariable, Target: "hits"}},
	}, types.WriteModeAppend, zap.NewNop())
	require.NoError(t, err)

	var events []types.Event
	text, err := adapter.HandleCall(context.Background(), types.ToolCall{
		ID:    "call-1",
		Name:  "echo",
		Input: map[string]interface{}{"text": "payload body"},
	}, func(ev types.Event) { events = append(events, ev) })
	require.NoError(t, err)

	// The model sees the manifest, not the payload.
	assert.NotContains(t, text, "payload body")
	assert.Contains(t, text, "variable:hits")

	content, err := env.Buffers.Get(types.ScopeRun, "hits")
	require.NoError(t, err)
	assert.Equal(t, "payload body", content)

	require.Len(t, events, 2)
	assert.Equal(t, types.EventToolCallStarted, events[0].Kind)
	assert.Equal(t, types.EventToolCallFinished, events[1].Kind)
}

func TestAdapterInlineWhenNoRouting(t *testing.T) {
	env, router := newTestEnv(t)
	registry := NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	adapter, err := NewAdapter(registry, router, env, []directive.ToolSpec{{Name: "echo"}}, types.WriteModeAppend, zap.NewNop())
	require.NoError(t, err)

	text, err := adapter.HandleCall(context.Background(), types.ToolCall{
		Name:  "echo",
		Input: map[string]interface{}{"text": "inline result"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "inline result", text)
}

func TestAdapterArgValidation(t *testing.T) {
	env, router := newTestEnv(t)
	registry := NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	adapter, err := NewAdapter(registry, router, env, []directive.ToolSpec{{Name: "echo"}}, types.WriteModeAppend, zap.NewNop())
	require.NoError(t, err)

	// Missing required argument: returned to the model, not fatal.
	text, err := adapter.HandleCall(context.Background(), types.ToolCall{Name: "echo"}, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "tool error")
}

func TestAdapterNonCriticalErrorRecovered(t *testing.T) {
	env, router := newTestEnv(t)
	registry := NewRegistry()
	require.NoError(t, registry.Register(&failTool{}))

	adapter, err := NewAdapter(registry, router, env, []directive.ToolSpec{{Name: "fail"}}, types.WriteModeAppend, zap.NewNop())
	require.NoError(t, err)

	text, err := adapter.HandleCall(context.Background(), types.ToolCall{Name: "fail"}, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "boom")
}

func TestAdapterCriticalErrorAborts(t *testing.T) {
	env, router := newTestEnv(t)
	registry := NewRegistry()
	require.NoError(t, registry.Register(&failTool{critical: true}))

	adapter, err := NewAdapter(registry, router, env, []directive.ToolSpec{{Name: "fail"}}, types.WriteModeAppend, zap.NewNop())
	require.NoError(t, err)

	_, err = adapter.HandleCall(context.Background(), types.ToolCall{Name: "fail"}, nil)
	require.Error(t, err)

	var toolErr *types.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.True(t, toolErr.Critical)
}

func TestAdapterUnknownToolFailsAtConstruction(t *testing.T) {
	env, router := newTestEnv(t)
	registry := NewRegistry()

	_, err := NewAdapter(registry, router, env, []directive.ToolSpec{{Name: "nope"}}, types.WriteModeAppend, zap.NewNop())
	require.Error(t, err)
}

func TestBufferOpsTool(t *testing.T) {
	env, _ := newTestEnv(t)
	tool := NewBufferOpsTool()
	ctx := context.Background()

	_, err := tool.Execute(ctx, map[string]interface{}{
		"action": "put", "name": "memo", "content": "remember this", "write_mode": "replace",
	}, env)
	require.NoError(t, err)

	res, err := tool.Execute(ctx, map[string]interface{}{"action": "get", "name": "memo"}, env)
	require.NoError(t, err)
	assert.Equal(t, "remember this", res.AsText())

	res, err = tool.Execute(ctx, map[string]interface{}{"action": "search", "name": "*", "pattern": "remember"}, env)
	require.NoError(t, err)
	assert.Contains(t, res.AsText(), "memo")

	res, err = tool.Execute(ctx, map[string]interface{}{"action": "peek", "name": "memo", "offset": float64(9), "length": float64(4)}, env)
	require.NoError(t, err)
	assert.Equal(t, "this", res.AsText())

	_, err = tool.Execute(ctx, map[string]interface{}{"action": "export", "name": "memo", "path": "exports/memo"}, env)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(env.Vault.Root, "exports", "memo.md"))
	require.NoError(t, err)
	assert.Equal(t, "remember this", string(data))
}

func TestFileOpsSafeTool(t *testing.T) {
	env, _ := newTestEnv(t)
	tool := NewFileOpsSafeTool()
	ctx := context.Background()

	_, err := tool.Execute(ctx, map[string]interface{}{
		"action": "write", "path": "notes/today", "content": "note body",
	}, env)
	require.NoError(t, err)

	res, err := tool.Execute(ctx, map[string]interface{}{"action": "read", "path": "notes/today.md"}, env)
	require.NoError(t, err)
	assert.Equal(t, "note body", res.AsText())

	_, err = tool.Execute(ctx, map[string]interface{}{
		"action": "append", "path": "notes/today.md", "content": "more",
	}, env)
	require.NoError(t, err)
	res, err = tool.Execute(ctx, map[string]interface{}{"action": "read", "path": "notes/today.md"}, env)
	require.NoError(t, err)
	assert.Equal(t, "note body\n\nmore", res.AsText())

	res, err = tool.Execute(ctx, map[string]interface{}{"action": "list", "path": "notes/*.md"}, env)
	require.NoError(t, err)
	assert.Contains(t, res.AsText(), "notes/today.md")

	// Sandbox escape is rejected.
	_, err = tool.Execute(ctx, map[string]interface{}{"action": "read", "path": "../escape.md"}, env)
	require.Error(t, err)
}
