// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// BufferOpsTool gives the model access to run and session buffers:
// cross-turn memory in chat, scratch space in workflows.
type BufferOpsTool struct{}

// NewBufferOpsTool creates the buffer_ops builtin.
func NewBufferOpsTool() *BufferOpsTool {
	return &BufferOpsTool{}
}

func (t *BufferOpsTool) Name() string { return "buffer_ops" }

func (t *BufferOpsTool) Description() string {
	return "Read, write, list, search, and export named in-memory buffers (variables)."
}

func (t *BufferOpsTool) Instructions() string {
	return "Use buffer_ops to stash intermediate results or recall values stored earlier. " +
		"Session-scoped buffers persist across chat turns; run-scoped buffers last one workflow run. " +
		"Large buffers refuse full reads; use the peek action with offset and length instead."
}

func (t *BufferOpsTool) Critical() bool { return false }

func (t *BufferOpsTool) InputSchema() *JSONSchema {
	return &JSONSchema{
		Type: "object",
		Properties: map[string]*JSONSchema{
			"action": {
				Type:        "string",
				Description: "Operation to perform",
				Enum:        []interface{}{"get", "put", "list", "info", "search", "export", "peek"},
			},
			"name":    {Type: "string", Description: "Buffer name (glob allowed for search)"},
			"content": {Type: "string", Description: "Content for put"},
			"scope": {
				Type:        "string",
				Description: "Buffer scope; defaults to the calling context's scope",
				Enum:        []interface{}{"run", "session"},
			},
			"write_mode": {
				Type: "string",
				Enum: []interface{}{"append", "replace", "new"},
			},
			"pattern": {Type: "string", Description: "Substring to search for"},
			"path":    {Type: "string", Description: "Vault-relative destination for export"},
			"offset":  {Type: "number", Description: "Byte offset for peek"},
			"length":  {Type: "number", Description: "Byte count for peek"},
		},
		Required: []string{"action"},
	}
}

func (t *BufferOpsTool) Execute(ctx context.Context, args map[string]interface{}, env *Env) (*types.ToolResult, error) {
	if env == nil || env.Buffers == nil {
		return nil, &types.ToolError{Tool: t.Name(), Message: "no buffer store available"}
	}

	action, _ := args["action"].(string)
	name, _ := args["name"].(string)
	scope := env.DefaultScope
	if scope == "" {
		scope = types.ScopeRun
	}
	if s, ok := args["scope"].(string); ok && s != "" {
		scope = types.Scope(s)
	}

	switch action {
	case "get":
		content, err := env.Buffers.Get(scope, name)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		return types.TextResult(content), nil

	case "put":
		content, _ := args["content"].(string)
		mode := types.WriteModeAppend
		if m, ok := args["write_mode"].(string); ok && m != "" {
			mode = types.WriteMode(m)
		}
		finalName, err := env.Buffers.Put(scope, name, content, "tool:buffer_ops", mode)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		return types.StructuredResult(map[string]interface{}{"name": finalName, "scope": string(scope), "bytes": len(content)}), nil

	case "list":
		infos := env.Buffers.List(scope)
		data, err := json.Marshal(infos)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal buffer list: %w", err)
		}
		return types.TextResult(string(data)), nil

	case "info":
		info, err := env.Buffers.Info(scope, name)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		data, err := json.Marshal(info)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal buffer info: %w", err)
		}
		return types.TextResult(string(data)), nil

	case "search":
		pattern, _ := args["pattern"].(string)
		namePattern := name
		if namePattern == "" {
			namePattern = "*"
		}
		hits, err := env.Buffers.Search(scope, namePattern, pattern)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		if len(hits) == 0 {
			return types.TextResult("no matches"), nil
		}
		data, _ := json.Marshal(hits)
		return types.TextResult(string(data)), nil

	case "export":
		rel, _ := args["path"].(string)
		if env.Vault == nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: "no vault available for export"}
		}
		abs, err := env.Vault.ResolvePath(vault.EnsureMarkdownExt(rel))
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		if err := env.Buffers.Export(scope, name, abs); err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		return types.TextResult("exported " + name + " to " + rel), nil

	case "peek":
		offset := intArg(args, "offset")
		length := intArg(args, "length")
		part, err := env.Buffers.Peek(scope, name, offset, length)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		return types.TextResult(part), nil

	default:
		return nil, &types.ToolError{Tool: t.Name(), Message: fmt.Sprintf("unknown action %q", action)}
	}
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
