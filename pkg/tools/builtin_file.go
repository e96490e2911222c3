// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teradata-labs/assistantmd/internal/atomicfile"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// FileOpsSafeTool lets the model read and write markdown inside the
// vault sandbox. Every path goes through the vault boundary check.
type FileOpsSafeTool struct{}

// NewFileOpsSafeTool creates the file_ops_safe builtin.
func NewFileOpsSafeTool() *FileOpsSafeTool {
	return &FileOpsSafeTool{}
}

func (t *FileOpsSafeTool) Name() string { return "file_ops_safe" }

func (t *FileOpsSafeTool) Description() string {
	return "Read, write, append, and list markdown files inside the vault."
}

func (t *FileOpsSafeTool) Instructions() string {
	return "Use file_ops_safe with vault-relative paths only; absolute paths and .. are rejected. " +
		"Paths without an extension get .md appended."
}

func (t *FileOpsSafeTool) Critical() bool { return false }

func (t *FileOpsSafeTool) InputSchema() *JSONSchema {
	return &JSONSchema{
		Type: "object",
		Properties: map[string]*JSONSchema{
			"action": {
				Type:        "string",
				Description: "Operation to perform",
				Enum:        []interface{}{"read", "write", "append", "list"},
			},
			"path":    {Type: "string", Description: "Vault-relative path (or glob for list)"},
			"content": {Type: "string", Description: "Content for write and append"},
		},
		Required: []string{"action", "path"},
	}
}

func (t *FileOpsSafeTool) Execute(ctx context.Context, args map[string]interface{}, env *Env) (*types.ToolResult, error) {
	if env == nil || env.Vault == nil {
		return nil, &types.ToolError{Tool: t.Name(), Message: "no vault available"}
	}

	action, _ := args["action"].(string)
	rel, _ := args["path"].(string)

	switch action {
	case "read":
		abs, err := env.Vault.ResolvePath(rel)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: fmt.Sprintf("failed to read %s: %v", rel, err)}
		}
		return types.TextResult(string(data)), nil

	case "write", "append":
		content, _ := args["content"].(string)
		rel = vault.EnsureMarkdownExt(rel)
		abs, err := env.Vault.ResolvePath(rel)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		if action == "append" {
			if _, statErr := os.Stat(abs); statErr == nil {
				err = atomicfile.AppendFile(abs, []byte("\n\n"+content), 0o644)
			} else {
				err = atomicfile.WriteFile(abs, []byte(content), 0o644)
			}
		} else {
			err = atomicfile.WriteFile(abs, []byte(content), 0o644)
		}
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: fmt.Sprintf("failed to %s %s: %v", action, rel, err)}
		}
		return types.StructuredResult(map[string]interface{}{"path": rel, "bytes": len(content)}), nil

	case "list":
		matches, err := listVault(env.Vault, rel)
		if err != nil {
			return nil, &types.ToolError{Tool: t.Name(), Message: err.Error()}
		}
		if len(matches) == 0 {
			return types.TextResult("no matches"), nil
		}
		return types.TextResult(strings.Join(matches, "\n")), nil

	default:
		return nil, &types.ToolError{Tool: t.Name(), Message: fmt.Sprintf("unknown action %q", action)}
	}
}

func listVault(v *vault.Vault, pattern string) ([]string, error) {
	if err := patterns.ValidatePathPattern(pattern); err != nil {
		return nil, err
	}
	hits, err := filepath.Glob(filepath.Join(v.Root, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, &types.InvalidPatternError{Pattern: pattern, Reason: err.Error()}
	}
	var matches []string
	for _, hit := range hits {
		info, err := os.Stat(hit)
		if err != nil || info.IsDir() {
			continue
		}
		matches = append(matches, v.RelPath(hit))
	}
	sort.Strings(matches)
	return matches, nil
}
