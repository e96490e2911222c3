// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tools defines the tool surface the step engine exposes to the
// model: a typed registry populated at bootstrap, JSON Schema argument
// validation, and an adapter that routes tool results per their @tools
// token parameters.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/routing"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// Tool is one capability callable by the model during a step.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description for LLM context.
	Description() string

	// InputSchema returns the JSON Schema for the tool's arguments.
	InputSchema() *JSONSchema

	// Instructions returns a prompt snippet describing how to use the
	// tool. Empty when the description suffices.
	Instructions() string

	// Execute runs the tool. A *types.ToolError return (or an IsError
	// result) is handed back to the model unless the tool is critical.
	Execute(ctx context.Context, args map[string]interface{}, env *Env) (*types.ToolResult, error)

	// Critical marks tools whose errors abort the step instead of being
	// returned to the model.
	Critical() bool
}

// Env is what builtin tools may touch: the run's vault, buffers, and
// the scope chat-invoked tools default to.
type Env struct {
	Vault        *vault.Vault
	Buffers      *buffers.Store
	Router       *routing.Router
	DefaultScope types.Scope
}

// JSONSchema describes tool parameters, following the JSON Schema spec.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
}

// ToJSON renders the schema as JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ValidateArgs checks args against the schema and returns a ToolError
// describing the first violations when they do not conform.
func ValidateArgs(toolName string, schema *JSONSchema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	schemaJSON, err := schema.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal schema for %s: %w", toolName, err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("failed to validate arguments for %s: %w", toolName, err)
	}
	if result.Valid() {
		return nil
	}
	msg := "invalid arguments"
	if errs := result.Errors(); len(errs) > 0 {
		msg = errs[0].String()
	}
	return &types.ToolError{Tool: toolName, Message: msg}
}

// Registry is the typed tool table populated explicitly at bootstrap.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; duplicate names are a bootstrap bug.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %q is already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}
	return tool, nil
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
