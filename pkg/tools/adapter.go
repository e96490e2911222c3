// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/routing"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

// Adapter binds one step's @tools tokens to the registry and routes
// each tool result per its token parameters. When routing is active the
// model sees only the manifest, keeping its context small.
type Adapter struct {
	registry *Registry
	router   *routing.Router
	env      *Env
	specs    []directive.ToolSpec
	mode     types.WriteMode
	logger   *zap.Logger
}

// NewAdapter wires the adapter for one step. stepMode is the step's
// effective write mode, inherited by tokens without write_mode=.
func NewAdapter(registry *Registry, router *routing.Router, env *Env, specs []directive.ToolSpec, stepMode types.WriteMode, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, spec := range specs {
		if _, err := registry.Get(spec.Name); err != nil {
			return nil, err
		}
	}
	return &Adapter{
		registry: registry,
		router:   router,
		env:      env,
		specs:    specs,
		mode:     stepMode,
		logger:   logger,
	}, nil
}

// Enabled returns the tools this step exposes to the model, in token
// order.
func (a *Adapter) Enabled() []Tool {
	enabled := make([]Tool, 0, len(a.specs))
	for _, spec := range a.specs {
		if tool, err := a.registry.Get(spec.Name); err == nil {
			enabled = append(enabled, tool)
		}
	}
	return enabled
}

// HandleCall validates, executes, and routes one tool call. The return
// value is what the model sees: the result text, or its manifest when
// the token routes the payload elsewhere. Non-critical tool failures
// come back as (text, nil) so the model can recover; critical ones and
// infrastructure failures return an error that aborts the step.
func (a *Adapter) HandleCall(ctx context.Context, call types.ToolCall, events types.EventCallback) (string, error) {
	events.Emit(types.Event{
		Kind:       types.EventToolCallStarted,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolInput:  call.Input,
	})

	text, err := a.execute(ctx, call)
	if err != nil {
		var toolErr *types.ToolError
		if errors.As(err, &toolErr) && !toolErr.Critical {
			// Recovered into the LLM loop.
			text = "tool error: " + toolErr.Message
			err = nil
		}
	}
	if err != nil {
		events.Emit(types.Event{Kind: types.EventError, ToolCallID: call.ID, ToolName: call.Name, Err: err.Error()})
		return "", err
	}

	events.Emit(types.Event{
		Kind:       types.EventToolCallFinished,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolOutput: text,
	})
	return text, nil
}

func (a *Adapter) execute(ctx context.Context, call types.ToolCall) (string, error) {
	spec := a.specFor(call.Name)
	if spec == nil {
		return "", &types.ToolError{Tool: call.Name, Message: "tool is not enabled for this step"}
	}
	tool, err := a.registry.Get(call.Name)
	if err != nil {
		return "", err
	}

	if err := ValidateArgs(call.Name, tool.InputSchema(), call.Input); err != nil {
		return "", err
	}

	result, err := tool.Execute(ctx, call.Input, a.env)
	if ctx.Err() == context.DeadlineExceeded {
		return "", &types.TimeoutError{Op: "tool " + call.Name}
	}
	if err != nil {
		var toolErr *types.ToolError
		if errors.As(err, &toolErr) {
			toolErr.Critical = toolErr.Critical || tool.Critical()
			return "", toolErr
		}
		return "", &types.ToolError{Tool: call.Name, Message: err.Error(), Critical: tool.Critical()}
	}

	text := result.AsText()
	if result.IsError {
		if tool.Critical() {
			return "", &types.ToolError{Tool: call.Name, Message: text, Critical: true}
		}
		return "tool error: " + text, nil
	}

	if spec.Output == nil {
		return text, nil
	}

	mode := spec.WriteMode
	if mode == "" {
		mode = a.mode
	}
	routed, err := a.router.Route(routing.Request{
		Payload:      text,
		Spec:         *spec.Output,
		WriteMode:    mode,
		DefaultScope: scopeFor(spec, a.env),
		Sources:      []string{"tool:" + call.Name},
		Source:       "tool:" + call.Name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to route result of %s: %w", call.Name, err)
	}

	a.logger.Debug("routed tool result",
		zap.String("tool", call.Name),
		zap.String("dest", spec.Output.String()),
		zap.Int("bytes", len(text)))
	return routed.Inline, nil
}

func (a *Adapter) specFor(name string) *directive.ToolSpec {
	for i := range a.specs {
		if a.specs[i].Name == name {
			return &a.specs[i]
		}
	}
	return nil
}

func scopeFor(spec *directive.ToolSpec, env *Env) types.Scope {
	if spec.Scope != "" {
		return spec.Scope
	}
	if env != nil && env.DefaultScope != "" {
		return env.DefaultScope
	}
	return types.ScopeRun
}
