// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/tools"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

// DefaultMaxToolIterations bounds the tool-call loop of one step.
const DefaultMaxToolIterations = 16

// GatewayConfig wires a Gateway.
type GatewayConfig struct {
	Resolver ModelResolver

	// Providers by name, as registered at bootstrap.
	Providers map[string]Provider

	// Deadline bounds each provider and tool call. Zero means none.
	Deadline time.Duration

	// MaxToolIterations caps tool round-trips per step. Zero means the
	// default.
	MaxToolIterations int

	Logger *zap.Logger
}

// Gateway resolves model aliases and drives the call/tool loop for one
// step, emitting events in order. It can be reconfigured while calls
// are in flight.
type Gateway struct {
	mu sync.RWMutex
	st gatewayState
}

// gatewayState is one immutable configuration generation.
type gatewayState struct {
	resolver  ModelResolver
	providers map[string]Provider
	deadline  time.Duration
	maxIter   int
	logger    *zap.Logger
}

func buildState(cfg GatewayConfig) (gatewayState, error) {
	if cfg.Resolver == nil {
		return gatewayState{}, fmt.Errorf("model resolver is required")
	}
	if len(cfg.Providers) == 0 {
		return gatewayState{}, fmt.Errorf("at least one provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}
	return gatewayState{
		resolver:  cfg.Resolver,
		providers: cfg.Providers,
		deadline:  cfg.Deadline,
		maxIter:   maxIter,
		logger:    logger,
	}, nil
}

// NewGateway creates a Gateway with defaults applied.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	st, err := buildState(cfg)
	if err != nil {
		return nil, err
	}
	return &Gateway{st: st}, nil
}

// Reconfigure swaps in a new configuration after validating it. A
// Complete call already in flight finishes on the configuration it
// started with; the next call sees the new one.
func (g *Gateway) Reconfigure(cfg GatewayConfig) error {
	st, err := buildState(cfg)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.st = st
	g.mu.Unlock()
	return nil
}

func (g *Gateway) snapshot() gatewayState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st
}

// CompleteRequest is one step's model interaction.
type CompleteRequest struct {
	// Alias is the @model value; empty selects the settings default.
	Alias string

	System   string
	User     string
	Thinking bool

	// Adapter executes and routes tool calls; nil disables tools.
	Adapter *tools.Adapter

	// Events receives the ordered stream: delta, tool_call_started,
	// tool_call_finished, done, error.
	Events types.EventCallback
}

// Complete runs the model call loop and returns the final assistant
// text. Tool calls are executed through the adapter between provider
// invocations; their results (or manifests) go back to the model.
func (g *Gateway) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	st := g.snapshot()
	providerName, model, err := st.resolver.ResolveModel(req.Alias)
	if err != nil {
		return "", err
	}
	provider, ok := st.providers[providerName]
	if !ok {
		return "", &types.ModelUnavailableError{Alias: req.Alias, Reason: fmt.Sprintf("provider %q is not registered", providerName)}
	}

	var toolDefs []ToolDef
	if req.Adapter != nil {
		for _, tool := range req.Adapter.Enabled() {
			schema, err := tool.InputSchema().ToJSON()
			if err != nil {
				return "", fmt.Errorf("failed to render schema for %s: %w", tool.Name(), err)
			}
			desc := tool.Description()
			if instr := tool.Instructions(); instr != "" {
				desc += " " + instr
			}
			toolDefs = append(toolDefs, ToolDef{Name: tool.Name(), Description: desc, Schema: schema})
		}
	}

	messages := []types.Message{{Role: types.RoleUser, Content: req.User}}

	for iteration := 0; iteration < st.maxIter; iteration++ {
		result, err := st.call(ctx, provider, CallRequest{
			Model:    model,
			System:   req.System,
			Messages: messages,
			Tools:    toolDefs,
			Thinking: req.Thinking,
		}, req.Events)
		if err != nil {
			req.Events.Emit(types.Event{Kind: types.EventError, Err: err.Error()})
			return "", err
		}

		if len(result.ToolCalls) == 0 {
			req.Events.Emit(types.Event{Kind: types.EventDone})
			return result.Text, nil
		}

		messages = append(messages, types.Message{
			Role:      types.RoleAssistant,
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			text, err := st.handleTool(ctx, req.Adapter, call, req.Events)
			if err != nil {
				req.Events.Emit(types.Event{Kind: types.EventError, Err: err.Error()})
				return "", err
			}
			messages = append(messages, types.Message{
				Role:       types.RoleTool,
				Content:    text,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("model exceeded %d tool iterations", st.maxIter)
}

func (st gatewayState) call(ctx context.Context, provider Provider, req CallRequest, events types.EventCallback) (*CallResult, error) {
	callCtx := ctx
	if st.deadline > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, st.deadline)
		defer cancel()
	}
	start := time.Now()
	result, err := provider.Call(callCtx, req, events)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, &types.TimeoutError{Op: "model call", Deadline: st.deadline}
		}
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	st.logger.Debug("model call completed",
		zap.String("provider", provider.Name()),
		zap.String("model", req.Model),
		zap.Int("tool_calls", len(result.ToolCalls)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (st gatewayState) handleTool(ctx context.Context, adapter *tools.Adapter, call types.ToolCall, events types.EventCallback) (string, error) {
	if adapter == nil {
		return "", &types.ToolError{Tool: call.Name, Message: "no tools are enabled for this step"}
	}
	toolCtx := ctx
	if st.deadline > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, st.deadline)
		defer cancel()
	}
	return adapter.HandleCall(toolCtx, call, events)
}
