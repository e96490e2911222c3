// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm is the gateway between the step engine and model
// providers: alias resolution, message assembly, the tool-call loop,
// and the ordered event stream an API layer can forward.
package llm

import (
	"context"
	"encoding/json"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// ToolDef is the provider-facing description of one enabled tool.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CallRequest is one provider invocation.
type CallRequest struct {
	// Model is the provider-specific model string (not the alias).
	Model string

	// System is the system prompt; empty means none.
	System string

	// Messages is the conversation so far, ending with the user turn or
	// the latest tool results.
	Messages []types.Message

	// Tools the model may call.
	Tools []ToolDef

	// Thinking requests extended reasoning where the provider supports
	// it; providers without it ignore the flag.
	Thinking bool

	// MaxTokens caps the response; 0 means the provider default.
	MaxTokens int
}

// CallResult is the provider's complete answer to one call.
type CallResult struct {
	// Text is the assistant text, assembled from streamed deltas.
	Text string

	// ToolCalls are requested invocations; non-empty means the caller
	// should execute them and call again with the results appended.
	ToolCalls []types.ToolCall

	// Usage is token accounting when the provider reports it.
	Usage types.Usage
}

// Provider is the outbound boundary to one model backend. Streaming
// deltas and lifecycle events go to sink as they arrive; the returned
// result is the assembled whole.
type Provider interface {
	// Name identifies the provider in settings (e.g. "anthropic").
	Name() string

	// Call performs one model invocation.
	Call(ctx context.Context, req CallRequest, sink types.EventCallback) (*CallResult, error)
}

// ModelResolver maps a model alias from a directive to a provider and
// its model string. The settings store implements this.
type ModelResolver interface {
	// ResolveModel resolves an alias; an empty alias yields the default
	// model. Failure means ModelUnavailableError.
	ResolveModel(alias string) (provider, model string, err error)
}

// TokenEstimator approximates token counts for gating decisions. The
// estimate is monotonic in text length but provider-approximate.
type TokenEstimator interface {
	EstimateTokens(text string) int
}
