// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package openaicompat implements a chat-completions provider for any
// endpoint speaking the OpenAI wire format: OpenAI itself, Ollama,
// vLLM, LM Studio, and local proxies.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/llm"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

const (
	// DefaultEndpoint is OpenAI's chat completions URL.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

	// DefaultMaxTokens caps the response when settings leave it unset.
	DefaultMaxTokens = 4096

	// DefaultTimeout bounds one HTTP round trip.
	DefaultTimeout = 120 * time.Second
)

// Config holds the provider settings.
type Config struct {
	// Name identifies this provider in settings; distinct instances can
	// point at different endpoints (e.g. "openai" and "ollama").
	Name string

	// APIKey is sent as a bearer token when non-empty. Local endpoints
	// usually need none.
	APIKey string

	// Endpoint is the chat completions URL.
	Endpoint string

	MaxTokens int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Provider calls an OpenAI-compatible chat completions endpoint.
type Provider struct {
	name       string
	apiKey     string
	endpoint   string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates the provider with defaults applied.
func New(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (p *Provider) Name() string { return p.name }

// Call performs one non-streaming completion. The assembled text is
// emitted as a single delta so downstream event handling stays uniform
// with streaming providers.
func (p *Provider) Call(ctx context.Context, req llm.CallRequest, sink types.EventCallback) (*llm.CallResult, error) {
	apiReq := &chatCompletionRequest{
		Model:     req.Model,
		Messages:  convertMessages(req.System, req.Messages),
		MaxTokens: maxTokensFor(req, p.maxTokens),
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = convertTools(req.Tools)
		apiReq.ToolChoice = "auto"
	}

	resp, err := p.callAPI(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	result, err := convertResponse(resp)
	if err != nil {
		return nil, err
	}
	if result.Text != "" {
		sink.Emit(types.Event{Kind: types.EventDelta, Delta: result.Text})
	}
	return result, nil
}

func maxTokensFor(req llm.CallRequest, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return fallback
}

func (p *Provider) callAPI(ctx context.Context, apiReq *chatCompletionRequest) (*chatCompletionResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	p.logger.Debug("chat completion finished",
		zap.String("model", resp.Model),
		zap.Duration("elapsed", time.Since(start)))
	return &resp, nil
}

// convertMessages maps conversation turns onto the chat format. The
// system prompt goes first as its own message.
func convertMessages(system string, messages []types.Message) []chatMessage {
	var out []chatMessage
	if system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleAssistant:
			apiMsg := chatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Input)
				if err != nil {
					args = []byte("{}")
				}
				apiMsg.ToolCalls = append(apiMsg.ToolCalls, toolCall{
					ID:   tc.ID,
					Type: "function",
					Function: functionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, apiMsg)
		case types.RoleTool:
			out = append(out, chatMessage{Role: "tool", Content: msg.Content, ToolCallID: msg.ToolCallID})
		default:
			out = append(out, chatMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return out
}

func convertTools(defs []llm.ToolDef) []toolDef {
	var out []toolDef
	for _, def := range defs {
		var params map[string]interface{}
		if len(def.Schema) > 0 {
			if err := json.Unmarshal(def.Schema, &params); err != nil {
				params = map[string]interface{}{"type": "object"}
			}
		}
		out = append(out, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func convertResponse(resp *chatCompletionResponse) (*llm.CallResult, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	choice := resp.Choices[0]
	result := &llm.CallResult{
		Text: choice.Message.Content,
		Usage: types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("tool %s returned invalid arguments: %w", tc.Function.Name, err)
			}
		}
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return result, nil
}

var _ llm.Provider = (*Provider)(nil)
