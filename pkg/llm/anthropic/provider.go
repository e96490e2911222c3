// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package anthropic implements the Anthropic Messages API provider on
// the official SDK, streaming deltas as they arrive.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/llm"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

const (
	// DefaultMaxTokens caps the response when settings leave it unset.
	DefaultMaxTokens = 4096

	// ThinkingBudgetTokens is the extended-thinking budget when a step
	// requests thinking. MaxTokens is raised to leave room for the answer.
	ThinkingBudgetTokens = 2048
)

// Config holds the provider settings.
type Config struct {
	// APIKey authenticates requests; empty falls back to the SDK's
	// ANTHROPIC_API_KEY environment lookup.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string

	// MaxTokens is the per-call response cap. Zero means the default.
	MaxTokens int

	Timeout time.Duration

	Logger *zap.Logger
}

// Provider streams completions from the Anthropic Messages API.
type Provider struct {
	client    sdk.Client
	maxTokens int
	logger    *zap.Logger
}

// New creates the provider.
func New(cfg Config) *Provider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		client:    sdk.NewClient(opts...),
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (p *Provider) Name() string { return "anthropic" }

// Call streams one completion, emitting text deltas to sink and
// returning the assembled result.
func (p *Provider) Call(ctx context.Context, req llm.CallRequest, sink types.EventCallback) (*llm.CallResult, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var message sdk.Message
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}
		if delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(sdk.TextDelta); ok && text.Text != "" {
				sink.Emit(types.Event{Kind: types.EventDelta, Delta: text.Text})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream failed: %w", err)
	}

	return p.convertMessage(&message)
}

func (p *Provider) buildParams(req llm.CallRequest) (sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Thinking {
		// Thinking budget must fit under max_tokens.
		if int64(maxTokens) <= ThinkingBudgetTokens {
			params.MaxTokens = ThinkingBudgetTokens + int64(maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(ThinkingBudgetTokens)
	}

	for _, def := range req.Tools {
		tool, err := convertTool(def)
		if err != nil {
			return params, err
		}
		params.Tools = append(params.Tools, tool)
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return params, err
	}
	params.Messages = messages
	return params, nil
}

// convertTool maps a gateway tool definition onto the API's schema
// shape. The schema arrives as rendered JSON; properties and required
// are lifted out so the SDK can re-wrap them.
func convertTool(def llm.ToolDef) (sdk.ToolUnionParam, error) {
	var schema struct {
		Properties map[string]interface{} `json:"properties"`
		Required   []string               `json:"required"`
	}
	if len(def.Schema) > 0 {
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return sdk.ToolUnionParam{}, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
		}
	}
	return sdk.ToolUnionParam{
		OfTool: &sdk.ToolParam{
			Name:        def.Name,
			Description: sdk.String(def.Description),
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		},
	}, nil
}

// convertMessages maps conversation turns onto the Messages API. Tool
// results become tool_result blocks inside user turns, the way the API
// expects them.
func convertMessages(messages []types.Message) ([]sdk.MessageParam, error) {
	var out []sdk.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))

		case types.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}

		case types.RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))

		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return out, nil
}

func (p *Provider) convertMessage(message *sdk.Message) (*llm.CallResult, error) {
	result := &llm.CallResult{
		Usage: types.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			result.Text += b.Text
		case sdk.ToolUseBlock:
			var input map[string]interface{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, fmt.Errorf("tool %s returned invalid input JSON: %w", b.Name, err)
				}
			}
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			})
		}
	}
	p.logger.Debug("completion finished",
		zap.String("model", string(message.Model)),
		zap.String("stop_reason", string(message.StopReason)),
		zap.Int("tool_calls", len(result.ToolCalls)))
	return result, nil
}

var _ llm.Provider = (*Provider)(nil)
