// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a model conversation.
type Message struct {
	// Role is who authored the message.
	Role Role

	// Content is the text payload.
	Content string

	// ToolCalls are tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string

	// Name is the tool name.
	Name string

	// Input holds the call arguments.
	Input map[string]interface{}
}

// Usage tracks token consumption for one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolResultKind discriminates the ToolResult variants.
type ToolResultKind string

const (
	// ToolResultText is a plain text result.
	ToolResultText ToolResultKind = "text"

	// ToolResultStructured is a JSON-object result.
	ToolResultStructured ToolResultKind = "structured"

	// ToolResultMultimodal carries a sequence of typed parts.
	ToolResultMultimodal ToolResultKind = "multimodal"
)

// ToolResult is what a tool returns. Exactly one variant is populated,
// selected by Kind; the router renders every variant to text uniformly.
type ToolResult struct {
	Kind ToolResultKind

	// Text holds the ToolResultText payload.
	Text string

	// Structured holds the ToolResultStructured payload.
	Structured map[string]interface{}

	// Parts holds the ToolResultMultimodal payload.
	Parts []Part

	// IsError marks a result the tool itself reported as a failure. It is
	// handed back to the model unless the tool is critical.
	IsError bool
}

// Part is one element of a multimodal tool result.
type Part struct {
	// MIME is the part's media type, e.g. "text/plain" or "image/png".
	MIME string

	// Text is set for textual parts.
	Text string

	// Data is set for binary parts.
	Data []byte
}

// TextResult wraps plain text in a ToolResult.
func TextResult(text string) *ToolResult {
	return &ToolResult{Kind: ToolResultText, Text: text}
}

// StructuredResult wraps a JSON object in a ToolResult.
func StructuredResult(fields map[string]interface{}) *ToolResult {
	return &ToolResult{Kind: ToolResultStructured, Structured: fields}
}

// ErrorResult wraps a tool-reported failure message.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Kind: ToolResultText, Text: text, IsError: true}
}

// AsText renders the result for routing and for the model. Structured
// results marshal to JSON; multimodal results concatenate textual parts and
// label binary ones.
func (r *ToolResult) AsText() string {
	if r == nil {
		return ""
	}
	switch r.Kind {
	case ToolResultStructured:
		data, err := json.Marshal(r.Structured)
		if err != nil {
			return ""
		}
		return string(data)
	case ToolResultMultimodal:
		var b strings.Builder
		for i, p := range r.Parts {
			if i > 0 {
				b.WriteString("\n")
			}
			if p.Text != "" {
				b.WriteString(p.Text)
			} else {
				b.WriteString("[" + p.MIME + ", " + strconv.Itoa(len(p.Data)) + " bytes]")
			}
		}
		return b.String()
	default:
		return r.Text
	}
}
