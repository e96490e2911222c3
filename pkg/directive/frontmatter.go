// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package directive

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// frontmatterResult is the outcome of splitting a file into its YAML
// frontmatter and markdown body.
type frontmatterResult struct {
	// Fields holds the decoded frontmatter; empty map when absent.
	Fields map[string]interface{}

	// Body is the markdown after the closing fence.
	Body string

	// BodyStart is the 1-based line number where the body begins, used to
	// report directive errors against the original file.
	BodyStart int
}

// extractFrontmatter splits content on "---" fences. A file without a
// leading fence has no frontmatter; a leading fence without a closing one
// is a parse error.
func extractFrontmatter(content string) (*frontmatterResult, error) {
	lines := strings.Split(content, "\n")

	if len(lines) == 0 || strings.TrimRight(lines[0], " \t\r") != "---" {
		return &frontmatterResult{
			Fields:    map[string]interface{}{},
			Body:      content,
			BodyStart: 1,
		}, nil
	}

	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\r") == "---" {
			closing = i
			break
		}
	}
	if closing == -1 {
		return nil, &types.DirectiveParseError{Line: 1, Reason: "frontmatter fence is never closed"}
	}

	yamlText := strings.Join(lines[1:closing], "\n")
	// Non-breaking spaces sneak in from copy-pasted notes and are invalid
	// YAML indentation.
	yamlText = strings.ReplaceAll(yamlText, "\u00a0", " ")

	fields := map[string]interface{}{}
	if strings.TrimSpace(yamlText) != "" {
		if err := yaml.Unmarshal([]byte(yamlText), &fields); err != nil {
			return nil, &types.DirectiveParseError{Line: 2, Reason: "invalid frontmatter YAML: " + err.Error()}
		}
	}

	return &frontmatterResult{
		Fields:    fields,
		Body:      strings.Join(lines[closing+1:], "\n"),
		BodyStart: closing + 2,
	}, nil
}
