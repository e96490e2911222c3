// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

var flagValidateKind string

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a definition file and report errors",
	Long: heredoc.Doc(`
		Parse one workflow or context template file without loading it into
		the runtime. Exits non-zero when the file fails to parse, printing
		the offending line and directive.

			assistantmd validate ~/AssistantMD/Personal/AssistantMD/Workflows/daily.md
	`),
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&flagValidateKind, "kind", "",
		"definition kind: workflow or template (default: inferred from the path)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	kind, err := validateKind(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), ".md")

	def, err := directive.Parse(name, data, kind)
	if err != nil {
		var parseErr *types.DirectiveParseError
		if errors.As(err, &parseErr) {
			return fmt.Errorf("%s:%d: directive %q: %s", path, parseErr.Line, parseErr.Name, parseErr.Reason)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: valid %s", path, def.Kind)
	if def.Schedule != nil {
		fmt.Fprintf(out, ", schedule %q", def.Schedule.Raw)
	}
	if def.ScheduleError != "" {
		fmt.Fprintf(out, ", schedule ignored: %s", def.ScheduleError)
	}
	fmt.Fprintf(out, ", %d step(s)\n", len(def.Steps))
	return nil
}

// validateKind maps the --kind flag, falling back to the directory the
// file lives in.
func validateKind(path string) (directive.Kind, error) {
	switch flagValidateKind {
	case "workflow":
		return directive.KindWorkflow, nil
	case "template":
		return directive.KindContextTemplate, nil
	case "":
		if strings.Contains(filepath.ToSlash(path), "/ContextTemplates/") {
			return directive.KindContextTemplate, nil
		}
		return directive.KindWorkflow, nil
	default:
		return "", fmt.Errorf("unknown kind %q: expected workflow or template", flagValidateKind)
	}
}
