// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/assistantmd/internal/version"
	"github.com/teradata-labs/assistantmd/pkg/config"
	"github.com/teradata-labs/assistantmd/pkg/runtime"
)

var (
	flagDataRoot   string
	flagSystemRoot string
)

var rootCmd = &cobra.Command{
	Use:   "assistantmd",
	Short: "Markdown-first agent host",
	Long: heredoc.Doc(`
		AssistantMD runs LLM workflows defined as markdown files inside your
		note vaults. Workflows live under AssistantMD/Workflows/ in each
		vault; context templates under AssistantMD/ContextTemplates/.

		Configuration lives in the system root (default ~/.assistantmd),
		vaults in the data root (default ~/AssistantMD).
	`),
	Version:       version.Get(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataRoot, "data-root", "",
		"vault directory (default $ASSISTANTMD_DATA_ROOT or ~/AssistantMD)")
	rootCmd.PersistentFlags().StringVar(&flagSystemRoot, "system-root", "",
		"config directory (default $ASSISTANTMD_SYSTEM_ROOT or ~/.assistantmd)")
}

// resolveRoots applies flag overrides over environment and defaults.
func resolveRoots() (dataRoot, systemRoot string) {
	dataRoot = flagDataRoot
	if dataRoot == "" {
		dataRoot = config.GetDataRoot()
	}
	systemRoot = flagSystemRoot
	if systemRoot == "" {
		systemRoot = config.GetSystemRoot()
	}
	return dataRoot, systemRoot
}

// bootstrapRuntime builds the runtime for one command invocation.
func bootstrapRuntime(ctx context.Context) (*runtime.Context, error) {
	dataRoot, systemRoot := resolveRoots()
	runtime.SetBootstrapRoots(dataRoot, systemRoot)
	return runtime.Bootstrap(ctx, runtime.RuntimeConfig{
		DataRoot:   dataRoot,
		SystemRoot: systemRoot,
	})
}
