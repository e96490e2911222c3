// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/assistantmd/pkg/runtime"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

var (
	flagRunStep   string
	flagRunStream bool
)

var runCmd = &cobra.Command{
	Use:   "run <vault/name>",
	Short: "Run a workflow now",
	Long: heredoc.Doc(`
		Execute one workflow immediately, regardless of its schedule. The
		argument is the global id: the vault name and the workflow name,
		separated by a slash.

			assistantmd run Personal/daily
			assistantmd run Personal/daily --step Draft
	`),
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagRunStep, "step", "", "run only this named step")
	runCmd.Flags().BoolVar(&flagRunStream, "stream", false, "stream model output to stdout")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrapRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if _, _, err := rt.Rescan(ctx); err != nil {
		return err
	}

	var events types.EventCallback
	if flagRunStream {
		events = streamEvents(cmd)
	}

	record, err := rt.RunWorkflow(ctx, args[0], runtime.RunOptions{
		Cause:    types.CauseManual,
		StepName: flagRunStep,
		Events:   events,
	})
	if err != nil {
		return err
	}

	printRunRecord(cmd, record)
	if record.Failed() {
		return fmt.Errorf("run failed: %s", record.Error)
	}
	return nil
}

// streamEvents prints run progress as it happens.
func streamEvents(cmd *cobra.Command) types.EventCallback {
	out := cmd.OutOrStdout()
	return func(ev types.Event) {
		switch ev.Kind {
		case types.EventStepStarted:
			fmt.Fprintf(out, "\n== %s ==\n", ev.Step)
		case types.EventStepSkipped:
			fmt.Fprintf(out, "\n== %s (skipped) ==\n", ev.Step)
		case types.EventDelta:
			fmt.Fprint(out, ev.Delta)
		case types.EventToolCallStarted:
			fmt.Fprintf(out, "\n[tool %s]\n", ev.ToolName)
		case types.EventError:
			fmt.Fprintf(out, "\n[error] %s\n", ev.Err)
		case types.EventDone:
			fmt.Fprintln(out)
		}
	}
}

func printRunRecord(cmd *cobra.Command, record *types.RunRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s) finished in %s\n",
		record.RunID, record.GlobalID, record.FinishedAt.Sub(record.StartedAt).Round(1e6))
	for _, step := range record.Steps {
		line := fmt.Sprintf("  %-20s %s", step.Name, step.Status)
		if step.SkipReason != "" {
			line += " (" + step.SkipReason + ")"
		}
		if step.Error != "" {
			line += ": " + step.Error
		}
		fmt.Fprintln(out, line)
	}
	for _, path := range record.OutputFiles {
		fmt.Fprintf(out, "  wrote %s\n", path)
	}
	for _, name := range record.VariablesCreated {
		fmt.Fprintf(out, "  variable %s\n", name)
	}
}
