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
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/internal/log"
	"github.com/teradata-labs/assistantmd/pkg/workflows"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and vault watcher",
	Long: heredoc.Doc(`
		Bootstrap the runtime, scan every vault, and keep the host running.
		Scheduled workflows fire as their triggers come due; the vault
		watcher picks up definition edits without a restart.

		Press Ctrl+C to shut down gracefully.
	`),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrapRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	report, reconcile, err := rt.Rescan(ctx)
	if err != nil {
		return err
	}
	printLoaderReport(cmd, report)
	fmt.Fprintf(cmd.OutOrStdout(), "Schedules: %d created, %d updated, %d replaced, %d removed\n",
		len(reconcile.Created), len(reconcile.Updated), len(reconcile.Replaced), len(reconcile.Removed))

	if err := rt.Scheduler().Start(ctx); err != nil {
		return err
	}

	if rt.WatchVaults() {
		dataRoot, _ := resolveRoots()
		watcher, err := workflows.NewWatcher(workflows.WatcherConfig{
			Loader:   rt.Loader(),
			DataRoot: dataRoot,
			Logger:   log.Logger(),
			OnReload: func(report *workflows.LoaderReport) {
				if _, err := rt.Reconcile(context.Background()); err != nil {
					log.Warn("reconcile after reload failed", zap.Error(err))
				}
			},
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "AssistantMD is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
	return nil
}

func printLoaderReport(cmd *cobra.Command, report *workflows.LoaderReport) {
	fmt.Fprintf(cmd.OutOrStdout(), "Definitions: %d loaded, %d failed (%s)\n",
		report.Loaded, len(report.Failed), report.Duration.Round(1e6))
	for _, failure := range report.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", failure.Path, failure.Err)
	}
}
