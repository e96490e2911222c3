// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Rescan vaults and reconcile schedules",
	Long: heredoc.Doc(`
		Walk every vault, rebuild the definition index, and reconcile the
		scheduler's jobs against it. Parse failures are listed per file;
		a failing file schedules and executes nothing.
	`),
	RunE: runRescan,
}

func init() {
	rootCmd.AddCommand(rescanCmd)
}

func runRescan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
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

	out := cmd.OutOrStdout()
	for _, id := range reconcile.Created {
		fmt.Fprintf(out, "  schedule created: %s\n", id)
	}
	for _, id := range reconcile.Updated {
		fmt.Fprintf(out, "  schedule kept: %s\n", id)
	}
	for _, id := range reconcile.Replaced {
		fmt.Fprintf(out, "  schedule replaced: %s\n", id)
	}
	for _, id := range reconcile.Removed {
		fmt.Fprintf(out, "  schedule removed: %s\n", id)
	}
	return nil
}
