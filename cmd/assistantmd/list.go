// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect workflow definitions",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every loaded workflow and template",
	Long: heredoc.Doc(`
		Scan the vaults and list every definition, including files that
		failed to parse.
	`),
	RunE: runWorkflowsList,
}

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Inspect scheduled jobs",
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted schedule jobs with their next fire time",
	RunE:  runSchedulesList,
}

func init() {
	workflowsCmd.AddCommand(workflowsListCmd)
	schedulesCmd.AddCommand(schedulesListCmd)
	rootCmd.AddCommand(workflowsCmd)
	rootCmd.AddCommand(schedulesCmd)
}

func runWorkflowsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := bootstrapRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	report, err := rt.Loader().Rescan(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GLOBAL ID\tKIND\tENABLED\tSCHEDULE\tDESCRIPTION")
	for _, def := range rt.Loader().Definitions() {
		schedule := "-"
		if def.Schedule != nil {
			schedule = def.Schedule.Raw
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			def.GlobalID, def.Kind, def.Enabled, schedule, def.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Failed) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d file(s) failed to parse:\n", len(report.Failed))
		for _, failure := range report.Failed {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", failure.Path, failure.Err)
		}
	}
	return nil
}

func runSchedulesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := bootstrapRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	jobs, err := rt.Scheduler().Jobs(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GLOBAL ID\tTRIGGER\tNEXT FIRE")
	for _, job := range jobs {
		next := "-"
		if !job.NextFire.IsZero() {
			next = job.NextFire.Local().Format(time.RFC1123)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", job.GlobalID, job.TriggerRaw, next)
	}
	return w.Flush()
}
