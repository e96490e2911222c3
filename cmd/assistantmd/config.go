// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/assistantmd/pkg/config"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings and secrets",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Seed default settings and secrets files",
	Long: heredoc.Doc(`
		Create the system root with default settings.yaml and secrets.yaml.
		Existing files are left untouched.
	`),
	RunE: runConfigInit,
}

var configReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload settings and rebuild model providers",
	RunE:  runConfigReload,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configReloadCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	_, systemRoot := resolveRoots()
	report, err := config.EnsureSeeded(systemRoot)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if report.SettingsCreated {
		fmt.Fprintf(out, "created %s\n", config.SettingsPath(systemRoot))
	} else {
		fmt.Fprintf(out, "kept %s\n", config.SettingsPath(systemRoot))
	}
	if report.SecretsCreated {
		fmt.Fprintf(out, "created %s\n", config.SecretsPath(systemRoot))
	} else {
		fmt.Fprintf(out, "kept %s\n", config.SecretsPath(systemRoot))
	}

	// Surface structural problems right away so the user can repair them.
	if _, err := config.LoadSettings(systemRoot); err != nil {
		var repair *types.ConfigRepairError
		if errors.As(err, &repair) {
			return fmt.Errorf("settings.yaml is missing sections: %s", strings.Join(repair.Missing, ", "))
		}
		return err
	}
	fmt.Fprintln(out, "settings.yaml is valid")
	return nil
}

func runConfigReload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := bootstrapRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	result, err := rt.Reload()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reloaded settings, %d provider(s) rebuilt at %s\n",
		result.ProvidersRebuilt, result.At.Format("15:04:05"))
	return nil
}
