// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/internal/log"
	"github.com/teradata-labs/assistantmd/pkg/config"
	"github.com/teradata-labs/assistantmd/pkg/contextmgr"
	"github.com/teradata-labs/assistantmd/pkg/engine"
	"github.com/teradata-labs/assistantmd/pkg/scheduler"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
	"github.com/teradata-labs/assistantmd/pkg/workflows"
)

// RunOptions shape one workflow run.
type RunOptions struct {
	// Cause is scheduled or manual; empty means manual.
	Cause string

	// StepName restricts the run to one named step.
	StepName string

	Events types.EventCallback
}

// RunWorkflow resolves globalID against the current index and executes
// it. The definition is re-resolved at call time, so a scheduled job
// always runs the file as it exists now.
func (c *Context) RunWorkflow(ctx context.Context, globalID string, opts RunOptions) (*types.RunRecord, error) {
	def, ok := c.loader.Get(globalID)
	if !ok {
		return nil, fmt.Errorf("workflow %s is not loaded", globalID)
	}
	v, err := vault.Open(c.cfg.DataRoot, def.Vault)
	if err != nil {
		return nil, err
	}
	return c.engine.Run(ctx, engine.RunRequest{
		Definition: def,
		Vault:      v,
		Cause:      opts.Cause,
		StepName:   opts.StepName,
		Events:     opts.Events,
	})
}

// runScheduled is the scheduler's Runner hook.
func (c *Context) runScheduled(ctx context.Context, globalID, cause string) (*types.RunRecord, error) {
	return c.RunWorkflow(ctx, globalID, RunOptions{Cause: cause})
}

// BuildContext composes a chat system prompt from templateID for one
// session turn. The id names the session's vault; when that vault has
// no such template, the system-wide pool under the system root serves
// it, still executing against the session's vault.
func (c *Context) BuildContext(ctx context.Context, templateID, sessionID string, history []contextmgr.Turn, latest string, events types.EventCallback) (*contextmgr.BuildResult, error) {
	vaultName, name, found := strings.Cut(templateID, "/")
	if !found {
		return nil, fmt.Errorf("template id %q must be vault/name", templateID)
	}
	tmpl, ok := c.loader.ResolveTemplate(vaultName, name)
	if !ok {
		return nil, fmt.Errorf("context template %s is not loaded", templateID)
	}
	v, err := vault.Open(c.cfg.DataRoot, vaultName)
	if err != nil {
		return nil, err
	}
	return c.manager.BuildContext(ctx, contextmgr.BuildRequest{
		Template:          tmpl,
		Vault:             v,
		SessionID:         sessionID,
		History:           history,
		LatestUserMessage: latest,
		Events:            events,
	})
}

// Rescan rebuilds the definition index, reconciles the scheduler
// against it, and prunes cache entries for templates that no longer
// exist.
func (c *Context) Rescan(ctx context.Context) (*workflows.LoaderReport, *scheduler.ReconcileReport, error) {
	report, err := c.loader.Rescan(ctx)
	if err != nil {
		return nil, nil, err
	}
	reconcile, err := c.Reconcile(ctx)
	if err != nil {
		return report, nil, err
	}
	return report, reconcile, nil
}

// Reconcile aligns scheduler jobs and the section cache with the index
// as it stands. The vault watcher calls this after its own rescan.
func (c *Context) Reconcile(ctx context.Context) (*scheduler.ReconcileReport, error) {
	reconcile, err := c.scheduler.Reconcile(ctx, c.loader.Workflows())
	if err != nil {
		return nil, err
	}

	var keep []string
	for _, tmpl := range c.loader.Templates() {
		if tmpl.SourceDigest != "" {
			keep = append(keep, tmpl.SourceDigest)
		}
	}
	if err := c.cache.Prune(ctx, keep); err != nil {
		c.logger.Warn("section cache prune failed", zap.Error(err))
	}
	return reconcile, nil
}

// Reload re-reads settings and secrets, reconfigures logging, and
// rebuilds the model gateway. Components holding the old settings keep
// working until the next call through the gateway.
func (c *Context) Reload() (*ReloadResult, error) {
	settings, err := config.LoadSettings(c.cfg.SystemRoot)
	if err != nil {
		return nil, err
	}
	secrets, err := config.LoadSecrets(c.cfg.SystemRoot)
	if err != nil {
		return nil, err
	}

	if err := log.Configure(settings.Settings.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to reconfigure logging: %w", err)
	}
	logger := log.Logger()

	providers := buildProviders(settings, secrets, logger)
	if err := c.gateway.Reconfigure(gatewayConfig(settings, providers, logger)); err != nil {
		return nil, err
	}

	c.settings = settings
	c.secrets = secrets
	c.logger = logger
	c.lastConfigReload = time.Now()

	logger.Info("configuration reloaded", zap.Int("providers", len(providers)))
	return &ReloadResult{
		SettingsReloaded: true,
		SecretsReloaded:  true,
		ProvidersRebuilt: len(providers),
		At:               c.lastConfigReload,
	}, nil
}

// Settings returns the active settings.
func (c *Context) Settings() *config.Settings { return c.settings }

// Loader returns the definition index.
func (c *Context) Loader() *workflows.Loader { return c.loader }

// Scheduler returns the trigger scheduler.
func (c *Context) Scheduler() *scheduler.Scheduler { return c.scheduler }

// LastConfigReload reports when settings were last (re)loaded.
func (c *Context) LastConfigReload() time.Time { return c.lastConfigReload }

// WatchVaults reports whether the vault watcher should run, with the
// bootstrap feature map overriding settings.
func (c *Context) WatchVaults() bool {
	if v, ok := c.cfg.Features["watch_vaults"]; ok {
		return v
	}
	return c.settings.Settings.WatchVaults
}

// Shutdown stops the scheduler and closes every store.
func (c *Context) Shutdown() {
	c.close()
	c.logger.Info("runtime shut down")
}
