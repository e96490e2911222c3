// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/internal/log"
	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/config"
	"github.com/teradata-labs/assistantmd/pkg/contextmgr"
	"github.com/teradata-labs/assistantmd/pkg/engine"
	"github.com/teradata-labs/assistantmd/pkg/inputs"
	"github.com/teradata-labs/assistantmd/pkg/llm"
	"github.com/teradata-labs/assistantmd/pkg/llm/anthropic"
	"github.com/teradata-labs/assistantmd/pkg/llm/openaicompat"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/scheduler"
	"github.com/teradata-labs/assistantmd/pkg/tools"
	"github.com/teradata-labs/assistantmd/pkg/workflows"
)

// Context is the bootstrapped runtime: every long-lived component,
// wired once from settings.
type Context struct {
	cfg      RuntimeConfig
	settings *config.Settings
	secrets  *config.Secrets
	logger   *zap.Logger

	loader    *workflows.Loader
	engine    *engine.Engine
	gateway   *llm.Gateway
	manager   *contextmgr.Manager
	scheduler *scheduler.Scheduler

	schedStore *scheduler.Store
	pending    *inputs.PendingStore
	cache      *contextmgr.SectionCache
	buffers    *buffers.Registry
	tools      *tools.Registry
	patterns   *patterns.Resolver

	lastConfigReload time.Time
}

// Bootstrap builds the runtime from the system-root configuration and
// publishes it as the process singleton. It seeds missing config files
// first; a structurally broken settings file aborts with a repair
// error naming the missing sections.
func Bootstrap(ctx context.Context, cfg RuntimeConfig) (*Context, error) {
	if cfg.DataRoot == "" {
		cfg.DataRoot = config.GetDataRoot()
	}
	if cfg.SystemRoot == "" {
		cfg.SystemRoot = config.GetSystemRoot()
	}

	if _, err := config.EnsureSeeded(cfg.SystemRoot); err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(cfg.SystemRoot)
	if err != nil {
		return nil, err
	}
	secrets, err := config.LoadSecrets(cfg.SystemRoot)
	if err != nil {
		return nil, err
	}

	if err := log.Configure(settings.Settings.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	logger := log.Logger()

	c := &Context{
		cfg:      cfg,
		settings: settings,
		secrets:  secrets,
		logger:   logger,
		buffers:  buffers.NewRegistry(),
	}

	c.patterns = patterns.NewResolver(patterns.Config{Location: resolveLocation(settings, logger)})
	c.tools = buildTools(settings, logger)

	providers := buildProviders(settings, secrets, logger)
	c.gateway, err = newGateway(settings, providers, logger)
	if err != nil {
		return nil, err
	}

	c.pending, err = inputs.NewPendingStore(ctx, filepath.Join(cfg.SystemRoot, config.PendingDBName), logger)
	if err != nil {
		return nil, err
	}
	c.cache, err = contextmgr.NewSectionCache(ctx, filepath.Join(cfg.SystemRoot, config.CacheDBName), logger)
	if err != nil {
		c.close()
		return nil, err
	}
	c.schedStore, err = scheduler.NewStore(ctx, filepath.Join(cfg.SystemRoot, config.SchedulerDBName), logger)
	if err != nil {
		c.close()
		return nil, err
	}

	c.engine, err = engine.New(engine.Config{
		Gateway:  c.gateway,
		Tools:    c.tools,
		Pending:  c.pending,
		Patterns: c.patterns,
		Logger:   logger,
	})
	if err != nil {
		c.close()
		return nil, err
	}

	c.loader = workflows.NewLoader(cfg.DataRoot, logger).
		WithSystemTemplates(filepath.Join(cfg.SystemRoot, config.TemplatesDirName))

	c.manager, err = contextmgr.NewManager(contextmgr.Config{
		Engine:   c.engine,
		Cache:    c.cache,
		Buffers:  c.buffers,
		Pending:  c.pending,
		Patterns: c.patterns,
		Logger:   logger,
	})
	if err != nil {
		c.close()
		return nil, err
	}

	workerLimit := cfg.SchedulerWorkerLimit
	if workerLimit <= 0 {
		workerLimit = settings.Settings.SchedulerWorkerLimit
	}
	c.scheduler, err = scheduler.New(scheduler.Config{
		Store:       c.schedStore,
		Runner:      c.runScheduled,
		DataRoot:    cfg.DataRoot,
		WorkerLimit: workerLimit,
		Logger:      logger,
	})
	if err != nil {
		c.close()
		return nil, err
	}

	c.lastConfigReload = time.Now()

	if err := install(c); err != nil {
		c.close()
		return nil, err
	}
	logger.Info("runtime bootstrapped",
		zap.String("data_root", cfg.DataRoot),
		zap.String("system_root", cfg.SystemRoot),
		zap.Int("providers", len(providers)),
		zap.Strings("tools", c.tools.Names()))
	return c, nil
}

// resolveLocation maps settings.timezone to a *time.Location. Empty or
// invalid names fall back to local time.
func resolveLocation(settings *config.Settings, logger *zap.Logger) *time.Location {
	name := settings.Settings.Timezone
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown timezone in settings, using local time",
			zap.String("timezone", name),
			zap.Error(err))
		return time.Local
	}
	return loc
}

// buildTools registers the builtins named in settings.tools.enabled.
func buildTools(settings *config.Settings, logger *zap.Logger) *tools.Registry {
	registry := tools.NewRegistry()
	for _, name := range settings.Tools.Enabled {
		var tool tools.Tool
		switch name {
		case "buffer_ops":
			tool = tools.NewBufferOpsTool()
		case "file_ops_safe":
			tool = tools.NewFileOpsSafeTool()
		default:
			logger.Warn("unknown tool in settings, skipping", zap.String("tool", name))
			continue
		}
		if err := registry.Register(tool); err != nil {
			logger.Warn("tool registration failed", zap.String("tool", name), zap.Error(err))
		}
	}
	return registry
}

// gatewayConfig maps settings onto the gateway wiring.
func gatewayConfig(settings *config.Settings, providers map[string]llm.Provider, logger *zap.Logger) llm.GatewayConfig {
	return llm.GatewayConfig{
		Resolver:          &settings.Models,
		Providers:         providers,
		Deadline:          time.Duration(settings.Settings.StepTimeoutSeconds) * time.Second,
		MaxToolIterations: settings.Settings.MaxToolIterations,
		Logger:            logger,
	}
}

// newGateway builds the model gateway from settings.
func newGateway(settings *config.Settings, providers map[string]llm.Provider, logger *zap.Logger) (*llm.Gateway, error) {
	return llm.NewGateway(gatewayConfig(settings, providers, logger))
}

// buildProviders constructs one provider per settings entry. API keys
// come from the secrets file with keychain fallback; a missing key is
// not fatal here, the call fails later with a clear provider error.
func buildProviders(settings *config.Settings, secrets *config.Secrets, logger *zap.Logger) map[string]llm.Provider {
	providers := map[string]llm.Provider{}
	for name, pc := range settings.Providers {
		var apiKey string
		if pc.APIKeySecret != "" {
			key, ok := secrets.Get(pc.APIKeySecret)
			if !ok {
				logger.Warn("provider secret not found",
					zap.String("provider", name),
					zap.String("secret", pc.APIKeySecret))
			}
			apiKey = key
		}
		timeout := time.Duration(pc.TimeoutSeconds) * time.Second

		switch pc.Type {
		case "anthropic":
			providers[name] = anthropic.New(anthropic.Config{
				APIKey:    apiKey,
				BaseURL:   pc.Endpoint,
				MaxTokens: pc.MaxTokens,
				Timeout:   timeout,
				Logger:    logger,
			})
		case "openai_compatible":
			providers[name] = openaicompat.New(openaicompat.Config{
				Name:      name,
				APIKey:    apiKey,
				Endpoint:  pc.Endpoint,
				MaxTokens: pc.MaxTokens,
				Timeout:   timeout,
				Logger:    logger,
			})
		default:
			logger.Warn("unknown provider type, skipping",
				zap.String("provider", name),
				zap.String("type", pc.Type))
		}
	}
	return providers
}

// close releases every store. Safe on a partially built context.
func (c *Context) close() {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.schedStore != nil {
		_ = c.schedStore.Close()
	}
	if c.cache != nil {
		_ = c.cache.Close()
	}
	if c.pending != nil {
		_ = c.pending.Close()
	}
}
