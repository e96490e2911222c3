// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// EnvPrefix scopes environment overrides, e.g.
// ASSISTANTMD_SETTINGS.LOG_LEVEL.
const EnvPrefix = "ASSISTANTMD"

// requiredSections must all be present in settings.yaml. A file missing
// one disagrees with the template and needs repair.
var requiredSections = []string{"settings", "models", "providers", "tools"}

// Settings is the typed form of settings.yaml.
type Settings struct {
	Settings  General                   `mapstructure:"settings"`
	Models    Models                    `mapstructure:"models"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Tools     Tools                     `mapstructure:"tools"`
}

// General holds the engine-wide knobs.
type General struct {
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// Timezone names the location for schedules and date patterns.
	// Empty means the process's local zone.
	Timezone string `mapstructure:"timezone"`

	// StepTimeoutSeconds bounds each LLM and tool call.
	StepTimeoutSeconds int `mapstructure:"step_timeout_seconds"`

	// SchedulerWorkerLimit bounds concurrent workflow runs.
	SchedulerWorkerLimit int `mapstructure:"scheduler_worker_limit"`

	// WatchVaults enables the fsnotify definition watcher in serve.
	WatchVaults bool `mapstructure:"watch_vaults"`

	// MaxToolIterations caps tool round-trips per model call.
	MaxToolIterations int `mapstructure:"max_tool_iterations"`
}

// Models maps @model aliases to provider/model strings.
type Models struct {
	// Default is the alias used when a step names no model.
	Default string `mapstructure:"default"`

	// Aliases maps alias -> "provider/model-string".
	Aliases map[string]string `mapstructure:"aliases"`
}

// ProviderConfig configures one LLM provider instance.
type ProviderConfig struct {
	// Type selects the implementation: "anthropic" or
	// "openai_compatible".
	Type string `mapstructure:"type"`

	// Endpoint overrides the provider's default API URL. Required for
	// openai_compatible instances that are not OpenAI itself.
	Endpoint string `mapstructure:"endpoint"`

	// APIKeySecret names the secret holding the API key. Empty means
	// the provider needs no key (e.g. a local Ollama).
	APIKeySecret string `mapstructure:"api_key_secret"`

	MaxTokens      int `mapstructure:"max_tokens"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Tools configures the builtin tool registry.
type Tools struct {
	// Enabled lists the tool names registered at bootstrap.
	Enabled []string `mapstructure:"enabled"`
}

// LoadSettings reads and validates settings.yaml under systemRoot. The
// file must exist; EnsureSeeded creates it on first boot.
func LoadSettings(systemRoot string) (*Settings, error) {
	path := SettingsPath(systemRoot)
	if err := checkSections(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("settings.log_level", "info")
	v.SetDefault("settings.timezone", "")
	v.SetDefault("settings.step_timeout_seconds", 120)
	v.SetDefault("settings.scheduler_worker_limit", 4)
	v.SetDefault("settings.watch_vaults", true)
	v.SetDefault("settings.max_tool_iterations", 16)
}

// checkSections verifies the file carries every required top-level
// section, reporting ConfigRepairError when it disagrees with the
// template.
func checkSections(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var top map[string]interface{}
	if err := yaml.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("settings file %s is not valid YAML: %w", path, err)
	}

	var missing []string
	for _, section := range requiredSections {
		if _, ok := top[section]; !ok {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		return &types.ConfigRepairError{Missing: missing}
	}
	return nil
}

// ResolveModel implements the gateway's model resolver: an alias maps
// to "provider/model-string"; an empty alias selects the default.
func (m *Models) ResolveModel(alias string) (string, string, error) {
	name := alias
	if name == "" {
		if m.Default == "" {
			return "", "", &types.ModelUnavailableError{Alias: alias, Reason: "no default model configured"}
		}
		name = m.Default
	}

	target, ok := m.Aliases[name]
	if !ok {
		return "", "", &types.ModelUnavailableError{Alias: name, Reason: "alias not found in settings models section"}
	}
	provider, model, found := strings.Cut(target, "/")
	if !found || provider == "" || model == "" {
		return "", "", &types.ModelUnavailableError{Alias: name, Reason: fmt.Sprintf("malformed model string %q (want provider/model)", target)}
	}
	return provider, model, nil
}
