// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

func TestEnsureSeededCreatesFilesOnce(t *testing.T) {
	systemRoot := t.TempDir()

	report, err := EnsureSeeded(systemRoot)
	require.NoError(t, err)
	assert.True(t, report.SettingsCreated)
	assert.True(t, report.SecretsCreated)

	// Seeding again leaves edited files alone.
	require.NoError(t, os.WriteFile(SettingsPath(systemRoot), []byte("settings: {}\nmodels: {}\nproviders: {}\ntools: {}\n"), 0o644))
	report, err = EnsureSeeded(systemRoot)
	require.NoError(t, err)
	assert.False(t, report.SettingsCreated)
	assert.False(t, report.SecretsCreated)

	data, err := os.ReadFile(SettingsPath(systemRoot))
	require.NoError(t, err)
	assert.Equal(t, "settings: {}\nmodels: {}\nproviders: {}\ntools: {}\n", string(data))
}

func TestLoadSettingsFromSeed(t *testing.T) {
	systemRoot := t.TempDir()
	_, err := EnsureSeeded(systemRoot)
	require.NoError(t, err)

	settings, err := LoadSettings(systemRoot)
	require.NoError(t, err)

	assert.Equal(t, "info", settings.Settings.LogLevel)
	assert.Equal(t, 4, settings.Settings.SchedulerWorkerLimit)
	assert.Equal(t, 120, settings.Settings.StepTimeoutSeconds)
	assert.True(t, settings.Settings.WatchVaults)

	assert.Equal(t, "gpt-mini", settings.Models.Default)
	assert.Equal(t, "openai/gpt-4o-mini", settings.Models.Aliases["gpt-mini"])

	anthropic, ok := settings.Providers["anthropic"]
	require.True(t, ok)
	assert.Equal(t, "anthropic", anthropic.Type)
	assert.Equal(t, "anthropic_api_key", anthropic.APIKeySecret)

	ollama, ok := settings.Providers["ollama"]
	require.True(t, ok)
	assert.Equal(t, "openai_compatible", ollama.Type)
	assert.Empty(t, ollama.APIKeySecret)

	assert.Contains(t, settings.Tools.Enabled, "buffer_ops")
	assert.Contains(t, settings.Tools.Enabled, "file_ops_safe")
}

func TestLoadSettingsReportsMissingSections(t *testing.T) {
	systemRoot := t.TempDir()
	require.NoError(t, os.WriteFile(SettingsPath(systemRoot),
		[]byte("settings:\n  log_level: debug\nmodels:\n  default: x\n"), 0o644))

	_, err := LoadSettings(systemRoot)
	require.Error(t, err)

	var repair *types.ConfigRepairError
	require.True(t, errors.As(err, &repair))
	assert.ElementsMatch(t, []string{"providers", "tools"}, repair.Missing)
}

func TestResolveModel(t *testing.T) {
	models := Models{
		Default: "gpt-mini",
		Aliases: map[string]string{
			"gpt-mini": "openai/gpt-4o-mini",
			"claude":   "anthropic/claude-sonnet-4-5",
			"broken":   "no-slash-here",
		},
	}

	provider, model, err := models.ResolveModel("claude")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", provider)
	assert.Equal(t, "claude-sonnet-4-5", model)

	// Empty alias resolves the default.
	provider, model, err = models.ResolveModel("")
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o-mini", model)

	var unavailable *types.ModelUnavailableError
	_, _, err = models.ResolveModel("missing")
	require.True(t, errors.As(err, &unavailable))

	_, _, err = models.ResolveModel("broken")
	require.True(t, errors.As(err, &unavailable))

	empty := Models{}
	_, _, err = empty.ResolveModel("")
	require.True(t, errors.As(err, &unavailable))
}

func TestSecretsFileLookup(t *testing.T) {
	systemRoot := t.TempDir()
	require.NoError(t, os.WriteFile(SecretsPath(systemRoot),
		[]byte("anthropic_api_key: sk-test\nempty_key: \"\"\n"), 0o600))

	secrets, err := LoadSecrets(systemRoot)
	require.NoError(t, err)

	value, ok := secrets.Get("anthropic_api_key")
	assert.True(t, ok)
	assert.Equal(t, "sk-test", value)

	// Absent file values fall through to the keychain, which has
	// nothing in the test environment.
	_, ok = secrets.Get("nonexistent_key_for_tests")
	assert.False(t, ok)
}

func TestLoadSecretsMissingFile(t *testing.T) {
	secrets, err := LoadSecrets(t.TempDir())
	require.NoError(t, err)
	_, ok := secrets.Get("anything")
	assert.False(t, ok)
}
