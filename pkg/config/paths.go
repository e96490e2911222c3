// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config owns the system directory: settings.yaml loaded with
// viper, secrets.yaml with keyring fallback, and first-boot seeding of
// both from embedded templates.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetDataRoot returns the directory holding the user's vaults.
//
// Priority:
// 1. ASSISTANTMD_DATA_ROOT environment variable (if set and non-empty)
// 2. ~/AssistantMD (default)
//
// The returned path is always absolute. Tilde (~) is expanded; relative
// paths are resolved against the working directory. Read directly from
// os.Getenv, not viper: this locates the settings file itself.
func GetDataRoot() string {
	if dataRoot := os.Getenv("ASSISTANTMD_DATA_ROOT"); dataRoot != "" {
		return expandPath(dataRoot)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "AssistantMD"
	}
	return filepath.Join(homeDir, "AssistantMD")
}

// GetSystemRoot returns the directory holding settings, secrets, and
// the engine's databases.
//
// Priority:
// 1. ASSISTANTMD_SYSTEM_ROOT environment variable (if set and non-empty)
// 2. ~/.assistantmd (default)
func GetSystemRoot() string {
	if systemRoot := os.Getenv("ASSISTANTMD_SYSTEM_ROOT"); systemRoot != "" {
		return expandPath(systemRoot)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".assistantmd"
	}
	return filepath.Join(homeDir, ".assistantmd")
}

// Well-known files and directories under the system root.
const (
	SettingsFileName = "settings.yaml"
	SecretsFileName  = "secrets.yaml"
	SchedulerDBName  = "scheduler.db"
	PendingDBName    = "pending.db"
	CacheDBName      = "section_cache.db"
	TemplatesDirName = "ContextTemplates"
)

// SettingsPath returns the settings file path under systemRoot.
func SettingsPath(systemRoot string) string {
	return filepath.Join(systemRoot, SettingsFileName)
}

// SecretsPath returns the secrets file path under systemRoot.
func SecretsPath(systemRoot string) string {
	return filepath.Join(systemRoot, SecretsFileName)
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
