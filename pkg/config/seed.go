// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"embed"
	"fmt"
	"os"
)

//go:embed templates/settings.yaml templates/secrets.yaml
var seedTemplates embed.FS

// SeedReport says which files EnsureSeeded wrote.
type SeedReport struct {
	SettingsCreated bool
	SecretsCreated  bool
}

// EnsureSeeded writes settings.yaml and secrets.yaml from the embedded
// templates when they do not exist yet. Existing files are never
// touched.
func EnsureSeeded(systemRoot string) (*SeedReport, error) {
	if err := os.MkdirAll(systemRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create system root %s: %w", systemRoot, err)
	}

	report := &SeedReport{}
	created, err := seedFile(SettingsPath(systemRoot), "templates/settings.yaml", 0o644)
	if err != nil {
		return nil, err
	}
	report.SettingsCreated = created

	created, err = seedFile(SecretsPath(systemRoot), "templates/secrets.yaml", 0o600)
	if err != nil {
		return nil, err
	}
	report.SecretsCreated = created

	return report, nil
}

func seedFile(path, template string, mode os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	data, err := seedTemplates.ReadFile(template)
	if err != nil {
		return false, fmt.Errorf("failed to read embedded template %s: %w", template, err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return false, fmt.Errorf("failed to seed %s: %w", path, err)
	}
	return true, nil
}
