// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// KeyringService is the OS keychain service name for secret fallback.
const KeyringService = "assistantmd"

// Secrets resolves named secret values: secrets.yaml first, then the
// OS keychain.
type Secrets struct {
	values map[string]string
}

// LoadSecrets reads secrets.yaml under systemRoot. A missing file is
// not an error; every lookup then falls through to the keychain.
func LoadSecrets(systemRoot string) (*Secrets, error) {
	path := SecretsPath(systemRoot)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Secrets{values: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("secrets file %s is not valid YAML: %w", path, err)
	}
	return &Secrets{values: values}, nil
}

// Get resolves a secret by name. File values win; empty or absent file
// values fall back to the keychain. ok is false when neither has it.
func (s *Secrets) Get(name string) (string, bool) {
	if value := s.values[name]; value != "" {
		return value, true
	}
	value, err := keyring.Get(KeyringService, name)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// SaveToKeyring stores a secret in the OS keychain.
func SaveToKeyring(name, value string) error {
	return keyring.Set(KeyringService, name, value)
}

// DeleteFromKeyring removes a secret from the OS keychain.
func DeleteFromKeyring(name string) error {
	return keyring.Delete(KeyringService, name)
}
