// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package runtime owns the process-wide context: bootstrap wires every
// component from settings, and accessors fail fast before bootstrap.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// RuntimeConfig seeds bootstrap. Zero values fall back to settings.
type RuntimeConfig struct {
	DataRoot   string
	SystemRoot string

	// SchedulerWorkerLimit overrides settings.scheduler_worker_limit
	// when positive.
	SchedulerWorkerLimit int

	// Features toggles optional subsystems (e.g. "watch_vaults").
	// Unset keys fall back to settings.
	Features map[string]bool
}

var (
	mu      sync.Mutex
	current *Context

	// Pre-bootstrap roots, set by SetBootstrapRoots.
	bootstrapDataRoot   string
	bootstrapSystemRoot string
)

// Current returns the bootstrapped runtime context.
func Current() (*Context, error) {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil, &types.RuntimeStateError{Op: "runtime access"}
	}
	return current, nil
}

// SetBootstrapRoots makes the root accessors usable before Bootstrap,
// for early path resolution (seeding, validate).
func SetBootstrapRoots(dataRoot, systemRoot string) {
	mu.Lock()
	defer mu.Unlock()
	bootstrapDataRoot = dataRoot
	bootstrapSystemRoot = systemRoot
}

// DataRoot returns the vault directory. Before bootstrap it requires
// SetBootstrapRoots.
func DataRoot() (string, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current.cfg.DataRoot, nil
	}
	if bootstrapDataRoot != "" {
		return bootstrapDataRoot, nil
	}
	return "", &types.RuntimeStateError{Op: "data root access"}
}

// SystemRoot returns the system directory. Before bootstrap it
// requires SetBootstrapRoots.
func SystemRoot() (string, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current.cfg.SystemRoot, nil
	}
	if bootstrapSystemRoot != "" {
		return bootstrapSystemRoot, nil
	}
	return "", &types.RuntimeStateError{Op: "system root access"}
}

// install publishes the bootstrapped context. Bootstrapping twice is a
// programming error.
func install(c *Context) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return fmt.Errorf("runtime already bootstrapped")
	}
	current = c
	return nil
}

// Reset tears down the singleton. Test hook.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		current.close()
	}
	current = nil
	bootstrapDataRoot = ""
	bootstrapSystemRoot = ""
}

// ReloadResult reports what a configuration reload refreshed.
type ReloadResult struct {
	SettingsReloaded bool
	SecretsReloaded  bool
	ProvidersRebuilt int
	At               time.Time
}
