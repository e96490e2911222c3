// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workflows discovers and indexes definition files across all
// vaults: workflows under AssistantMD/Workflows and context templates
// under AssistantMD/ContextTemplates.
package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// FileError records one definition file that failed to parse. The scan
// continues past it; the file simply schedules and executes nothing.
type FileError struct {
	Path  string
	Vault string
	Err   string
}

// LoaderReport summarizes one scan.
type LoaderReport struct {
	Loaded   int
	Failed   []FileError
	Duration time.Duration
}

// SystemVault is the reserved vault name for system-wide context
// templates living under the system root instead of a vault.
const SystemVault = "system"

// Loader owns the definition index. Rescan replaces the whole index
// atomically; readers always see a complete generation.
type Loader struct {
	dataRoot  string
	systemDir string
	logger    *zap.Logger

	mu   sync.RWMutex
	defs map[string]*directive.Definition
}

// NewLoader creates a Loader over dataRoot. The index is empty until
// the first Rescan.
func NewLoader(dataRoot string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		dataRoot: dataRoot,
		logger:   logger,
		defs:     map[string]*directive.Definition{},
	}
}

// WithSystemTemplates adds a system-wide context template directory,
// indexed under the reserved "system" vault name. Vault templates with
// the same name shadow these via ResolveTemplate.
func (l *Loader) WithSystemTemplates(dir string) *Loader {
	l.systemDir = dir
	return l
}

// Rescan walks every vault and rebuilds the index. Parse failures are
// reported per file and never abort the scan.
func (l *Loader) Rescan(ctx context.Context) (*LoaderReport, error) {
	start := time.Now()
	report := &LoaderReport{}
	next := map[string]*directive.Definition{}

	vaults, err := vault.Discover(l.dataRoot)
	if err != nil {
		return nil, err
	}

	for _, v := range vaults {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.scanDir(v, filepath.Join(v.Root, filepath.FromSlash(vault.WorkflowsDir)), directive.KindWorkflow, next, report)
		l.scanDir(v, filepath.Join(v.Root, filepath.FromSlash(vault.TemplatesDir)), directive.KindContextTemplate, next, report)
	}

	if l.systemDir != "" {
		system := &vault.Vault{Name: SystemVault, Root: l.systemDir}
		l.scanDir(system, l.systemDir, directive.KindContextTemplate, next, report)
	}

	l.mu.Lock()
	l.defs = next
	l.mu.Unlock()

	report.Duration = time.Since(start)
	l.logger.Info("definition scan finished",
		zap.Int("loaded", report.Loaded),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("elapsed", report.Duration))
	return report, nil
}

// scanDir reads *.md files in dir and exactly one subdirectory level.
// Directories whose name starts with "_" are skipped.
func (l *Loader) scanDir(v *vault.Vault, dir string, kind directive.Kind, index map[string]*directive.Definition, report *LoaderReport) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// A vault without the directory simply contributes nothing.
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), "_") {
				continue
			}
			sub := filepath.Join(dir, entry.Name())
			subEntries, err := os.ReadDir(sub)
			if err != nil {
				continue
			}
			for _, se := range subEntries {
				if se.IsDir() || !strings.HasSuffix(se.Name(), ".md") {
					continue
				}
				name := entry.Name() + "/" + strings.TrimSuffix(se.Name(), ".md")
				l.loadFile(v, filepath.Join(sub, se.Name()), name, kind, index, report)
			}
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		l.loadFile(v, filepath.Join(dir, entry.Name()), name, kind, index, report)
	}
}

func (l *Loader) loadFile(v *vault.Vault, path, name string, kind directive.Kind, index map[string]*directive.Definition, report *LoaderReport) {
	data, err := os.ReadFile(path)
	if err != nil {
		report.Failed = append(report.Failed, FileError{Path: path, Vault: v.Name, Err: err.Error()})
		return
	}

	def, err := directive.Parse(name, data, kind)
	if err != nil {
		report.Failed = append(report.Failed, FileError{Path: path, Vault: v.Name, Err: err.Error()})
		l.logger.Warn("definition failed to parse",
			zap.String("path", path),
			zap.Error(err))
		return
	}

	def.Vault = v.Name
	def.GlobalID = vault.GlobalID(v.Name, name)
	def.Path = path

	if existing, ok := index[def.GlobalID]; ok {
		report.Failed = append(report.Failed, FileError{
			Path:  path,
			Vault: v.Name,
			Err:   fmt.Sprintf("duplicate global id %s (already defined at %s)", def.GlobalID, existing.Path),
		})
		return
	}
	index[def.GlobalID] = def
	report.Loaded++
}

// Get returns the definition for globalID.
func (l *Loader) Get(globalID string) (*directive.Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.defs[globalID]
	return def, ok
}

// ResolveTemplate returns the context template for vaultName/name,
// falling back to the system-wide pool when the vault has none.
func (l *Loader) ResolveTemplate(vaultName, name string) (*directive.Definition, bool) {
	if def, ok := l.Get(vault.GlobalID(vaultName, name)); ok && def.Kind == directive.KindContextTemplate {
		return def, true
	}
	if def, ok := l.Get(vault.GlobalID(SystemVault, name)); ok && def.Kind == directive.KindContextTemplate {
		return def, true
	}
	return nil, false
}

// Definitions returns every indexed definition, sorted by global id.
func (l *Loader) Definitions() []*directive.Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*directive.Definition, 0, len(l.defs))
	for _, def := range l.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalID < out[j].GlobalID })
	return out
}

// Workflows returns the indexed workflow definitions only.
func (l *Loader) Workflows() []*directive.Definition {
	return l.filter(directive.KindWorkflow)
}

// Templates returns the indexed context templates only.
func (l *Loader) Templates() []*directive.Definition {
	return l.filter(directive.KindContextTemplate)
}

func (l *Loader) filter(kind directive.Kind) []*directive.Definition {
	var out []*directive.Definition
	for _, def := range l.Definitions() {
		if def.Kind == kind {
			out = append(out, def)
		}
	}
	return out
}
