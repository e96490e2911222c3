// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// ReloadCallback receives the report of a rescan triggered by a file
// change.
type ReloadCallback func(report *LoaderReport)

// WatcherConfig configures definition hot-reload.
type WatcherConfig struct {
	Loader   *Loader
	DataRoot string
	Logger   *zap.Logger

	// Debounce is how long changes must settle before a rescan fires.
	// Defaults to 2 seconds.
	Debounce time.Duration

	// OnReload is called after each triggered rescan (optional).
	OnReload ReloadCallback
}

// Watcher watches every vault's definition directories and rescans the
// index when files settle. Rapid editor saves coalesce into one rescan.
type Watcher struct {
	loader   *Loader
	dataRoot string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration
	onReload ReloadCallback

	timerMu sync.Mutex
	timer   *time.Timer

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewWatcher creates a Watcher over the loader's vaults.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 2 * time.Second
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		loader:   cfg.Loader,
		dataRoot: cfg.DataRoot,
		watcher:  fsw,
		logger:   cfg.Logger,
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start registers the watch directories and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	watched, err := w.addWatches()
	if err != nil {
		return err
	}

	w.logger.Info("definition watcher started",
		zap.Int("directories", watched),
		zap.Duration("debounce", w.debounce))

	go w.watchLoop(ctx)
	return nil
}

// addWatches registers every vault's Workflows and ContextTemplates
// directories plus their immediate subdirectories. Missing directories
// are skipped; vaults created later are picked up on the next Start.
func (w *Watcher) addWatches() (int, error) {
	vaults, err := vault.Discover(w.dataRoot)
	if err != nil {
		return 0, err
	}

	watched := 0
	for _, v := range vaults {
		for _, rel := range []string{vault.WorkflowsDir, vault.TemplatesDir} {
			dir := filepath.Join(v.Root, filepath.FromSlash(rel))
			if err := w.watcher.Add(dir); err != nil {
				continue
			}
			watched++

			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
					continue
				}
				sub := filepath.Join(dir, entry.Name())
				if err := w.watcher.Add(sub); err != nil {
					w.logger.Warn("failed to watch subdirectory",
						zap.String("path", sub),
						zap.Error(err))
					continue
				}
				watched++
			}
		}
	}
	return watched, nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// handleEvent filters to definition files and new subdirectories, then
// arms the rescan timer.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)

	// A created subdirectory may hold definitions; watch it so files
	// written into it are seen.
	if event.Op&fsnotify.Create != 0 && !strings.HasPrefix(base, "_") && !strings.Contains(base, ".") {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(event.Name)
			w.arm()
			return
		}
	}

	if !strings.HasSuffix(base, ".md") {
		return
	}
	// Editor temp and hidden files never hold definitions.
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return
	}

	w.arm()
}

// arm resets the debounce timer; one rescan fires after changes settle.
func (w *Watcher) arm() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.rescan)
}

func (w *Watcher) rescan() {
	report, err := w.loader.Rescan(context.Background())
	if err != nil {
		w.logger.Error("rescan after file change failed", zap.Error(err))
		return
	}
	if w.onReload != nil {
		w.onReload(report)
	}
}

// Stop halts event processing and closes the underlying watcher. Safe
// to call more than once.
func (w *Watcher) Stop() error {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true

	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(5 * time.Second):
		w.logger.Warn("watcher stop timed out")
	}

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}
