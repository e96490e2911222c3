// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package atomicfile writes files atomically: content goes to a temp file in
// the target directory and is renamed into place. Concurrent writers to the
// same path serialize on a per-path lock.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	mu    sync.Mutex
	locks = make(map[string]*sync.Mutex)
)

func pathLock(path string) *sync.Mutex {
	mu.Lock()
	defer mu.Unlock()
	l, ok := locks[path]
	if !ok {
		l = &sync.Mutex{}
		locks[path] = l
	}
	return l
}

// WriteFile writes data to path atomically, creating parent directories as
// needed. The rename is atomic on POSIX filesystems; readers never observe a
// partially written file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	l := pathLock(path)
	l.Lock()
	defer l.Unlock()
	return writeLocked(path, data, perm)
}

// AppendFile appends data to path under the same per-path lock. The combined
// content is rewritten atomically so a crash never leaves a torn tail.
func AppendFile(path string, data []byte, perm os.FileMode) error {
	l := pathLock(path)
	l.Lock()
	defer l.Unlock()

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read existing file: %w", err)
	}
	combined := make([]byte, 0, len(existing)+len(data))
	combined = append(combined, existing...)
	combined = append(combined, data...)
	return writeLocked(path, combined, perm)
}

func writeLocked(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}
