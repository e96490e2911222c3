// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package vault locates user vaults under the data root and resolves
// vault-relative paths with a mandatory sandbox check.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// Well-known locations inside a vault.
const (
	SystemDirName   = "AssistantMD"
	WorkflowsDir    = "AssistantMD/Workflows"
	TemplatesDir    = "AssistantMD/ContextTemplates"
	ChatSessionsDir = "AssistantMD/Chat_Sessions"
	MemoryDir       = "AssistantMD/Memory"
	ImportDir       = "AssistantMD/Import"

	// IgnoreFile excludes a directory from vault discovery.
	IgnoreFile = ".vaultignore"
)

// Vault is one user directory holding markdown content and an AssistantMD
// subtree.
type Vault struct {
	// Name is the directory base name; the first half of a global id.
	Name string

	// Root is the absolute vault path.
	Root string
}

// Discover lists the vaults under dataRoot: every immediate subdirectory
// except hidden ones and those containing a .vaultignore marker.
func Discover(dataRoot string) ([]*Vault, error) {
	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read data root %s: %w", dataRoot, err)
	}

	var vaults []*Vault
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		root := filepath.Join(dataRoot, entry.Name())
		if _, err := os.Stat(filepath.Join(root, IgnoreFile)); err == nil {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve vault path %s: %w", root, err)
		}
		vaults = append(vaults, &Vault{Name: entry.Name(), Root: abs})
	}

	sort.Slice(vaults, func(i, j int) bool { return vaults[i].Name < vaults[j].Name })
	return vaults, nil
}

// Open returns the named vault under dataRoot, or an error if it does not
// exist or is excluded.
func Open(dataRoot, name string) (*Vault, error) {
	vaults, err := Discover(dataRoot)
	if err != nil {
		return nil, err
	}
	for _, v := range vaults {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("vault %q not found under %s", name, dataRoot)
}

// ResolvePath turns a vault-relative path into an absolute one, enforcing
// the sandbox: no absolute paths, no ".." segments, no symlink escapes.
// The target need not exist; the deepest existing ancestor is checked.
func (v *Vault) ResolvePath(rel string) (string, error) {
	if rel == "" {
		return "", &types.VaultBoundaryError{Path: rel}
	}
	if filepath.IsAbs(rel) {
		return "", &types.VaultBoundaryError{Path: rel}
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg == ".." {
			return "", &types.VaultBoundaryError{Path: rel}
		}
	}

	rootReal, err := filepath.EvalSymlinks(v.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve vault root %s: %w", v.Root, err)
	}

	abs := filepath.Join(rootReal, filepath.FromSlash(rel))

	// Walk up to the deepest existing ancestor and make sure it still
	// lives inside the vault once symlinks are resolved.
	ancestor := abs
	for {
		if _, err := os.Lstat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}
	ancestorReal, err := filepath.EvalSymlinks(ancestor)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", ancestor, err)
	}
	if ancestorReal != rootReal && !strings.HasPrefix(ancestorReal, rootReal+string(os.PathSeparator)) {
		return "", &types.VaultBoundaryError{Path: rel}
	}

	return abs, nil
}

// RelPath renders abs relative to the vault root with forward slashes, for
// manifests and run records. Returns abs unchanged if it is not inside.
func (v *Vault) RelPath(abs string) string {
	rel, err := filepath.Rel(v.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return filepath.ToSlash(rel)
}

// EnsureMarkdownExt appends ".md" when the final path segment has no
// extension. Directive file targets are markdown by default.
func EnsureMarkdownExt(path string) string {
	base := filepath.Base(path)
	if filepath.Ext(base) == "" {
		return path + ".md"
	}
	return path
}

// GlobalID joins a vault name and definition name into the stable
// identifier "vault/name".
func GlobalID(vaultName, defName string) string {
	return vaultName + "/" + defName
}

// SplitGlobalID splits "vault/name" into its halves.
func SplitGlobalID(globalID string) (vaultName, defName string, err error) {
	i := strings.Index(globalID, "/")
	if i <= 0 || i == len(globalID)-1 {
		return "", "", fmt.Errorf("malformed global id %q (want vault/name)", globalID)
	}
	return globalID[:i], globalID[i+1:], nil
}
