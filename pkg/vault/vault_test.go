// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package vault

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))
	return &Vault{Name: "Personal", Root: root}
}

func TestDiscover(t *testing.T) {
	dataRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataRoot, "Personal"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataRoot, "Work"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataRoot, ".hidden"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataRoot, "Archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "Archive", IgnoreFile), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "stray.md"), []byte("x"), 0o644))

	vaults, err := Discover(dataRoot)
	require.NoError(t, err)
	require.Len(t, vaults, 2)
	assert.Equal(t, "Personal", vaults[0].Name)
	assert.Equal(t, "Work", vaults[1].Name)
}

func TestResolvePath(t *testing.T) {
	v := newTestVault(t)

	abs, err := v.ResolvePath("notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(mustReal(t, v.Root), "notes", "today.md"), abs)
}

func TestResolvePathNotYetExisting(t *testing.T) {
	v := newTestVault(t)

	abs, err := v.ResolvePath("brand/new/deep/file.md")
	require.NoError(t, err)
	assert.Contains(t, abs, "brand")
}

func TestResolvePathRejectsEscape(t *testing.T) {
	v := newTestVault(t)

	for _, rel := range []string{
		"../outside.md",
		"notes/../../outside.md",
		"..",
		"",
	} {
		_, err := v.ResolvePath(rel)
		var boundary *types.VaultBoundaryError
		assert.ErrorAs(t, err, &boundary, "path %q must be rejected", rel)
	}

	_, err := v.ResolvePath(string(filepath.Separator) + "etc" + string(filepath.Separator) + "passwd")
	var boundary *types.VaultBoundaryError
	assert.ErrorAs(t, err, &boundary)
}

func TestResolvePathRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevation on windows")
	}
	v := newTestVault(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(v.Root, "link")))

	_, err := v.ResolvePath("link/escape.md")
	var boundary *types.VaultBoundaryError
	assert.ErrorAs(t, err, &boundary)
}

func TestRelPath(t *testing.T) {
	v := newTestVault(t)
	assert.Equal(t, "notes/a.md", v.RelPath(filepath.Join(v.Root, "notes", "a.md")))
	assert.Equal(t, "/elsewhere/a.md", v.RelPath("/elsewhere/a.md"))
}

func TestEnsureMarkdownExt(t *testing.T) {
	assert.Equal(t, "test/2026-02-10.md", EnsureMarkdownExt("test/2026-02-10"))
	assert.Equal(t, "test/data.txt", EnsureMarkdownExt("test/data.txt"))
	assert.Equal(t, "test/note.md", EnsureMarkdownExt("test/note.md"))
}

func TestGlobalID(t *testing.T) {
	assert.Equal(t, "Personal/daily-haiku", GlobalID("Personal", "daily-haiku"))

	vaultName, defName, err := SplitGlobalID("Personal/daily-haiku")
	require.NoError(t, err)
	assert.Equal(t, "Personal", vaultName)
	assert.Equal(t, "daily-haiku", defName)

	_, _, err = SplitGlobalID("no-slash")
	assert.Error(t, err)
	_, _, err = SplitGlobalID("trailing/")
	assert.Error(t, err)
}

func mustReal(t *testing.T, path string) string {
	t.Helper()
	real, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return real
}
