// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package buffers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := NewStore()

	name, err := store.Put(types.ScopeRun, "notes", "hello", "test", types.WriteModeReplace)
	require.NoError(t, err)
	assert.Equal(t, "notes", name)

	content, err := store.Get(types.ScopeRun, "notes")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestAppendInsertsSeparator(t *testing.T) {
	store := NewStore()

	_, err := store.Put(types.ScopeRun, "log", "first", "test", types.WriteModeAppend)
	require.NoError(t, err)
	_, err = store.Put(types.ScopeRun, "log", "second", "test", types.WriteModeAppend)
	require.NoError(t, err)

	content, err := store.Get(types.ScopeRun, "log")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", content)
}

func TestReplaceDiscardsPrevious(t *testing.T) {
	store := NewStore()

	_, err := store.Put(types.ScopeRun, "x", "old", "test", types.WriteModeAppend)
	require.NoError(t, err)
	_, err = store.Put(types.ScopeRun, "x", "new", "test", types.WriteModeReplace)
	require.NoError(t, err)

	content, err := store.Get(types.ScopeRun, "x")
	require.NoError(t, err)
	assert.Equal(t, "new", content)
}

func TestNewModeNumbersNames(t *testing.T) {
	store := NewStore()

	first, err := store.Put(types.ScopeRun, "draft", "a", "test", types.WriteModeNew)
	require.NoError(t, err)
	second, err := store.Put(types.ScopeRun, "draft", "b", "test", types.WriteModeNew)
	require.NoError(t, err)

	assert.Equal(t, "draft_000", first)
	assert.Equal(t, "draft_001", second)

	a, err := store.Get(types.ScopeRun, "draft_000")
	require.NoError(t, err)
	b, err := store.Get(types.ScopeRun, "draft_001")
	require.NoError(t, err)
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
}

func TestScopesAreIndependent(t *testing.T) {
	store := NewStore()

	_, err := store.Put(types.ScopeRun, "shared", "run content", "test", types.WriteModeReplace)
	require.NoError(t, err)
	_, err = store.Put(types.ScopeSession, "shared", "session content", "test", types.WriteModeReplace)
	require.NoError(t, err)

	run, err := store.Get(types.ScopeRun, "shared")
	require.NoError(t, err)
	sess, err := store.Get(types.ScopeSession, "shared")
	require.NoError(t, err)
	assert.Equal(t, "run content", run)
	assert.Equal(t, "session content", sess)
}

func TestClearRunKeepsSession(t *testing.T) {
	store := NewStore()

	_, err := store.Put(types.ScopeRun, "a", "1", "test", types.WriteModeReplace)
	require.NoError(t, err)
	_, err = store.Put(types.ScopeSession, "b", "2", "test", types.WriteModeReplace)
	require.NoError(t, err)

	store.ClearRun()

	_, err = store.Get(types.ScopeRun, "a")
	assert.Error(t, err)
	content, err := store.Get(types.ScopeSession, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", content)
}

func TestRegistrySharesSessionAcrossStores(t *testing.T) {
	reg := NewRegistry()

	first := reg.StoreFor("sess-1")
	_, err := first.Put(types.ScopeSession, "memory", "remembered", "test", types.WriteModeReplace)
	require.NoError(t, err)

	second := reg.StoreFor("sess-1")
	content, err := second.Get(types.ScopeSession, "memory")
	require.NoError(t, err)
	assert.Equal(t, "remembered", content)

	other := reg.StoreFor("sess-2")
	_, err = other.Get(types.ScopeSession, "memory")
	assert.Error(t, err)

	reg.ClearSession("sess-1")
	third := reg.StoreFor("sess-1")
	_, err = third.Get(types.ScopeSession, "memory")
	assert.Error(t, err)
}

func TestLargePayloadCompressionIsTransparent(t *testing.T) {
	store := NewStore()
	payload := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 500)
	require.Greater(t, len(payload), CompressionThreshold)

	_, err := store.Put(types.ScopeRun, "big", payload, "test", types.WriteModeReplace)
	require.NoError(t, err)

	info, err := store.Info(types.ScopeRun, "big")
	require.NoError(t, err)
	assert.True(t, info.Compressed)
	assert.Equal(t, len(payload), info.Size)

	content, err := store.Get(types.ScopeRun, "big")
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestBufferLimit(t *testing.T) {
	store := NewStore()
	store.limit = 100

	_, err := store.Put(types.ScopeRun, "big", strings.Repeat("x", 101), "test", types.WriteModeReplace)
	require.Error(t, err)

	var limitErr *types.BufferLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 101, limitErr.Size)
}

func TestSearch(t *testing.T) {
	store := NewStore()
	_, err := store.Put(types.ScopeRun, "notes_a", "alpha line\nbeta line", "test", types.WriteModeReplace)
	require.NoError(t, err)
	_, err = store.Put(types.ScopeRun, "notes_b", "beta again", "test", types.WriteModeReplace)
	require.NoError(t, err)
	_, err = store.Put(types.ScopeRun, "other", "beta hidden", "test", types.WriteModeReplace)
	require.NoError(t, err)

	hits, err := store.Search(types.ScopeRun, "notes_*", "beta")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes_a: beta line", "notes_b: beta again"}, hits)
}

func TestExport(t *testing.T) {
	store := NewStore()
	_, err := store.Put(types.ScopeRun, "out", "exported", "test", types.WriteModeReplace)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.md")
	require.NoError(t, store.Export(types.ScopeRun, "out", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "exported", string(data))
}

func TestPeek(t *testing.T) {
	store := NewStore()
	_, err := store.Put(types.ScopeRun, "x", "0123456789", "test", types.WriteModeReplace)
	require.NoError(t, err)

	part, err := store.Peek(types.ScopeRun, "x", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "234", part)

	rest, err := store.Peek(types.ScopeRun, "x", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, "56789", rest)
}
