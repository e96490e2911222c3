// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package buffers holds named in-memory payloads addressable as
// variable:NAME. Run-scoped buffers live for one engine invocation;
// session-scoped buffers live until their chat session is cleared.
package buffers

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/teradata-labs/assistantmd/internal/atomicfile"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

// CompressionThreshold is the minimum payload size that triggers
// transparent zstd compression.
const CompressionThreshold = 4 * 1024

// DefaultLimit caps a single buffer's uncompressed size. Oversized
// writes and full reads fail with BufferLimitError; use Peek for ranges.
const DefaultLimit = 4 * 1024 * 1024

// AppendSeparator joins chunks written under append mode.
const AppendSeparator = "\n"

// ErrNotFound marks a read of a buffer that does not exist.
var ErrNotFound = errors.New("buffer not found")

// Buffer is one named payload. Content may be held zstd-compressed.
type Buffer struct {
	Name      string
	Scope     types.Scope
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time

	data       []byte
	compressed bool
	rawSize    int
}

// Info is the metadata view of a buffer.
type Info struct {
	Name       string      `json:"name"`
	Scope      types.Scope `json:"scope"`
	Size       int         `json:"size"`
	Compressed bool        `json:"compressed"`
	Source     string      `json:"source,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// encoder and decoder are reusable and safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// sessionBuffers is the shared session-scoped half of a store, guarded
// by its own lock so concurrent chat requests for one session serialize.
type sessionBuffers struct {
	mu   sync.Mutex
	data map[string]*Buffer
}

// Store is one view over buffers: a private run-scoped map plus a
// session-scoped map shared with every other view of the same session.
// Run buffers need no locking (steps are serial); session access locks.
type Store struct {
	limit   int
	run     map[string]*Buffer
	session *sessionBuffers
}

// NewStore creates a standalone store with fresh run and session maps.
func NewStore() *Store {
	return &Store{
		limit:   DefaultLimit,
		run:     make(map[string]*Buffer),
		session: &sessionBuffers{data: make(map[string]*Buffer)},
	}
}

// Registry hands out stores bound to per-session buffer maps. It is the
// process-wide owner of session state; run state is always per-store.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionBuffers
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionBuffers)}
}

// StoreFor returns a fresh run view sharing the named session's buffers.
// An empty session id yields a store with private session state.
func (r *Registry) StoreFor(sessionID string) *Store {
	store := NewStore()
	if sessionID == "" {
		return store
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		sess = &sessionBuffers{data: make(map[string]*Buffer)}
		r.sessions[sessionID] = sess
	}
	store.session = sess
	return store
}

// ClearSession drops all buffers belonging to the named session.
func (r *Registry) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Put writes content under (scope, name) honoring the write mode and
// returns the final buffer name (which differs from name under "new").
func (s *Store) Put(scope types.Scope, name, content, source string, mode types.WriteMode) (string, error) {
	if name == "" {
		return "", fmt.Errorf("buffer name cannot be empty")
	}
	if !scope.Valid() {
		return "", fmt.Errorf("unknown buffer scope %q", scope)
	}
	if mode == "" {
		mode = types.WriteModeAppend
	}
	if len(content) > s.limit {
		return "", &types.BufferLimitError{Scope: scope, Name: name, Size: len(content), Limit: s.limit}
	}

	if scope == types.ScopeSession {
		s.session.mu.Lock()
		defer s.session.mu.Unlock()
		return putLocked(s.session.data, scope, name, content, source, mode, s.limit)
	}
	return putLocked(s.run, scope, name, content, source, mode, s.limit)
}

func putLocked(data map[string]*Buffer, scope types.Scope, name, content, source string, mode types.WriteMode, limit int) (string, error) {
	now := time.Now()

	switch mode {
	case types.WriteModeNew:
		name = nextNumberedName(data, name)
	case types.WriteModeAppend:
		if existing, ok := data[name]; ok {
			prev, err := existing.content()
			if err != nil {
				return "", err
			}
			combined := prev + AppendSeparator + content
			if len(combined) > limit {
				return "", &types.BufferLimitError{Scope: scope, Name: name, Size: len(combined), Limit: limit}
			}
			existing.store(combined)
			existing.UpdatedAt = now
			existing.Source = source
			return name, nil
		}
	}

	buf := &Buffer{Name: name, Scope: scope, Source: source, CreatedAt: now, UpdatedAt: now}
	if prev, ok := data[name]; ok {
		buf.CreatedAt = prev.CreatedAt
	}
	buf.store(content)
	data[name] = buf
	return name, nil
}

// nextNumberedName allocates name_000, name_001, ... past any existing
// numbered sibling, so successive "new" writes never collide.
func nextNumberedName(data map[string]*Buffer, base string) string {
	n := 0
	for {
		candidate := fmt.Sprintf("%s_%03d", base, n)
		if _, ok := data[candidate]; !ok {
			return candidate
		}
		n++
	}
}

// Get returns the full content of (scope, name).
func (s *Store) Get(scope types.Scope, name string) (string, error) {
	buf, err := s.lookup(scope, name)
	if err != nil {
		return "", err
	}
	if buf.rawSize > s.limit {
		return "", &types.BufferLimitError{Scope: scope, Name: name, Size: buf.rawSize, Limit: s.limit}
	}
	return buf.content()
}

// Peek returns a byte range of (scope, name), for inspecting buffers too
// large to read whole.
func (s *Store) Peek(scope types.Scope, name string, offset, length int) (string, error) {
	buf, err := s.lookup(scope, name)
	if err != nil {
		return "", err
	}
	content, err := buf.content()
	if err != nil {
		return "", err
	}
	if offset < 0 || offset > len(content) {
		return "", fmt.Errorf("offset %d out of range for buffer %s/%s (%d bytes)", offset, scope, name, len(content))
	}
	end := offset + length
	if length <= 0 || end > len(content) {
		end = len(content)
	}
	return content[offset:end], nil
}

// Info returns the metadata of (scope, name).
func (s *Store) Info(scope types.Scope, name string) (*Info, error) {
	buf, err := s.lookup(scope, name)
	if err != nil {
		return nil, err
	}
	return buf.info(), nil
}

// List returns metadata for every buffer in scope, sorted by name.
func (s *Store) List(scope types.Scope) []*Info {
	var infos []*Info
	s.each(scope, func(buf *Buffer) {
		infos = append(infos, buf.info())
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Search scans buffers whose name matches namePattern (shell glob) for
// lines containing substr, returning "name: line" hits in name order.
func (s *Store) Search(scope types.Scope, namePattern, substr string) ([]string, error) {
	if _, err := path.Match(namePattern, ""); err != nil {
		return nil, fmt.Errorf("invalid name pattern %q: %w", namePattern, err)
	}

	var hits []string
	var scanErr error
	s.each(scope, func(buf *Buffer) {
		if scanErr != nil {
			return
		}
		if ok, _ := path.Match(namePattern, buf.Name); !ok {
			return
		}
		content, err := buf.content()
		if err != nil {
			scanErr = err
			return
		}
		for _, line := range strings.Split(content, "\n") {
			if strings.Contains(line, substr) {
				hits = append(hits, buf.Name+": "+line)
			}
		}
	})
	if scanErr != nil {
		return nil, scanErr
	}
	sort.Strings(hits)
	return hits, nil
}

// Export writes the buffer content to an absolute file path. Callers
// resolve the path through the vault sandbox first.
func (s *Store) Export(scope types.Scope, name, absPath string) error {
	content, err := s.Get(scope, name)
	if err != nil {
		return err
	}
	if err := atomicfile.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to export buffer %s/%s: %w", scope, name, err)
	}
	return nil
}

// ClearRun drops every run-scoped buffer.
func (s *Store) ClearRun() {
	s.run = make(map[string]*Buffer)
}

func (s *Store) lookup(scope types.Scope, name string) (*Buffer, error) {
	if scope == types.ScopeSession {
		s.session.mu.Lock()
		defer s.session.mu.Unlock()
		if buf, ok := s.session.data[name]; ok {
			return buf, nil
		}
		return nil, fmt.Errorf("buffer %s/%s: %w", scope, name, ErrNotFound)
	}
	if buf, ok := s.run[name]; ok {
		return buf, nil
	}
	return nil, fmt.Errorf("buffer %s/%s: %w", scope, name, ErrNotFound)
}

func (s *Store) each(scope types.Scope, fn func(*Buffer)) {
	if scope == types.ScopeSession {
		s.session.mu.Lock()
		defer s.session.mu.Unlock()
		for _, buf := range s.session.data {
			fn(buf)
		}
		return
	}
	for _, buf := range s.run {
		fn(buf)
	}
}

func (b *Buffer) store(content string) {
	b.rawSize = len(content)
	if len(content) >= CompressionThreshold {
		compressed := encoder.EncodeAll([]byte(content), nil)
		if len(compressed) < len(content) {
			b.data = compressed
			b.compressed = true
			return
		}
	}
	b.data = []byte(content)
	b.compressed = false
}

func (b *Buffer) content() (string, error) {
	if !b.compressed {
		return string(b.data), nil
	}
	raw, err := decoder.DecodeAll(b.data, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decompress buffer %s: %w", b.Name, err)
	}
	return string(raw), nil
}

func (b *Buffer) info() *Info {
	return &Info{
		Name:       b.Name,
		Scope:      b.Scope,
		Size:       b.rawSize,
		Compressed: b.compressed,
		Source:     b.Source,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}
