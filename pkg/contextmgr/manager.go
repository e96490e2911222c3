// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package contextmgr composes chat-agent system context from context
// templates: token gating, section execution through the step engine,
// and the section output cache.
package contextmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/engine"
	"github.com/teradata-labs/assistantmd/pkg/inputs"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/routing"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// basePreamble anchors every chat system prompt ahead of the template's
// own instructions.
const basePreamble = "You are the assistant for this vault. Ground your answers in the provided context."

// Turn is one prior user/assistant exchange in a chat session.
type Turn struct {
	User      string
	Assistant string
}

// Config wires a Manager.
type Config struct {
	Engine   *engine.Engine
	Cache    *SectionCache
	Buffers  *buffers.Registry
	Pending  *inputs.PendingStore
	Patterns *patterns.Resolver
	Logger   *zap.Logger

	// Now is a clock hook for tests.
	Now func() time.Time
}

// Manager builds chat context from a template.
type Manager struct {
	engine    *engine.Engine
	estimator *Estimator
	cache     *SectionCache
	buffers   *buffers.Registry
	pending   *inputs.PendingStore
	patterns  *patterns.Resolver
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates a Manager. The cache is optional; without one,
// @cache directives execute their sections every build.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Buffers == nil {
		cfg.Buffers = buffers.NewRegistry()
	}
	if cfg.Patterns == nil {
		cfg.Patterns = patterns.NewResolver(patterns.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		engine:    cfg.Engine,
		estimator: NewEstimator(),
		cache:     cfg.Cache,
		buffers:   cfg.Buffers,
		pending:   cfg.Pending,
		patterns:  cfg.Patterns,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// BuildRequest is one context build for a chat turn.
type BuildRequest struct {
	Template *directive.Definition
	Vault    *vault.Vault

	SessionID string

	// History is the session so far, oldest first. The latest user
	// message is passed separately and always survives windowing.
	History           []Turn
	LatestUserMessage string

	Events types.EventCallback
}

// BuildResult is the composed context.
type BuildResult struct {
	SystemPrompt string

	// History is the effective window handed to the chat model.
	History []Turn

	// SectionsRun and SectionsCached count executable sections that ran
	// or were served from cache this build.
	SectionsRun    int
	SectionsCached int

	// Gated reports that the token threshold skipped all sections.
	Gated bool
}

// BuildContext composes the system prompt and history window for one
// chat turn.
func (m *Manager) BuildContext(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	tmpl := req.Template
	if tmpl == nil {
		return nil, fmt.Errorf("template is required")
	}
	if tmpl.Kind != directive.KindContextTemplate {
		return nil, fmt.Errorf("%s is not a context template", tmpl.Name)
	}

	sysParts := []string{basePreamble}
	if tmpl.ChatInstructions != "" {
		sysParts = append(sysParts, tmpl.ChatInstructions)
	}

	// Chat-instructions-only templates pass everything through.
	if !tmpl.HasExecutableSections() {
		return &BuildResult{
			SystemPrompt: strings.Join(sysParts, "\n\n"),
			History:      req.History,
		}, nil
	}

	// Token gating: a short history skips every executable section.
	if tmpl.TokenThreshold > 0 {
		est := m.estimator.EstimateTokens(renderTurns(req.History) + req.LatestUserMessage)
		if est < tmpl.TokenThreshold {
			m.logger.Debug("context gating engaged",
				zap.String("template", tmpl.Name),
				zap.Int("estimated_tokens", est),
				zap.Int("threshold", tmpl.TokenThreshold))
			return &BuildResult{
				SystemPrompt: strings.Join(sysParts, "\n\n"),
				History:      window(req.History, tmpl.PassthroughRuns),
				Gated:        true,
			}, nil
		}
	}

	result := &BuildResult{}
	preamble, err := m.runSections(ctx, req, result)
	if err != nil {
		return nil, err
	}
	sysParts = append(sysParts, preamble...)

	result.SystemPrompt = strings.Join(sysParts, "\n\n")
	result.History = window(req.History, tmpl.PassthroughRuns)
	return result, nil
}

// runSections executes the template's executable sections in order and
// returns the context contributions they routed.
func (m *Manager) runSections(ctx context.Context, req BuildRequest, result *BuildResult) ([]string, error) {
	tmpl := req.Template
	store := m.buffers.StoreFor(req.SessionID)
	pat := m.patterns.WithWeekStart(tmpl.WeekStartDay)

	var contributions []string
	router := routing.NewRouter(req.Vault, store, m.logger)
	router.ContextSink = func(text string) {
		contributions = append(contributions, text)
	}

	env := &engine.StepEnv{
		Definition: tmpl,
		Vault:      req.Vault,
		Buffers:    store,
		Router:     router,
		Resolver: &inputs.Resolver{
			Vault:    req.Vault,
			Buffers:  store,
			Router:   router,
			Pending:  m.pending,
			Patterns: pat,
			GlobalID: tmpl.GlobalID,
			Logger:   m.logger,
		},
		Patterns:     pat,
		DefaultScope: types.ScopeSession,
		Events:       req.Events,
		Record: &types.RunRecord{
			RunID:     uuid.NewString(),
			GlobalID:  tmpl.GlobalID,
			Cause:     "context_build",
			StartedAt: m.now(),
		},
	}

	var summaries []string
	for i := range tmpl.Steps {
		section := &tmpl.Steps[i]

		// A gated section bypasses the cache entirely, so a cached value
		// is never surfaced on a day the section would not run.
		if !section.RunOn.Contains(m.now().Weekday()) {
			continue
		}

		recentTurns := window(req.History, section.RecentRuns)
		recentSummaries := windowStrings(summaries, section.RecentSummaries)
		key := m.cacheKey(tmpl, i, section, recentTurns, recentSummaries, req.SessionID)

		if m.cache != nil && section.Cache != nil {
			if cached, ok, err := m.cache.Get(ctx, key); err != nil {
				return nil, err
			} else if ok {
				if routesToContext(section) {
					contributions = append(contributions, cached)
				}
				summaries = append(summaries, cached)
				result.SectionsCached++
				continue
			}
		}

		env.SystemPreamble = sectionPreamble(tmpl.ContextInstructions, recentTurns, recentSummaries)
		stepResult, text, err := m.engine.ExecuteStep(ctx, env, section)
		if err != nil {
			return nil, fmt.Errorf("section %q failed: %w", section.Heading, err)
		}
		if stepResult.Status != types.StepExecuted {
			continue
		}
		result.SectionsRun++
		summaries = append(summaries, text)

		if m.cache != nil && section.Cache != nil {
			if err := m.cache.Put(ctx, key, text, m.expiry(section.Cache, tmpl.WeekStartDay)); err != nil {
				return nil, err
			}
		}
	}
	return contributions, nil
}

func (m *Manager) cacheKey(tmpl *directive.Definition, index int, section *directive.Step, turns []Turn, summaries []string, sessionID string) CacheKey {
	sum := sha256.Sum256([]byte(renderTurns(turns) + "\x00" + strings.Join(summaries, "\x00")))
	key := CacheKey{
		TemplateDigest: tmpl.SourceDigest,
		SectionIndex:   index,
		SliceDigest:    hex.EncodeToString(sum[:]),
	}
	if section.Cache != nil && section.Cache.Kind == directive.CacheSession {
		key.SessionID = sessionID
	}
	return key
}

// expiry maps a cache spec to its absolute expiry. Session entries get
// the zero time and live until the session is cleared.
func (m *Manager) expiry(spec *directive.CacheSpec, weekStart time.Weekday) time.Time {
	now := m.now()
	switch spec.Kind {
	case directive.CacheSession:
		return time.Time{}
	case directive.CacheDaily:
		return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	case directive.CacheWeekly:
		delta := (int(weekStart) - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return time.Date(now.Year(), now.Month(), now.Day()+delta, 0, 0, 0, 0, now.Location())
	default:
		return now.Add(spec.TTL)
	}
}

func routesToContext(section *directive.Step) bool {
	for _, out := range section.Outputs {
		if out.Dest == types.DestContext {
			return true
		}
	}
	return false
}

// sectionPreamble is the system text a section sees: the template's
// Context Instructions plus its windows of conversation and prior
// section notes.
func sectionPreamble(contextInstructions string, turns []Turn, summaries []string) string {
	var parts []string
	if contextInstructions != "" {
		parts = append(parts, contextInstructions)
	}
	if len(turns) > 0 {
		parts = append(parts, "Recent conversation:\n\n"+renderTurns(turns))
	}
	if len(summaries) > 0 {
		parts = append(parts, "Earlier section notes:\n\n"+strings.Join(summaries, "\n\n"))
	}
	return strings.Join(parts, "\n\n")
}

func renderTurns(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.User != "" {
			b.WriteString("User: " + t.User + "\n")
		}
		if t.Assistant != "" {
			b.WriteString("Assistant: " + t.Assistant + "\n")
		}
	}
	return b.String()
}

// window keeps the last n turns. CountAll keeps everything; zero keeps
// nothing (a section that never asked for runs sees none).
func window(turns []Turn, n int) []Turn {
	if n == directive.CountAll || n >= len(turns) {
		return turns
	}
	if n <= 0 {
		return nil
	}
	return turns[len(turns)-n:]
}

func windowStrings(values []string, n int) []string {
	if n == directive.CountAll || n >= len(values) {
		return values
	}
	if n <= 0 {
		return nil
	}
	return values[len(values)-n:]
}
