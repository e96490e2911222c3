// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package engine executes workflow definitions step by step: run_on
// gating, input resolution, the model call, output routing, and
// pending-state commits. Steps share nothing implicitly; variables and
// files are the only channel between them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/assistantmd/pkg/buffers"
	"github.com/teradata-labs/assistantmd/pkg/directive"
	"github.com/teradata-labs/assistantmd/pkg/inputs"
	"github.com/teradata-labs/assistantmd/pkg/llm"
	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/routing"
	"github.com/teradata-labs/assistantmd/pkg/tools"
	"github.com/teradata-labs/assistantmd/pkg/types"
	"github.com/teradata-labs/assistantmd/pkg/vault"
)

// Config wires an Engine. The engine itself is stateless across runs;
// everything mutable lives in the per-run environment.
type Config struct {
	Gateway  *llm.Gateway
	Tools    *tools.Registry
	Pending  *inputs.PendingStore
	Patterns *patterns.Resolver
	Logger   *zap.Logger

	// Now is a clock hook for tests.
	Now func() time.Time
}

// Engine runs workflow definitions.
type Engine struct {
	gateway  *llm.Gateway
	tools    *tools.Registry
	pending  *inputs.PendingStore
	patterns *patterns.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Patterns == nil {
		cfg.Patterns = patterns.NewResolver(patterns.Config{})
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		gateway:  cfg.Gateway,
		tools:    cfg.Tools,
		pending:  cfg.Pending,
		patterns: cfg.Patterns,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// RunRequest describes one workflow invocation.
type RunRequest struct {
	Definition *directive.Definition
	Vault      *vault.Vault

	// Cause is scheduled or manual; empty defaults to manual. A
	// single-step run carries the step name instead.
	Cause string

	// StepName restricts the run to one named step.
	StepName string

	// Buffers is the run-scoped store; nil allocates a fresh one.
	Buffers *buffers.Store

	// Events receives the ordered run stream.
	Events types.EventCallback
}

// Run executes the definition's steps in source order. A failed step
// aborts the run; skipped steps never do. The returned record is
// complete even when err is non-nil.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*types.RunRecord, error) {
	def := req.Definition
	if def == nil {
		return nil, fmt.Errorf("definition is required")
	}

	cause := req.Cause
	if cause == "" {
		cause = types.CauseManual
	}
	if req.StepName != "" {
		cause = req.StepName
	}

	record := &types.RunRecord{
		RunID:     uuid.NewString(),
		GlobalID:  def.GlobalID,
		Cause:     cause,
		StartedAt: e.now(),
	}

	env, err := e.newEnv(req, record)
	if err != nil {
		record.Error = err.Error()
		record.ErrorKind = types.ErrorKind(err)
		record.FinishedAt = e.now()
		return record, err
	}

	steps := def.Steps
	if req.StepName != "" {
		step := def.Step(req.StepName)
		if step == nil {
			err := fmt.Errorf("workflow %s has no step %q", def.GlobalID, req.StepName)
			record.Error = err.Error()
			record.ErrorKind = types.ErrorKind(err)
			record.FinishedAt = e.now()
			return record, err
		}
		steps = []directive.Step{*step}
	}

	logger := e.logger.With(
		zap.String("global_id", def.GlobalID),
		zap.String("run_id", record.RunID),
		zap.String("cause", cause))
	logger.Info("run started", zap.Int("steps", len(steps)))

	for i := range steps {
		if err := ctx.Err(); err != nil {
			record.Error = "run cancelled"
			record.ErrorKind = types.ErrorKind(err)
			record.FinishedAt = e.now()
			return record, err
		}

		result, _, err := e.ExecuteStep(ctx, env, &steps[i])
		record.Steps = append(record.Steps, result)
		if err != nil {
			record.Error = err.Error()
			record.ErrorKind = result.ErrorKind
			record.FinishedAt = e.now()
			logger.Error("run aborted",
				zap.String("step", steps[i].Heading),
				zap.String("error_kind", record.ErrorKind),
				zap.Error(err))
			return record, err
		}
	}

	record.FinishedAt = e.now()
	logger.Info("run finished",
		zap.Duration("elapsed", record.FinishedAt.Sub(record.StartedAt)),
		zap.Int("files_written", len(record.OutputFiles)))
	return record, nil
}

// StepEnv is the mutable environment one run's steps share. The context
// manager builds its own to run template sections through ExecuteStep.
type StepEnv struct {
	Definition *directive.Definition
	Vault      *vault.Vault
	Buffers    *buffers.Store
	Router     *routing.Router
	Resolver   *inputs.Resolver
	Patterns   *patterns.Resolver

	// SystemPreamble is appended after the workflow Instructions in the
	// system message; the context manager uses it for section context.
	SystemPreamble string

	// DefaultScope is run for workflows and session for chat sections.
	DefaultScope types.Scope

	Events types.EventCallback
	Record *types.RunRecord
}

func (e *Engine) newEnv(req RunRequest, record *types.RunRecord) (*StepEnv, error) {
	if req.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	store := req.Buffers
	if store == nil {
		store = buffers.NewStore()
	}
	router := routing.NewRouter(req.Vault, store, e.logger)
	pat := e.patterns.WithWeekStart(req.Definition.WeekStartDay)
	return &StepEnv{
		Definition: req.Definition,
		Vault:      req.Vault,
		Buffers:    store,
		Router:     router,
		Resolver: &inputs.Resolver{
			Vault:    req.Vault,
			Buffers:  store,
			Router:   router,
			Pending:  e.pending,
			Patterns: pat,
			GlobalID: req.Definition.GlobalID,
			Logger:   e.logger,
		},
		Patterns:     pat,
		DefaultScope: types.ScopeRun,
		Events:       req.Events,
		Record:       record,
	}, nil
}

// ExecuteStep runs one step in the given environment and returns its
// result plus the final assistant text. Skips are reported in the
// result with a nil error; failures return both.
func (e *Engine) ExecuteStep(ctx context.Context, env *StepEnv, step *directive.Step) (types.StepResult, string, error) {
	result := types.StepResult{
		Name:      step.Heading,
		StartedAt: e.now(),
	}
	finish := func() {
		result.DurationMs = e.now().Sub(result.StartedAt).Milliseconds()
	}

	env.Events.Emit(types.Event{Kind: types.EventStepStarted, Step: step.Heading})

	if !step.RunOn.Contains(e.now().Weekday()) {
		result.Status = types.StepSkipped
		result.SkipReason = "run_on gate"
		finish()
		env.Events.Emit(types.Event{Kind: types.EventStepSkipped, Step: step.Heading})
		return result, "", nil
	}

	text, err := e.runStep(ctx, env, step, &result)
	if err != nil {
		if errors.Is(err, types.ErrInputMissing) {
			result.Status = types.StepSkipped
			result.SkipReason = "required input produced no matches"
			finish()
			env.Events.Emit(types.Event{Kind: types.EventStepSkipped, Step: step.Heading})
			return result, "", nil
		}
		result.Status = types.StepFailed
		result.Error = err.Error()
		result.ErrorKind = types.ErrorKind(err)
		finish()
		return result, "", err
	}

	result.Status = types.StepExecuted
	finish()
	env.Events.Emit(types.Event{Kind: types.EventStepFinished, Step: step.Heading})
	return result, text, nil
}

func (e *Engine) runStep(ctx context.Context, env *StepEnv, step *directive.Step, result *types.StepResult) (string, error) {
	resolution, err := env.Resolver.Resolve(ctx, step.Inputs, step.WriteMode, env.DefaultScope)
	if err != nil {
		return "", err
	}
	recordSideEffects(env.Record, resolution.FilesWritten, resolution.VariablesWritten)

	// Pattern substitution applies to @header and @output targets, never
	// to the prompt body.
	header, outputs, err := e.expandTargets(env.Patterns, step)
	if err != nil {
		return "", err
	}

	// A passthrough step routes its inlined inputs as-is; the body is
	// prompt text and never reaches a destination.
	text := resolution.Inline
	if !step.ModelNone() {
		user := composeUser(resolution.Inline, step.Body)
		text, err = e.callModel(ctx, env, step, user)
		if err != nil {
			return "", err
		}
		result.ModelCalled = true
	}

	for _, spec := range outputs {
		routed, err := env.Router.Route(routing.Request{
			Payload:      text,
			Spec:         spec,
			WriteMode:    step.WriteMode,
			DefaultScope: env.DefaultScope,
			Sources:      []string{"step:" + step.Heading},
			Source:       "step:" + step.Heading,
			Header:       header,
		})
		if err != nil {
			return "", err
		}
		if routed.FilePath != "" {
			env.Record.RecordOutputFile(routed.FilePath)
		}
		if routed.Variable != "" {
			env.Record.RecordVariable(routed.Variable)
		}
	}

	if e.pending != nil {
		if err := resolution.Commit(ctx, e.pending, env.Definition.GlobalID); err != nil {
			return "", fmt.Errorf("failed to commit pending state: %w", err)
		}
	}
	return text, nil
}

func (e *Engine) callModel(ctx context.Context, env *StepEnv, step *directive.Step, user string) (string, error) {
	var adapter *tools.Adapter
	if len(step.Tools) > 0 {
		var err error
		adapter, err = tools.NewAdapter(e.tools, env.Router, &tools.Env{
			Vault:        env.Vault,
			Buffers:      env.Buffers,
			Router:       env.Router,
			DefaultScope: env.DefaultScope,
		}, step.Tools, step.WriteMode, e.logger)
		if err != nil {
			return "", err
		}
	}

	return e.gateway.Complete(ctx, llm.CompleteRequest{
		Alias:    step.Model,
		System:   composeSystem(env.Definition.Instructions, env.SystemPreamble),
		User:     user,
		Thinking: step.Thinking,
		Adapter:  adapter,
		Events:   env.Events,
	})
}

// expandTargets substitutes pattern tokens in the header and the output
// targets of one step.
func (e *Engine) expandTargets(pat *patterns.Resolver, step *directive.Step) (string, []types.OutputSpec, error) {
	header := step.Header
	if header != "" {
		expanded, err := pat.Expand(header)
		if err != nil {
			return "", nil, err
		}
		header = expanded
	}

	outputs := make([]types.OutputSpec, len(step.Outputs))
	copy(outputs, step.Outputs)
	for i := range outputs {
		if outputs[i].Target == "" {
			continue
		}
		expanded, err := pat.Expand(outputs[i].Target)
		if err != nil {
			return "", nil, err
		}
		if outputs[i].Dest == types.DestFile {
			if err := patterns.ValidatePathPattern(expanded); err != nil {
				return "", nil, err
			}
		}
		outputs[i].Target = expanded
	}
	return header, outputs, nil
}

func composeSystem(instructions, preamble string) string {
	parts := make([]string, 0, 2)
	if instructions != "" {
		parts = append(parts, instructions)
	}
	if preamble != "" {
		parts = append(parts, preamble)
	}
	return strings.Join(parts, "\n\n")
}

func composeUser(inline, body string) string {
	switch {
	case inline == "":
		return body
	case body == "":
		return inline
	default:
		return inline + "\n\n" + body
	}
}

func recordSideEffects(record *types.RunRecord, files, variables []string) {
	if record == nil {
		return
	}
	for _, f := range files {
		record.RecordOutputFile(f)
	}
	for _, v := range variables {
		record.RecordVariable(v)
	}
}
