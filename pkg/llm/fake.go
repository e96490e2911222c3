// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// FakeProvider is a scripted provider for engine and context tests. It
// replays queued results in order and records every request it saw.
type FakeProvider struct {
	mu      sync.Mutex
	scripts []*CallResult
	failure error

	// Requests records each call for assertions.
	Requests []CallRequest
}

// NewFakeProvider queues the given results.
func NewFakeProvider(scripts ...*CallResult) *FakeProvider {
	return &FakeProvider{scripts: scripts}
}

// Enqueue appends another scripted result.
func (f *FakeProvider) Enqueue(result *CallResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, result)
}

// FailWith makes every subsequent call return err.
func (f *FakeProvider) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
}

// CallCount returns how many calls the provider has served.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Call(ctx context.Context, req CallRequest, sink types.EventCallback) (*CallResult, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	if f.failure != nil {
		err := f.failure
		f.mu.Unlock()
		return nil, err
	}
	if len(f.scripts) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("fake provider has no scripted result for call %d", len(f.Requests))
	}
	result := f.scripts[0]
	f.scripts = f.scripts[1:]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if result.Text != "" {
		sink.Emit(types.Event{Kind: types.EventDelta, Delta: result.Text})
	}
	return result, nil
}

// StaticResolver is a fixed alias table for tests.
type StaticResolver struct {
	// Default is the model used for an empty alias.
	Default string

	// Aliases maps alias → model string; every model resolves to the
	// "fake" provider.
	Aliases map[string]string

	// ProviderName overrides the provider every alias resolves to.
	ProviderName string
}

func (r *StaticResolver) ResolveModel(alias string) (string, string, error) {
	provider := r.ProviderName
	if provider == "" {
		provider = "fake"
	}
	if alias == "" {
		if r.Default == "" {
			return "", "", &types.ModelUnavailableError{Alias: alias, Reason: "no default model configured"}
		}
		return provider, r.Default, nil
	}
	if model, ok := r.Aliases[alias]; ok {
		return provider, model, nil
	}
	return "", "", &types.ModelUnavailableError{Alias: alias, Reason: "unknown model alias"}
}
