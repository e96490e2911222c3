// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import "time"

// EventKind discriminates engine and gateway events.
type EventKind string

const (
	// EventDelta carries a streamed text fragment from the model.
	EventDelta EventKind = "delta"

	// EventToolCallStarted marks the model requesting a tool invocation.
	EventToolCallStarted EventKind = "tool_call_started"

	// EventToolCallFinished carries the tool result or its manifest.
	EventToolCallFinished EventKind = "tool_call_finished"

	// EventDone marks the end of one model call.
	EventDone EventKind = "done"

	// EventError carries a failure.
	EventError EventKind = "error"

	// EventStepStarted and friends are engine-level progress markers so an
	// API layer can stream run progress without coupling to the engine.
	EventStepStarted  EventKind = "step_started"
	EventStepFinished EventKind = "step_finished"
	EventStepSkipped  EventKind = "step_skipped"
)

// Event is one entry in the ordered stream a run or model call emits.
type Event struct {
	Kind EventKind

	// Delta is the text fragment for EventDelta.
	Delta string

	// ToolCallID, ToolName, and ToolInput describe tool call events.
	ToolCallID string
	ToolName   string
	ToolInput  map[string]interface{}

	// ToolOutput is the result text or manifest for EventToolCallFinished.
	ToolOutput string

	// Step names the step for engine-level events.
	Step string

	// Err is the failure message for EventError.
	Err string

	Timestamp time.Time
}

// EventCallback receives events as they occur. Callbacks must not block;
// the engine invokes them inline on the run's goroutine.
type EventCallback func(Event)

// Emit invokes the callback if non-nil, stamping the event time.
func (cb EventCallback) Emit(ev Event) {
	if cb == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	cb(ev)
}
