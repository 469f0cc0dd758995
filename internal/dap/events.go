/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
)

// Well-known DAP event type names.
const (
	EventInitialized = "initialized"
	EventStopped     = "stopped"
	EventContinued   = "continued"
	EventTerminated  = "terminated"
	EventThread      = "thread"
	EventOutput      = "output"
	EventProcess     = "process"
	EventModule      = "module"

	// AnyEvent is the wildcard event type; its subscribers receive every event.
	AnyEvent = "*"

	// StopReasonBreakpoint is the stopped event reason reported when a breakpoint is hit.
	StopReasonBreakpoint = "breakpoint"
)

// eventKind is the closed set of event kinds that get dedicated handling.
// Everything else is eventKindOther.
type eventKind int

const (
	eventKindOther eventKind = iota
	eventKindInitialized
	eventKindStopped
	eventKindContinued
	eventKindTerminated
	eventKindThread
	eventKindOutput
	eventKindProcess
	eventKindModule
)

func (k eventKind) String() string {
	switch k {
	case eventKindInitialized:
		return EventInitialized
	case eventKindStopped:
		return EventStopped
	case eventKindContinued:
		return EventContinued
	case eventKindTerminated:
		return EventTerminated
	case eventKindThread:
		return EventThread
	case eventKindOutput:
		return EventOutput
	case eventKindProcess:
		return EventProcess
	case eventKindModule:
		return EventModule
	default:
		return "other"
	}
}

// classifyEvent maps a decoded event to its kind.
func classifyEvent(event dap.EventMessage) eventKind {
	switch event.(type) {
	case *dap.InitializedEvent:
		return eventKindInitialized
	case *dap.StoppedEvent:
		return eventKindStopped
	case *dap.ContinuedEvent:
		return eventKindContinued
	case *dap.TerminatedEvent:
		return eventKindTerminated
	case *dap.ThreadEvent:
		return eventKindThread
	case *dap.OutputEvent:
		return eventKindOutput
	case *dap.ProcessEvent:
		return eventKindProcess
	case *dap.ModuleEvent:
		return eventKindModule
	default:
		return eventKindOther
	}
}

// EventType returns the protocol event name (e.g. "stopped") of an event message.
func EventType(event dap.EventMessage) string {
	if event == nil {
		return ""
	}
	return event.GetEvent().Event
}

// OutputCategory returns the category of an output event, or an empty string for other events.
func OutputCategory(event dap.EventMessage) string {
	if output, ok := event.(*dap.OutputEvent); ok {
		return output.Body.Category
	}
	return ""
}

// moduleKey returns the stringified module identifier used as the loaded-modules key.
func moduleKey(module dap.Module) string {
	switch id := module.Id.(type) {
	case float64:
		// JSON numbers decode as float64; integral IDs should not render with a decimal point.
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%v", id)
	default:
		return fmt.Sprintf("%v", id)
	}
}

// UnknownEvent carries an event that the protocol library does not have a dedicated type for.
// The body is preserved as raw JSON.
type UnknownEvent struct {
	dap.Event

	Body json.RawMessage `json:"body,omitempty"`
}

var _ dap.EventMessage = (*UnknownEvent)(nil)

// NewStoppedEvent creates a stopped event with the given sequence number, reason and thread.
func NewStoppedEvent(seq int, reason string, threadID int) *dap.StoppedEvent {
	return &dap.StoppedEvent{
		Event: newEvent(seq, EventStopped),
		Body: dap.StoppedEventBody{
			Reason:   reason,
			ThreadId: threadID,
		},
	}
}

// NewContinuedEvent creates a continued event with the given sequence number and thread.
func NewContinuedEvent(seq int, threadID int) *dap.ContinuedEvent {
	return &dap.ContinuedEvent{
		Event: newEvent(seq, EventContinued),
		Body: dap.ContinuedEventBody{
			ThreadId:            threadID,
			AllThreadsContinued: true,
		},
	}
}

// NewTerminatedEvent creates a terminated event with the given sequence number.
func NewTerminatedEvent(seq int) *dap.TerminatedEvent {
	return &dap.TerminatedEvent{
		Event: newEvent(seq, EventTerminated),
	}
}

// NewOutputEvent creates an output event with the given sequence number, category and text.
func NewOutputEvent(seq int, category, output string) *dap.OutputEvent {
	return &dap.OutputEvent{
		Event: newEvent(seq, EventOutput),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   output,
		},
	}
}

func newEvent(seq int, name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "event"},
		Event:           name,
	}
}
