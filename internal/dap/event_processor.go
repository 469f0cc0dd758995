/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/ai-debugger-inc/aidb/pkg/concurrency"
	"github.com/ai-debugger-inc/aidb/pkg/container"
	"github.com/ai-debugger-inc/aidb/pkg/resiliency"
)

// DefaultBreakpointHistorySize is the default number of breakpoint stops remembered by the EventProcessor.
const DefaultBreakpointHistorySize = 100

// EventListener receives events from the EventProcessor.
// Listeners are compared by identity, so implementations should be pointers.
type EventListener interface {
	OnEvent(event dap.EventMessage)
}

// FuncListener adapts a function to the EventListener interface.
type FuncListener struct {
	fn func(event dap.EventMessage)
}

// NewFuncListener wraps fn in a listener. Each call returns a distinct listener.
func NewFuncListener(fn func(event dap.EventMessage)) *FuncListener {
	return &FuncListener{fn: fn}
}

func (l *FuncListener) OnEvent(event dap.EventMessage) {
	l.fn(event)
}

// EventProcessorConfig holds the configuration for creating an EventProcessor.
type EventProcessorConfig struct {
	// BreakpointHistorySize is the capacity of the breakpoint stop history.
	// If zero, DefaultBreakpointHistorySize is used.
	BreakpointHistorySize int

	// Logger for event processing. If not set, logging is disabled.
	Logger logr.Logger
}

// EventProcessor is the single point through which all protocol events flow.
// It updates the shared SessionState and fans events out to listeners.
type EventProcessor struct {
	state *SessionState
	log   logr.Logger

	// dispatchMu serializes ProcessEvent so that events (and listener notifications) are handled in receive order.
	dispatchMu sync.Mutex

	// mu protects the fields below. It is never held while listeners run.
	mu                sync.Mutex
	lastEvents        map[string]dap.EventMessage
	signals           map[string]*concurrency.ManualResetEvent
	listeners         map[string][]EventListener
	stoppedWaiters    []chan dap.EventMessage
	terminatedWaiters []chan dap.EventMessage
	lastStopped       *dap.StoppedEvent
	breakpointEvents  *container.RingBuffer[*dap.StoppedEvent]
}

func NewEventProcessor(state *SessionState, config EventProcessorConfig) *EventProcessor {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	historySize := config.BreakpointHistorySize
	if historySize <= 0 {
		historySize = DefaultBreakpointHistorySize
	}

	return &EventProcessor{
		state:            state,
		log:              log,
		lastEvents:       make(map[string]dap.EventMessage),
		signals:          make(map[string]*concurrency.ManualResetEvent),
		listeners:        make(map[string][]EventListener),
		breakpointEvents: container.NewBoundedRingBuffer[*dap.StoppedEvent](historySize),
	}
}

// ProcessEvent applies an event to the session state, records it, and notifies listeners.
// Type-specific listeners are notified first, then wildcard listeners.
// A failing listener is logged and does not affect delivery to other listeners.
func (p *EventProcessor) ProcessEvent(event dap.EventMessage) {
	if event == nil {
		return
	}

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	eventType := EventType(event)
	kind := classifyEvent(event)
	p.log.V(1).Info("Processing event", "event", eventType, "seq", event.GetSeq())

	var oneShot []chan dap.EventMessage

	p.mu.Lock()
	switch kind {
	case eventKindInitialized:
		p.state.Update(func(d *SessionData) {
			d.Initialized = true
			d.ReadyForConfiguration = true
		})

	case eventKindStopped:
		if p.handleStoppedLocked(event.(*dap.StoppedEvent)) {
			oneShot = p.stoppedWaiters
			p.stoppedWaiters = nil
		}

	case eventKindContinued:
		p.handleContinuedLocked(event.(*dap.ContinuedEvent))

	case eventKindTerminated:
		p.state.Update(func(d *SessionData) {
			d.setTerminated()
		})
		oneShot = p.terminatedWaiters
		p.terminatedWaiters = nil

	case eventKindModule:
		module := event.(*dap.ModuleEvent).Body.Module
		p.state.Update(func(d *SessionData) {
			d.LoadedModules[moduleKey(module)] = module
		})

	case eventKindThread, eventKindOutput, eventKindProcess, eventKindOther:
		// Recorded below; no state change.
	}

	p.lastEvents[eventType] = event
	signal := p.signalLocked(eventType)
	listeners := slices.Concat(p.listeners[eventType], p.listeners[AnyEvent])
	if eventType == AnyEvent {
		listeners = slices.Clone(p.listeners[AnyEvent])
	}
	p.mu.Unlock()

	signal.Set()

	for _, ch := range oneShot {
		ch <- event
		close(ch)
	}

	for _, listener := range listeners {
		p.notify(listener, event, eventType)
	}
}

// Returns false if the event does not stop the session.
// Must be called with mu held.
func (p *EventProcessor) handleStoppedLocked(stopped *dap.StoppedEvent) bool {
	if p.state.IsTerminated() {
		p.log.Info("Ignoring stopped event for a terminated session", "seq", stopped.Seq)
		return false
	}

	p.state.Update(func(d *SessionData) {
		d.setStopped(stopped.Body.Reason, stopped.Body.ThreadId)
	})
	p.lastStopped = stopped

	if stopped.Body.Reason == StopReasonBreakpoint {
		if evicted := p.breakpointEvents.Push(stopped); evicted {
			p.log.V(1).Info("Breakpoint history full, oldest entry evicted", "capacity", p.breakpointEvents.Capacity())
		}
	}
	return true
}

// Must be called with mu held.
func (p *EventProcessor) handleContinuedLocked(continued *dap.ContinuedEvent) {
	// Adapters may emit continued racily relative to a subsequent stopped event.
	// A continued event that is not newer than the last stop must not erase the stopped state.
	if p.lastStopped != nil && continued.Seq <= p.lastStopped.Seq {
		p.log.V(1).Info("Ignoring stale continued event",
			"seq", continued.Seq,
			"lastStoppedSeq", p.lastStopped.Seq)
		return
	}

	p.state.Update(func(d *SessionData) {
		d.clearStopped()
	})
	p.lastStopped = nil
}

func (p *EventProcessor) notify(listener EventListener, event dap.EventMessage, eventType string) {
	err := resiliency.CallWithRecover(func() {
		listener.OnEvent(event)
	}, p.log.WithValues("event", eventType))
	if err != nil {
		p.log.V(1).Info("Continuing delivery after listener failure", "event", eventType)
	}
}

// Must be called with mu held.
func (p *EventProcessor) signalLocked(eventType string) *concurrency.ManualResetEvent {
	signal, found := p.signals[eventType]
	if !found {
		signal = concurrency.NewManualResetEvent(false)
		p.signals[eventType] = signal
	}
	return signal
}

// Subscribe registers a listener for events of the given type (AnyEvent for all events).
// Subscribing the same listener to the same type again is a no-op.
// Returns true if the listener was added.
func (p *EventProcessor) Subscribe(eventType string, listener EventListener) bool {
	if listener == nil || !reflect.TypeOf(listener).Comparable() {
		p.log.Info("Ignoring subscription with an invalid listener", "event", eventType)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if slices.Contains(p.listeners[eventType], listener) {
		return false
	}
	p.listeners[eventType] = append(p.listeners[eventType], listener)
	return true
}

// Unsubscribe removes a listener. Returns false if the listener was not subscribed to the given type.
func (p *EventProcessor) Unsubscribe(eventType string, listener EventListener) bool {
	if listener == nil || !reflect.TypeOf(listener).Comparable() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.listeners[eventType]
	i := slices.Index(current, listener)
	if i < 0 {
		return false
	}

	current = slices.Delete(slices.Clone(current), i, i+1)
	if len(current) == 0 {
		delete(p.listeners, eventType)
	} else {
		p.listeners[eventType] = current
	}
	return true
}

// ListenerCount returns the number of listeners subscribed to the given event type.
func (p *EventProcessor) ListenerCount(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners[eventType])
}

// RegisterStoppedListener returns a channel that receives the next stopped event, then is closed.
// The listener is edge-triggered: it does not fire for a stop that happened before registration.
// Stopped events that arrive after the session terminated do not resolve it.
func (p *EventProcessor) RegisterStoppedListener() <-chan dap.EventMessage {
	ch := make(chan dap.EventMessage, 1)
	p.mu.Lock()
	p.stoppedWaiters = append(p.stoppedWaiters, ch)
	p.mu.Unlock()
	return ch
}

// RegisterTerminatedListener returns a channel that receives the next terminated event, then is closed.
func (p *EventProcessor) RegisterTerminatedListener() <-chan dap.EventMessage {
	ch := make(chan dap.EventMessage, 1)
	p.mu.Lock()
	p.terminatedWaiters = append(p.terminatedWaiters, ch)
	p.mu.Unlock()
	return ch
}

// PendingOneShotListeners returns the number of stopped and terminated one-shot listeners not yet resolved.
func (p *EventProcessor) PendingOneShotListeners() (stopped int, terminated int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stoppedWaiters), len(p.terminatedWaiters)
}

// WaitForEvent returns true as soon as an event of the given type has been processed
// (immediately, if one already was). Returns false if the timeout elapses or the context is done first.
// A non-positive timeout waits until the context is done.
func (p *EventProcessor) WaitForEvent(ctx context.Context, eventType string, timeout time.Duration) bool {
	p.mu.Lock()
	signal := p.signalLocked(eventType)
	p.mu.Unlock()

	if signal.IsSet() {
		return true
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return signal.Wait(waitCtx)
}

// HasEvent returns true if an event of the given type has been processed since the last ClearEvents().
func (p *EventProcessor) HasEvent(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, found := p.lastEvents[eventType]
	return found
}

// GetLastEvent returns the most recent event of the given type.
func (p *EventProcessor) GetLastEvent(eventType string) (dap.EventMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	event, found := p.lastEvents[eventType]
	return event, found
}

// GetBreakpointEvents returns the remembered breakpoint stops, oldest first.
// The returned slice is a copy.
func (p *EventProcessor) GetBreakpointEvents() []*dap.StoppedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breakpointEvents.Items()
}

// ClearEvents forgets all recorded events, resets all wait signals, and empties the breakpoint history.
func (p *EventProcessor) ClearEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.lastEvents)
	for _, signal := range p.signals {
		signal.Reset()
	}
	p.breakpointEvents.Clear()
	p.lastStopped = nil
}

// State returns the session state this processor updates.
func (p *EventProcessor) State() *SessionState {
	return p.state
}
