/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-debugger-inc/aidb/pkg/testutil"
)

func newTestProcessor(t *testing.T, config EventProcessorConfig) *EventProcessor {
	t.Helper()
	if config.Logger.GetSink() == nil {
		config.Logger = testutil.NewLogForTesting(t.Name())
	}
	return NewEventProcessor(NewSessionState(), config)
}

// recordingListener remembers every event it receives.
type recordingListener struct {
	mu     sync.Mutex
	events []dap.EventMessage
}

func (l *recordingListener) OnEvent(event dap.EventMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) received() []dap.EventMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dap.EventMessage(nil), l.events...)
}

func TestHasEventBecomesTrueAfterFirstEvent(t *testing.T) {
	t.Parallel()

	events := []dap.EventMessage{
		&dap.InitializedEvent{Event: newEvent(1, EventInitialized)},
		NewStoppedEvent(2, "step", 1),
		NewContinuedEvent(3, 1),
		&dap.ThreadEvent{Event: newEvent(4, EventThread), Body: dap.ThreadEventBody{Reason: "started", ThreadId: 2}},
		NewOutputEvent(5, "stdout", "hello\n"),
		&dap.ProcessEvent{Event: newEvent(6, EventProcess), Body: dap.ProcessEventBody{Name: "app"}},
		&dap.ModuleEvent{Event: newEvent(7, EventModule), Body: dap.ModuleEventBody{Reason: "new", Module: dap.Module{Id: "m1", Name: "m1"}}},
		NewTerminatedEvent(8),
		&UnknownEvent{Event: newEvent(9, "customProgress"), Body: json.RawMessage(`{"percent":50}`)},
	}

	processor := newTestProcessor(t, EventProcessorConfig{})

	for _, event := range events {
		eventType := EventType(event)
		require.False(t, processor.HasEvent(eventType), "no %s event should be recorded yet", eventType)
		_, found := processor.GetLastEvent(eventType)
		require.False(t, found)

		processor.ProcessEvent(event)

		assert.True(t, processor.HasEvent(eventType), "%s event should be recorded", eventType)
		last, found := processor.GetLastEvent(eventType)
		require.True(t, found)
		assert.Same(t, event, last)
	}
}

func TestStoppedEventUpdatesStateAndNotifiesSubscriberOnce(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})
	listener := &recordingListener{}
	require.True(t, processor.Subscribe(EventStopped, listener))

	stopped := NewStoppedEvent(10, StopReasonBreakpoint, 1)
	processor.ProcessEvent(stopped)

	data := processor.State().Snapshot()
	assert.True(t, data.Stopped)
	assert.Equal(t, StopReasonBreakpoint, data.StopReason)
	require.NotNil(t, data.CurrentThreadID)
	assert.Equal(t, 1, *data.CurrentThreadID)

	received := listener.received()
	require.Len(t, received, 1)
	assert.Same(t, stopped, received[0])
}

func TestStaleContinuedEventIsIgnored(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})

	processor.ProcessEvent(NewStoppedEvent(10, StopReasonBreakpoint, 1))
	processor.ProcessEvent(NewContinuedEvent(5, 1))

	data := processor.State().Snapshot()
	assert.True(t, data.Stopped, "continued event older than the stop must not resume the session")
	assert.Equal(t, StopReasonBreakpoint, data.StopReason)

	// Duplicate delivery of a continued event with the same sequence number as the stop is stale too.
	processor.ProcessEvent(NewContinuedEvent(10, 1))
	assert.True(t, processor.State().IsStopped())

	processor.ProcessEvent(NewContinuedEvent(11, 1))
	data = processor.State().Snapshot()
	assert.False(t, data.Stopped)
	assert.Empty(t, data.StopReason)
	assert.Nil(t, data.CurrentThreadID)
}

func TestInitializedEventMarksReadyForConfiguration(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})
	processor.ProcessEvent(&dap.InitializedEvent{Event: newEvent(1, EventInitialized)})

	data := processor.State().Snapshot()
	assert.True(t, data.Initialized)
	assert.True(t, data.ReadyForConfiguration)
}

func TestTerminatedEventClearsStopped(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})
	processor.State().Update(func(d *SessionData) {
		d.SessionEstablished = true
	})

	processor.ProcessEvent(NewStoppedEvent(1, "pause", 3))
	processor.ProcessEvent(NewTerminatedEvent(2))

	data := processor.State().Snapshot()
	assert.True(t, data.Terminated)
	assert.False(t, data.Stopped)
	assert.False(t, data.SessionEstablished)
	assert.Nil(t, data.CurrentThreadID)

	// A stop reported after termination must not leave the session both stopped and terminated.
	stoppedListener := processor.RegisterStoppedListener()
	processor.ProcessEvent(NewStoppedEvent(3, "pause", 3))
	data = processor.State().Snapshot()
	assert.True(t, data.Terminated)
	assert.False(t, data.Stopped)

	select {
	case event := <-stoppedListener:
		assert.Fail(t, "stopped listener resolved for a terminated session", "event: %v", event)
	default:
	}
	pendingStopped, _ := processor.PendingOneShotListeners()
	assert.Equal(t, 1, pendingStopped)
	assert.True(t, processor.HasEvent(EventStopped), "the event is still recorded")
}

func TestModuleEventsAreRecordedByStringifiedID(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})
	moduleEvent := func(seq int, id any, name string) *dap.ModuleEvent {
		return &dap.ModuleEvent{
			Event: newEvent(seq, EventModule),
			Body:  dap.ModuleEventBody{Reason: "new", Module: dap.Module{Id: id, Name: name}},
		}
	}

	processor.ProcessEvent(moduleEvent(1, float64(7), "numeric"))
	processor.ProcessEvent(moduleEvent(2, "lib", "named"))
	processor.ProcessEvent(moduleEvent(3, "lib", "renamed"))

	modules := processor.State().Snapshot().LoadedModules
	require.Len(t, modules, 2)
	assert.Equal(t, "numeric", modules["7"].Name)
	assert.Equal(t, "renamed", modules["lib"].Name)
}

func TestOneShotListenersResolveOnce(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})

	// Edge-triggered: a stop that happened before registration does not resolve the listener.
	processor.ProcessEvent(NewStoppedEvent(1, "entry", 1))

	first := processor.RegisterStoppedListener()
	second := processor.RegisterStoppedListener()
	terminated := processor.RegisterTerminatedListener()

	stopped, pendingTerminated := processor.PendingOneShotListeners()
	assert.Equal(t, 2, stopped)
	assert.Equal(t, 1, pendingTerminated)

	select {
	case <-first:
		require.Fail(t, "stopped listener resolved before any new stop")
	default:
	}

	stop := NewStoppedEvent(2, StopReasonBreakpoint, 1)
	processor.ProcessEvent(stop)

	stopped, pendingTerminated = processor.PendingOneShotListeners()
	assert.Equal(t, 0, stopped, "stopped listeners should be cleared on resolution")
	assert.Equal(t, 1, pendingTerminated)

	for _, ch := range []<-chan dap.EventMessage{first, second} {
		event, isOpen := <-ch
		require.True(t, isOpen)
		assert.Same(t, stop, event)
		_, isOpen = <-ch
		assert.False(t, isOpen, "listener must resolve at most once")
	}

	// A second stop has nobody to resolve.
	processor.ProcessEvent(NewStoppedEvent(3, StopReasonBreakpoint, 1))

	end := NewTerminatedEvent(4)
	processor.ProcessEvent(end)
	event, isOpen := <-terminated
	require.True(t, isOpen)
	assert.Same(t, end, event)

	stopped, pendingTerminated = processor.PendingOneShotListeners()
	assert.Equal(t, 0, stopped)
	assert.Equal(t, 0, pendingTerminated)
}

func TestBreakpointHistoryIsBounded(t *testing.T) {
	t.Parallel()

	const capacity = 3
	const extra = 2
	processor := newTestProcessor(t, EventProcessorConfig{BreakpointHistorySize: capacity})

	for seq := 1; seq <= capacity+extra; seq++ {
		processor.ProcessEvent(NewStoppedEvent(seq, StopReasonBreakpoint, 1))
		processor.ProcessEvent(NewStoppedEvent(100+seq, "step", 1))
		assert.LessOrEqual(t, len(processor.GetBreakpointEvents()), capacity)
	}

	history := processor.GetBreakpointEvents()
	require.Len(t, history, capacity)
	for i, event := range history {
		assert.Equal(t, extra+i+1, event.Seq, "the %d oldest entries should be evicted, the rest kept in order", extra)
	}

	history[0] = nil
	assert.NotNil(t, processor.GetBreakpointEvents()[0], "mutating the returned history must not affect the processor")
}

func TestDefaultBreakpointHistorySize(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})
	for seq := 1; seq <= DefaultBreakpointHistorySize+1; seq++ {
		processor.ProcessEvent(NewStoppedEvent(seq, StopReasonBreakpoint, 1))
	}

	history := processor.GetBreakpointEvents()
	require.Len(t, history, DefaultBreakpointHistorySize)
	assert.Equal(t, 2, history[0].Seq)
}

func TestListenerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	require.True(t, processor.Subscribe(AnyEvent, NewFuncListener(func(_ dap.EventMessage) { record("wildcard") })))
	require.True(t, processor.Subscribe(EventOutput, NewFuncListener(func(_ dap.EventMessage) {
		record("failing")
		panic("listener failure")
	})))
	require.True(t, processor.Subscribe(EventOutput, NewFuncListener(func(_ dap.EventMessage) { record("typed") })))

	require.NotPanics(t, func() {
		processor.ProcessEvent(NewOutputEvent(1, "stdout", "x"))
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"failing", "typed", "wildcard"}, order, "type-specific listeners run before wildcard listeners")
}

func TestListenerFailureIsLogged(t *testing.T) {
	t.Parallel()

	sink := testutil.NewMockLoggerSink()
	sink.ExpectError("Recovered from panic").Once()

	processor := NewEventProcessor(NewSessionState(), EventProcessorConfig{Logger: sink.Logger()})
	processor.Subscribe(EventTerminated, NewFuncListener(func(_ dap.EventMessage) { panic("boom") }))
	processor.ProcessEvent(NewTerminatedEvent(1))

	sink.AssertExpectations(t)
}

// valueListener is not comparable, so it cannot be identified for unsubscription.
type valueListener struct {
	seen []string
}

func (l valueListener) OnEvent(_ dap.EventMessage) {}

func TestSubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})
	listener := &recordingListener{}

	assert.True(t, processor.Subscribe(EventStopped, listener))
	assert.False(t, processor.Subscribe(EventStopped, listener), "second subscription of the same listener is a no-op")
	assert.Equal(t, 1, processor.ListenerCount(EventStopped))

	// The same listener may subscribe to a different event type.
	assert.True(t, processor.Subscribe(AnyEvent, listener))

	processor.ProcessEvent(NewStoppedEvent(1, "step", 1))
	assert.Len(t, listener.received(), 2, "one delivery per subscription")

	assert.True(t, processor.Unsubscribe(EventStopped, listener))
	assert.False(t, processor.Unsubscribe(EventStopped, listener))
	assert.False(t, processor.Unsubscribe(EventContinued, &recordingListener{}))
	assert.Equal(t, 1, processor.ListenerCount(AnyEvent))

	assert.False(t, processor.Subscribe(EventStopped, nil))
	assert.False(t, processor.Subscribe(EventStopped, valueListener{}))
}

func TestWaitForEvent(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	processor := newTestProcessor(t, EventProcessorConfig{})

	t.Run("times out without an event", func(t *testing.T) {
		start := time.Now()
		assert.False(t, processor.WaitForEvent(ctx, EventThread, 50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("returns when the event arrives", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			processor.ProcessEvent(NewStoppedEvent(1, "pause", 1))
		}()
		assert.True(t, processor.WaitForEvent(ctx, EventStopped, 5*time.Second))
	})

	t.Run("returns immediately for a past event", func(t *testing.T) {
		start := time.Now()
		assert.True(t, processor.WaitForEvent(ctx, EventStopped, 5*time.Second))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("clearing events resets signals", func(t *testing.T) {
		processor.ClearEvents()
		assert.False(t, processor.HasEvent(EventStopped))
		assert.Empty(t, processor.GetBreakpointEvents())
		assert.False(t, processor.WaitForEvent(ctx, EventStopped, 20*time.Millisecond))
	})
}

func TestListenerMayCallBackIntoProcessor(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor(t, EventProcessorConfig{})

	var sawEvent bool
	var self *FuncListener
	self = NewFuncListener(func(event dap.EventMessage) {
		sawEvent = processor.HasEvent(EventType(event))
		processor.Unsubscribe(EventTerminated, self)
	})
	processor.Subscribe(EventTerminated, self)

	processor.ProcessEvent(NewTerminatedEvent(1))
	assert.True(t, sawEvent, "event should be recorded before listeners run")
	assert.Equal(t, 0, processor.ListenerCount(EventTerminated))
}
