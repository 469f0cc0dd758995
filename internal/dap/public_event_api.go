/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/ai-debugger-inc/aidb/pkg/resiliency"
)

// PublicEventAPI is the EventAPI backed by a live EventProcessor.
// It attaches a single wildcard listener to the processor while it has at least one subscription or pending wait.
type PublicEventAPI struct {
	processor *EventProcessor
	log       logr.Logger
	subs      subscriptionRegistry
	listener  *FuncListener

	// waiters back the wait helpers. They are not subscriptions: they are not listed, not counted
	// in the statistics and not removed by ClearAllSubscriptions().
	waiters subscriptionRegistry

	eventsDelivered atomic.Int64

	// attachMu serializes subscription changes with attaching/detaching the processor listener.
	attachMu sync.Mutex
	attached bool
}

var _ EventAPI = (*PublicEventAPI)(nil)

func NewPublicEventAPI(processor *EventProcessor, log logr.Logger) *PublicEventAPI {
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	api := &PublicEventAPI{
		processor: processor,
		log:       log,
	}
	api.listener = NewFuncListener(api.dispatch)
	return api
}

func (api *PublicEventAPI) SubscribeToEvent(eventType string, handler EventHandler, filter EventFilter) (SubscriptionID, error) {
	if handler == nil {
		return InvalidSubscriptionID, ErrInvalidHandler
	}

	api.attachMu.Lock()
	defer api.attachMu.Unlock()

	info := api.subs.add(eventType, handler, filter)
	api.attachLocked()
	api.log.V(1).Info("Event subscription created", "subscription", info.ID.String(), "event", eventType)
	return info.ID, nil
}

func (api *PublicEventAPI) UnsubscribeFromEvent(id SubscriptionID) bool {
	api.attachMu.Lock()
	defer api.attachMu.Unlock()

	removed, remaining := api.subs.remove(id)
	if !removed {
		return false
	}
	if remaining == 0 && api.waiters.count() == 0 {
		api.detachLocked()
	}
	api.log.V(1).Info("Event subscription removed", "subscription", id.String())
	return true
}

func (api *PublicEventAPI) GetActiveSubscriptions() []SubscriptionInfo {
	return api.subs.list()
}

// ClearAllSubscriptions removes all subscriptions. Waits in progress are not affected.
func (api *PublicEventAPI) ClearAllSubscriptions() int {
	api.attachMu.Lock()
	defer api.attachMu.Unlock()

	cleared := len(api.subs.drain())
	if api.waiters.count() == 0 {
		api.detachLocked()
	}
	return cleared
}

func (api *PublicEventAPI) OnStopped(handler EventHandler) (SubscriptionID, error) {
	return api.SubscribeToEvent(EventStopped, handler, nil)
}

func (api *PublicEventAPI) OnTerminated(handler EventHandler) (SubscriptionID, error) {
	return api.SubscribeToEvent(EventTerminated, handler, nil)
}

func (api *PublicEventAPI) OnContinued(handler EventHandler) (SubscriptionID, error) {
	return api.SubscribeToEvent(EventContinued, handler, nil)
}

func (api *PublicEventAPI) OnOutput(handler EventHandler, category string) (SubscriptionID, error) {
	return api.SubscribeToEvent(EventOutput, handler, outputCategoryFilter(category))
}

func (api *PublicEventAPI) GetSubscriptionStats() SubscriptionStats {
	stats := api.subs.stats()
	stats.EventsDelivered = api.eventsDelivered.Load()
	return stats
}

func (api *PublicEventAPI) WaitForEventAsync(ctx context.Context, eventType string, timeout time.Duration) <-chan EventResult {
	result := make(chan EventResult, 1)
	received := make(chan dap.EventMessage, 1)

	id := api.addWaiter(eventType, func(event dap.EventMessage) {
		select {
		case received <- event:
		default:
		}
	})

	go func() {
		defer close(result)
		defer api.removeWaiter(id)

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case event := <-received:
			result <- EventResult{Event: event}
		case <-timer.C:
			result <- EventResult{Err: fmt.Errorf("%w: %s (%s)", ErrEventWaitTimeout, eventType, timeout)}
		case <-ctx.Done():
			result <- EventResult{Err: ctx.Err()}
		}
	}()

	return result
}

func (api *PublicEventAPI) CollectEvents(ctx context.Context, eventType string, count int, timeout time.Duration) []dap.EventMessage {
	if count <= 0 {
		return nil
	}

	var mu sync.Mutex
	collected := make([]dap.EventMessage, 0, count)
	full := make(chan struct{})

	id := api.addWaiter(eventType, func(event dap.EventMessage) {
		mu.Lock()
		defer mu.Unlock()
		if len(collected) >= count {
			return
		}
		collected = append(collected, event)
		if len(collected) == count {
			close(full)
		}
	})
	defer api.removeWaiter(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-full:
	case <-timer.C:
		api.log.V(1).Info("Event collection timed out", "event", eventType, "wanted", count)
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]dap.EventMessage(nil), collected...)
}

func (api *PublicEventAPI) WaitForStoppedOrTerminatedAsync(ctx context.Context, timeout time.Duration, edgeTriggered bool) <-chan WaitOutcome {
	result := make(chan WaitOutcome, 1)
	fired := make(chan WaitOutcome, 1)

	signal := func(outcome WaitOutcome) EventHandler {
		return func(_ dap.EventMessage) {
			select {
			case fired <- outcome:
			default:
			}
		}
	}

	// Register before looking at the current state so that a transition in between is not missed.
	// A stopped event that arrives after termination does not stop the session, so it does not count.
	stoppedSignal := signal(WaitOutcomeStopped)
	stoppedID := api.addWaiter(EventStopped, func(event dap.EventMessage) {
		if !api.processor.State().IsTerminated() {
			stoppedSignal(event)
		}
	})
	terminatedID := api.addWaiter(EventTerminated, signal(WaitOutcomeTerminated))

	if !edgeTriggered {
		state := api.processor.State()
		switch {
		case state.IsTerminated():
			signal(WaitOutcomeTerminated)(nil)
		case state.IsStopped():
			signal(WaitOutcomeStopped)(nil)
		}
	}

	go func() {
		defer close(result)
		defer api.removeWaiter(terminatedID)
		defer api.removeWaiter(stoppedID)

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case outcome := <-fired:
			result <- outcome
		case <-timer.C:
			result <- WaitOutcomeTimeout
		case <-ctx.Done():
			result <- WaitOutcomeTimeout
		}
	}()

	return result
}

// Cleanup removes all subscriptions and detaches from the processor.
// Waits still in progress stop receiving events and resolve when their timeout elapses.
func (api *PublicEventAPI) Cleanup() {
	api.attachMu.Lock()
	defer api.attachMu.Unlock()

	cleared := len(api.subs.drain())
	abandoned := len(api.waiters.drain())
	api.detachLocked()
	if cleared > 0 || abandoned > 0 {
		api.log.V(1).Info("Event subscriptions cleaned up", "count", cleared, "abandonedWaits", abandoned)
	}
}

func (api *PublicEventAPI) addWaiter(eventType string, handler EventHandler) SubscriptionID {
	api.attachMu.Lock()
	defer api.attachMu.Unlock()

	info := api.waiters.add(eventType, handler, nil)
	api.attachLocked()
	return info.ID
}

func (api *PublicEventAPI) removeWaiter(id SubscriptionID) {
	api.attachMu.Lock()
	defer api.attachMu.Unlock()

	removed, remaining := api.waiters.remove(id)
	if removed && remaining == 0 && api.subs.count() == 0 {
		api.detachLocked()
	}
}

func (api *PublicEventAPI) pendingWaits() int {
	return api.waiters.count()
}

// Absorb moves all subscriptions registered with the stub into this API, keeping their IDs.
// Absorbed subscriptions count towards TotalCreated. Returns the number of absorbed subscriptions.
func (api *PublicEventAPI) Absorb(stub *StubEventAPI) int {
	if stub == nil {
		return 0
	}

	infos := stub.Drain()
	if len(infos) == 0 {
		return 0
	}

	api.attachMu.Lock()
	defer api.attachMu.Unlock()

	api.subs.adopt(infos)
	api.attachLocked()
	api.log.V(1).Info("Absorbed early event subscriptions", "count", len(infos))
	return len(infos)
}

// Must be called with attachMu held.
func (api *PublicEventAPI) attachLocked() {
	if api.attached {
		return
	}
	api.processor.Subscribe(AnyEvent, api.listener)
	api.attached = true
}

// Must be called with attachMu held.
func (api *PublicEventAPI) detachLocked() {
	if !api.attached {
		return
	}
	api.processor.Unsubscribe(AnyEvent, api.listener)
	api.attached = false
}

func (api *PublicEventAPI) dispatch(event dap.EventMessage) {
	eventType := EventType(event)

	for _, sub := range api.subs.matching(eventType) {
		log := api.log.WithValues("subscription", sub.ID.String(), "event", eventType)

		if sub.Filter != nil {
			accepted := false
			filterErr := resiliency.CallWithRecover(func() {
				accepted = sub.Filter(event)
			}, log)
			if filterErr != nil || !accepted {
				continue
			}
		}

		if handlerErr := resiliency.CallWithRecover(func() { sub.Handler(event) }, log); handlerErr == nil {
			api.eventsDelivered.Add(1)
		}
	}

	for _, waiter := range api.waiters.matching(eventType) {
		_ = resiliency.CallWithRecover(func() { waiter.Handler(event) }, api.log)
	}
}
