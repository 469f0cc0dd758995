/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"
)

// SubscriptionID identifies an event subscription. IDs are unique for the lifetime of the process.
type SubscriptionID uint64

const InvalidSubscriptionID SubscriptionID = 0

var (
	nextSubscriptionID atomic.Uint64
)

func newSubscriptionID() SubscriptionID {
	return SubscriptionID(nextSubscriptionID.Add(1))
}

func (id SubscriptionID) String() string {
	return fmt.Sprintf("sub-%d", uint64(id))
}

// EventHandler is called with every event that matches a subscription.
type EventHandler func(event dap.EventMessage)

// EventFilter decides whether an event is delivered to a subscription handler.
type EventFilter func(event dap.EventMessage) bool

// SubscriptionInfo describes one event subscription.
type SubscriptionInfo struct {
	ID        SubscriptionID
	EventType string
	Handler   EventHandler

	// Filter is optional; nil means every event of EventType is delivered.
	Filter EventFilter

	CreatedAt time.Time
}

// SubscriptionStats summarizes the subscriptions of an EventAPI.
type SubscriptionStats struct {
	// TotalCreated is the number of subscriptions ever created (never decremented).
	TotalCreated int64

	ActiveCount         int
	EventsDelivered     int64
	SubscriptionsByType map[string]int
}

// EventResult is the outcome of waiting for a single event.
type EventResult struct {
	Event dap.EventMessage
	Err   error
}

// WaitOutcome is the result of WaitForStoppedOrTerminatedAsync.
type WaitOutcome string

const (
	WaitOutcomeStopped    WaitOutcome = "stopped"
	WaitOutcomeTerminated WaitOutcome = "terminated"
	WaitOutcomeTimeout    WaitOutcome = "timeout"
)

// EventAPI is the subscription surface for debug session events offered to consumers.
type EventAPI interface {
	// SubscribeToEvent registers a handler for events of the given type (AnyEvent for all events).
	// Returns ErrInvalidHandler if the handler is nil.
	SubscribeToEvent(eventType string, handler EventHandler, filter EventFilter) (SubscriptionID, error)

	// UnsubscribeFromEvent removes a subscription. Returns false if the ID is unknown.
	UnsubscribeFromEvent(id SubscriptionID) bool

	GetActiveSubscriptions() []SubscriptionInfo
	ClearAllSubscriptions() int

	OnStopped(handler EventHandler) (SubscriptionID, error)
	OnTerminated(handler EventHandler) (SubscriptionID, error)
	OnContinued(handler EventHandler) (SubscriptionID, error)

	// OnOutput subscribes to output events. If category is not empty, only output of that category is delivered.
	OnOutput(handler EventHandler, category string) (SubscriptionID, error)

	GetSubscriptionStats() SubscriptionStats

	// WaitForEventAsync returns a channel that receives the next event of the given type,
	// or an error wrapping ErrEventWaitTimeout if none arrives within the timeout.
	WaitForEventAsync(ctx context.Context, eventType string, timeout time.Duration) <-chan EventResult

	// CollectEvents gathers up to count events of the given type. Fewer events are returned if the timeout elapses.
	CollectEvents(ctx context.Context, eventType string, count int, timeout time.Duration) []dap.EventMessage

	// WaitForStoppedOrTerminatedAsync resolves with the first of stopped, terminated or timeout.
	// Unless edgeTriggered is set, a session that is already stopped or terminated resolves immediately.
	WaitForStoppedOrTerminatedAsync(ctx context.Context, timeout time.Duration, edgeTriggered bool) <-chan WaitOutcome

	// Cleanup removes all subscriptions. It is safe to call more than once.
	Cleanup()
}

// outputCategoryFilter returns a filter that accepts output events of the given category, or nil for any category.
func outputCategoryFilter(category string) EventFilter {
	if category == "" {
		return nil
	}
	return func(event dap.EventMessage) bool {
		return OutputCategory(event) == category
	}
}

// subscriptionRegistry is the goroutine-safe set of subscriptions shared by the event API implementations.
// Subscriptions are kept in creation order.
type subscriptionRegistry struct {
	mu           sync.Mutex
	subs         []SubscriptionInfo
	totalCreated int64
}

func (r *subscriptionRegistry) add(eventType string, handler EventHandler, filter EventFilter) SubscriptionInfo {
	info := SubscriptionInfo{
		ID:        newSubscriptionID(),
		EventType: eventType,
		Handler:   handler,
		Filter:    filter,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, info)
	r.totalCreated++
	return info
}

// adopt adds subscriptions created elsewhere, keeping their IDs, and counts them as created here.
func (r *subscriptionRegistry) adopt(infos []SubscriptionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, infos...)
	slices.SortStableFunc(r.subs, func(a, b SubscriptionInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	r.totalCreated += int64(len(infos))
}

func (r *subscriptionRegistry) remove(id SubscriptionID) (removed bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.subs, func(s SubscriptionInfo) bool { return s.ID == id })
	if i < 0 {
		return false, len(r.subs)
	}
	r.subs = slices.Delete(r.subs, i, i+1)
	return true, len(r.subs)
}

// drain removes and returns all subscriptions.
func (r *subscriptionRegistry) drain() []SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.subs
	r.subs = nil
	return drained
}

func (r *subscriptionRegistry) list() []SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.subs)
}

func (r *subscriptionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// matching returns subscriptions for the event type followed by wildcard subscriptions.
func (r *subscriptionRegistry) matching(eventType string) []SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var typed, wildcard []SubscriptionInfo
	for _, s := range r.subs {
		switch s.EventType {
		case eventType:
			typed = append(typed, s)
		case AnyEvent:
			wildcard = append(wildcard, s)
		}
	}
	return append(typed, wildcard...)
}

func (r *subscriptionRegistry) byType() map[string][]SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	retval := make(map[string][]SubscriptionInfo)
	for _, s := range r.subs {
		retval[s.EventType] = append(retval[s.EventType], s)
	}
	return retval
}

func (r *subscriptionRegistry) stats() SubscriptionStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	byType := make(map[string]int)
	for _, s := range r.subs {
		byType[s.EventType]++
	}
	return SubscriptionStats{
		TotalCreated:        r.totalCreated,
		ActiveCount:         len(r.subs),
		SubscriptionsByType: byType,
	}
}
