/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

// StubEventAPI stands in for the PublicEventAPI before a session is connected.
// It records subscriptions so they can be absorbed by the real API later, but never delivers events:
// waits resolve immediately (with ErrNotConnected, no events, or WaitOutcomeTimeout respectively).
type StubEventAPI struct {
	log  logr.Logger
	subs subscriptionRegistry
}

var _ EventAPI = (*StubEventAPI)(nil)

func NewStubEventAPI(log logr.Logger) *StubEventAPI {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &StubEventAPI{log: log}
}

func (s *StubEventAPI) SubscribeToEvent(eventType string, handler EventHandler, filter EventFilter) (SubscriptionID, error) {
	if handler == nil {
		return InvalidSubscriptionID, ErrInvalidHandler
	}
	info := s.subs.add(eventType, handler, filter)
	s.log.V(1).Info("Early event subscription recorded", "subscription", info.ID.String(), "event", eventType)
	return info.ID, nil
}

func (s *StubEventAPI) UnsubscribeFromEvent(id SubscriptionID) bool {
	removed, _ := s.subs.remove(id)
	return removed
}

func (s *StubEventAPI) GetActiveSubscriptions() []SubscriptionInfo {
	return s.subs.list()
}

func (s *StubEventAPI) ClearAllSubscriptions() int {
	return len(s.subs.drain())
}

func (s *StubEventAPI) OnStopped(handler EventHandler) (SubscriptionID, error) {
	return s.SubscribeToEvent(EventStopped, handler, nil)
}

func (s *StubEventAPI) OnTerminated(handler EventHandler) (SubscriptionID, error) {
	return s.SubscribeToEvent(EventTerminated, handler, nil)
}

func (s *StubEventAPI) OnContinued(handler EventHandler) (SubscriptionID, error) {
	return s.SubscribeToEvent(EventContinued, handler, nil)
}

func (s *StubEventAPI) OnOutput(handler EventHandler, category string) (SubscriptionID, error) {
	return s.SubscribeToEvent(EventOutput, handler, outputCategoryFilter(category))
}

func (s *StubEventAPI) GetSubscriptionStats() SubscriptionStats {
	return s.subs.stats()
}

func (s *StubEventAPI) WaitForEventAsync(_ context.Context, eventType string, _ time.Duration) <-chan EventResult {
	result := make(chan EventResult, 1)
	result <- EventResult{Err: ErrNotConnected}
	close(result)
	s.log.V(1).Info("Wait for event on a session that is not connected", "event", eventType)
	return result
}

func (s *StubEventAPI) CollectEvents(_ context.Context, _ string, _ int, _ time.Duration) []dap.EventMessage {
	return nil
}

func (s *StubEventAPI) WaitForStoppedOrTerminatedAsync(_ context.Context, _ time.Duration, _ bool) <-chan WaitOutcome {
	result := make(chan WaitOutcome, 1)
	result <- WaitOutcomeTimeout
	close(result)
	return result
}

func (s *StubEventAPI) Cleanup() {
	s.ClearAllSubscriptions()
}

// GetSubscriptions returns the recorded subscriptions grouped by event type.
func (s *StubEventAPI) GetSubscriptions() map[string][]SubscriptionInfo {
	return s.subs.byType()
}

// Drain removes all recorded subscriptions and returns them in creation order.
func (s *StubEventAPI) Drain() []SubscriptionInfo {
	return s.subs.drain()
}
