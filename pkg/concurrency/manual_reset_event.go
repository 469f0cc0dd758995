// Copyright (c) Microsoft Corporation. All rights reserved.

package concurrency

import (
	"context"
	"sync"
)

// ManualResetEvent is a level-triggered signal: once Set, it stays set (and every waiter is released)
// until Reset is called.
type ManualResetEvent struct {
	lock    *sync.Mutex
	channel chan struct{}
	set     bool
}

func NewManualResetEvent(initialState bool) *ManualResetEvent {
	retval := &ManualResetEvent{
		lock:    &sync.Mutex{},
		channel: make(chan struct{}),
	}
	if initialState {
		retval.Set()
	}
	return retval
}

// WaitChannel returns a channel that is closed when the event is set.
// The channel obtained before a Reset() stays closed; call WaitChannel() again to wait for the next Set().
func (e *ManualResetEvent) WaitChannel() <-chan struct{} {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.channel
}

func (e *ManualResetEvent) Set() {
	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.set {
		e.set = true
		close(e.channel)
	}
}

func (e *ManualResetEvent) Reset() {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.set {
		e.set = false
		e.channel = make(chan struct{})
	}
}

func (e *ManualResetEvent) IsSet() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.set
}

// Wait blocks until the event is set or the context is done.
// Returns true if the event was set.
func (e *ManualResetEvent) Wait(ctx context.Context) bool {
	select {
	case <-e.WaitChannel():
		return true
	case <-ctx.Done():
		return false
	}
}
