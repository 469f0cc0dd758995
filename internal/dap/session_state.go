/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"maps"
	"sync"
	"time"

	"github.com/google/go-dap"
)

// SessionData is the set of fields tracked for one debug session.
// Values returned from SessionState.Snapshot() are copies and can be used freely.
type SessionData struct {
	Connected             bool
	Initialized           bool
	Stopped               bool
	Terminated            bool
	SessionEstablished    bool
	ReadyForConfiguration bool

	// StopReason and CurrentThreadID are only meaningful while Stopped is true.
	StopReason      string
	CurrentThreadID *int

	// LoadedModules maps stringified module IDs to the last module data reported by the adapter.
	LoadedModules map[string]dap.Module

	ConnectionStartTime time.Time
	LastResponseTime    time.Time

	TotalRequestsSent      int64
	TotalResponsesReceived int64
}

// SessionState is the single shared record of a debug session's state.
// It is written by the ConnectionManager, the EventProcessor and the request handler,
// and read by everybody else through Snapshot().
type SessionState struct {
	mu   sync.RWMutex
	data SessionData
}

func NewSessionState() *SessionState {
	return &SessionState{
		data: SessionData{
			LoadedModules: make(map[string]dap.Module),
		},
	}
}

// Snapshot returns a point-in-time copy of the session data.
func (s *SessionState) Snapshot() SessionData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retval := s.data
	retval.LoadedModules = maps.Clone(s.data.LoadedModules)
	if s.data.CurrentThreadID != nil {
		threadID := *s.data.CurrentThreadID
		retval.CurrentThreadID = &threadID
	}
	return retval
}

// Update applies a mutation to the session data while holding the state lock.
// The mutation function must not call back into the SessionState.
func (s *SessionState) Update(mutate func(d *SessionData)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.data)
}

func (s *SessionState) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Connected
}

func (s *SessionState) IsStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Stopped
}

func (s *SessionState) IsTerminated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Terminated
}

// RecordRequestSent increments the sent-requests counter.
func (s *SessionState) RecordRequestSent() {
	s.Update(func(d *SessionData) {
		d.TotalRequestsSent++
	})
}

// RecordResponseReceived increments the received-responses counter and refreshes the last response time.
func (s *SessionState) RecordResponseReceived() {
	s.Update(func(d *SessionData) {
		d.TotalResponsesReceived++
		d.LastResponseTime = time.Now()
	})
}

// setStopped marks the session stopped. It never leaves the session both stopped and terminated.
func (d *SessionData) setStopped(reason string, threadID int) {
	d.Stopped = true
	d.StopReason = reason
	d.CurrentThreadID = &threadID
}

func (d *SessionData) clearStopped() {
	d.Stopped = false
	d.StopReason = ""
	d.CurrentThreadID = nil
}

func (d *SessionData) setTerminated() {
	d.Terminated = true
	d.SessionEstablished = false
	d.clearStopped()
}
