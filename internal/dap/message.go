// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"sync"
	"time"

	"github.com/google/go-dap"
)

// pendingRequest tracks a request that is awaiting a response.
type pendingRequest struct {
	// command is the request command (for logging).
	command string

	// sentAt is the time the request was written to the transport.
	sentAt time.Time

	// responseChan receives the response. It is buffered (size 1) and is closed
	// without a value if the pending request is drained.
	responseChan chan dap.ResponseMessage
}

// pendingRequestMap is a thread-safe map of pending requests keyed by request sequence number.
type pendingRequestMap struct {
	mu       sync.Mutex
	requests map[int]*pendingRequest
}

func newPendingRequestMap() *pendingRequestMap {
	return &pendingRequestMap{
		requests: make(map[int]*pendingRequest),
	}
}

func (m *pendingRequestMap) Add(seq int, req *pendingRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[seq] = req
}

// Get retrieves and removes a pending request from the map.
// Returns nil if no request exists for the given sequence number.
func (m *pendingRequestMap) Get(seq int) *pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[seq]
	if !ok {
		return nil
	}

	delete(m.requests, seq)
	return req
}

// Remove drops a pending request without completing it, e.g. after the caller gave up waiting.
func (m *pendingRequestMap) Remove(seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, seq)
}

func (m *pendingRequestMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// DrainWithError closes all response channels and clears the map.
// Callers waiting on a drained request observe a closed channel.
func (m *pendingRequestMap) DrainWithError() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := len(m.requests)
	for _, req := range m.requests {
		close(req.responseChan)
	}

	m.requests = make(map[int]*pendingRequest)
	return drained
}

// sequenceCounter provides thread-safe sequence number generation.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{seq: 0}
}

// Next returns the next sequence number.
func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last issued sequence number without incrementing.
func (c *sequenceCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset restarts numbering so that the next issued sequence number is 1.
func (c *sequenceCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
