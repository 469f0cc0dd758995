/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/go-dap"
)

var errMockConnectFailed = errors.New("mock connect failed")

// mockTransport is an in-memory Transport. Messages pushed with deliver() are returned by ReadMessage().
type mockTransport struct {
	mu              sync.Mutex
	connected       bool
	connectCalls    int
	disconnectCalls int

	// failConnects is the number of leading Connect() calls that fail; -1 means all of them.
	failConnects int

	written []dap.Message
	onWrite func(msg dap.Message)

	incoming chan dap.Message
	dropped  chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		incoming: make(chan dap.Message, 100),
		dropped:  make(chan struct{}),
	}
}

func (m *mockTransport) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls++
	if m.failConnects < 0 || m.connectCalls <= m.failConnects {
		return errMockConnectFailed
	}
	if !m.connected {
		m.connected = true
		m.dropped = make(chan struct{})
	}
	return nil
}

func (m *mockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnectCalls++
	m.dropLocked()
	return nil
}

// drop simulates the adapter going away.
func (m *mockTransport) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked()
}

func (m *mockTransport) dropLocked() {
	if m.connected {
		m.connected = false
		close(m.dropped)
	}
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) ReadMessage() (dap.Message, error) {
	m.mu.Lock()
	dropped := m.dropped
	connected := m.connected
	m.mu.Unlock()

	if !connected {
		return nil, io.EOF
	}

	select {
	case msg := <-m.incoming:
		return msg, nil
	case <-dropped:
		return nil, io.EOF
	}
}

func (m *mockTransport) WriteMessage(msg dap.Message) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.written = append(m.written, msg)
	onWrite := m.onWrite
	m.mu.Unlock()

	if onWrite != nil {
		onWrite(msg)
	}
	return nil
}

func (m *mockTransport) deliver(msg dap.Message) {
	m.incoming <- msg
}

func (m *mockTransport) writtenMessages() []dap.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dap.Message(nil), m.written...)
}

func (m *mockTransport) counts() (connects int, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls, m.disconnectCalls
}

// mockReceiver records Stop() calls.
type mockReceiver struct {
	mu        sync.Mutex
	running   bool
	stopCalls int
}

func (r *mockReceiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls++
	r.running = false
}

func (r *mockReceiver) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// mockRequestHandler records calls and fails SendRequest with sendErr if set.
type mockRequestHandler struct {
	mu         sync.Mutex
	sendErr    error
	sent       []dap.RequestMessage
	initCalls  int
	clearCalls int
	pending    int
	seq        int
}

func (h *mockRequestHandler) InitializeSequence() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initCalls++
	h.seq = 0
}

func (h *mockRequestHandler) SendRequest(_ context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	h.sent = append(h.sent, req)
	if h.sendErr != nil {
		return nil, h.sendErr
	}
	return &dap.DisconnectResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Type: "response"},
			Command:         req.GetRequest().Command,
			RequestSeq:      h.seq,
			Success:         true,
		},
	}, nil
}

func (h *mockRequestHandler) ClearPendingRequests() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearCalls++
	h.pending = 0
}

func (h *mockRequestHandler) PendingRequestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

func (h *mockRequestHandler) CurrentSequence() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

var (
	_ Transport      = (*mockTransport)(nil)
	_ Receiver       = (*mockReceiver)(nil)
	_ RequestHandler = (*mockRequestHandler)(nil)
)
