/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"net"
	"sync"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal debug adapter listening on a TCP port.
// It answers initialize, threads and disconnect requests, and can push events to the latest connection.
type fakeAdapter struct {
	t        *testing.T
	listener net.Listener
	requests chan dap.RequestMessage

	mu          sync.Mutex
	conn        net.Conn
	connections int
	seq         int
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	t.Helper()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)

	a := &fakeAdapter{
		t:        t,
		listener: listener,
		requests: make(chan dap.RequestMessage, 100),
	}
	go a.acceptLoop()
	t.Cleanup(a.close)
	return a
}

func (a *fakeAdapter) address() string {
	return a.listener.Addr().String()
}

func (a *fakeAdapter) acceptLoop() {
	for {
		conn, acceptErr := a.listener.Accept()
		if acceptErr != nil {
			return
		}

		a.mu.Lock()
		a.conn = conn
		a.connections++
		a.mu.Unlock()

		go a.serve(conn)
	}
}

func (a *fakeAdapter) serve(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		msg, readErr := dap.ReadProtocolMessage(reader)
		if readErr != nil {
			return
		}

		req, isRequest := msg.(dap.RequestMessage)
		if !isRequest {
			continue
		}
		a.requests <- req

		request := req.GetRequest()
		response := dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Type: "response"},
			Command:         request.Command,
			RequestSeq:      request.Seq,
			Success:         true,
		}

		switch req.(type) {
		case *dap.InitializeRequest:
			a.write(conn, &dap.InitializeResponse{
				Response: response,
				Body:     dap.Capabilities{SupportsConfigurationDoneRequest: true},
			})
			a.write(conn, &dap.InitializedEvent{Event: a.event(EventInitialized)})

		case *dap.ThreadsRequest:
			a.write(conn, &dap.ThreadsResponse{
				Response: response,
				Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "main"}}},
			})

		case *dap.DisconnectRequest:
			a.write(conn, &dap.DisconnectResponse{Response: response})
			a.write(conn, &dap.TerminatedEvent{Event: a.event(EventTerminated)})

		default:
			response.Success = false
			response.Message = "unsupported"
			a.write(conn, &dap.ErrorResponse{Response: response})
		}
	}
}

func (a *fakeAdapter) event(name string) dap.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return newEvent(a.seq, name)
}

func (a *fakeAdapter) write(conn net.Conn, msg dap.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = dap.WriteProtocolMessage(conn, msg)
}

// sendStopped pushes a stopped event to the most recent connection.
func (a *fakeAdapter) sendStopped(reason string, threadID int) *dap.StoppedEvent {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	event := &dap.StoppedEvent{
		Event: a.event(EventStopped),
		Body:  dap.StoppedEventBody{Reason: reason, ThreadId: threadID},
	}
	a.write(conn, event)
	return event
}

// dropConnection closes the most recent connection, as if the adapter crashed.
func (a *fakeAdapter) dropConnection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

func (a *fakeAdapter) connectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connections
}

func (a *fakeAdapter) close() {
	_ = a.listener.Close()
	a.dropConnection()
}
