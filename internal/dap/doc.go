/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap implements the client side runtime of a Debug Adapter Protocol (DAP) debug session:
the connection to a debug adapter, the processing of the events it emits,
and the subscription surface through which consumers observe the session.

# Key Components

  - SessionState: the shared record of the session (connected, stopped, terminated, loaded modules, counters)
  - EventProcessor: applies incoming events to the SessionState and notifies listeners
  - ConnectionManager: connect/disconnect/reconnect lifecycle, recovery and health reporting
  - PublicEventAPI: subscriptions with filtering, waiting and collection, backed by the EventProcessor
  - StubEventAPI: records subscriptions made before the session is connected
  - MessageReceiver and SequencedRequestHandler: the read loop and request/response correlation
  - Session: wires all of the above to a Transport

Transports are available for TCP and Unix sockets (NewSocketTransport), WebSocket endpoints
(NewWebSocketTransport) and stdio stream pairs (NewStdioTransport).

# Message Flow

 1. The MessageReceiver reads framed messages from the Transport
 2. Events and responses are queued and dispatched, in receive order, by a single goroutine
 3. Events go to the EventProcessor, which updates the SessionState, then notifies type-specific listeners, then wildcard listeners
 4. Responses complete the pending request with the matching sequence number

# Usage

	session, _ := dap.NewSession(dap.SessionConfig{
		Transport: dap.NewSocketTransport("tcp", "localhost:5678"),
		Logger:    log,
	})

	// Subscriptions made before Start() are carried over.
	session.Events().OnStopped(func(event godap.EventMessage) { ... })

	if err := session.Start(ctx, 10*time.Second); err != nil {
		return err
	}
	defer session.Close(ctx, true)

# Listener Isolation

A panic in a listener, subscription handler or filter is recovered and logged;
the remaining listeners still receive the event.
*/
package dap
