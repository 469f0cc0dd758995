/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/google/uuid"
)

// SessionConfig holds the configuration for creating a Session.
type SessionConfig struct {
	// Transport is the connection to the debug adapter. Required.
	Transport Transport

	// ConnectTimeout is used by Start() and Reconnect() when no timeout is passed.
	// If zero, DefaultConnectTimeout is used.
	ConnectTimeout time.Duration

	// DisableAutoRecovery turns off the automatic reconnection after an unexpected connection loss.
	DisableAutoRecovery bool

	Connection ConnectionManagerConfig
	Events     EventProcessorConfig
	Requests   RequestHandlerConfig

	// Logger for the session. Component configs without a logger inherit it.
	Logger logr.Logger
}

// Session wires together the components of one debug adapter connection:
// the session state, event processor, connection manager, request handler and receiver.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	transport  Transport
	config     SessionConfig
	log        logr.Logger
	state      *SessionState
	processor  *EventProcessor
	connection *ConnectionManager
	requests   *SequencedRequestHandler
	stub       *StubEventAPI

	// lifetimeCtx is cancelled when the session is closed.
	lifetimeCtx    context.Context
	lifetimeCancel context.CancelFunc

	// recoveryCtx is cancelled as soon as Close() starts, ahead of the disconnect.
	recoveryCtx    context.Context
	recoveryCancel context.CancelFunc
	recoveries     sync.WaitGroup

	mu       sync.Mutex
	events   *PublicEventAPI
	receiver *MessageReceiver
	closed   bool
}

func NewSession(config SessionConfig) (*Session, error) {
	if config.Transport == nil {
		return nil, errors.New("session requires a transport")
	}

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	id := uuid.New().String()
	log = log.WithValues("session", id)
	inheritLogger(&config.Connection.Logger, log.WithName("connection"))
	inheritLogger(&config.Events.Logger, log.WithName("events"))
	inheritLogger(&config.Requests.Logger, log.WithName("requests"))

	state := NewSessionState()
	s := &Session{
		ID:         id,
		transport:  config.Transport,
		config:     config,
		log:        log,
		state:      state,
		processor:  NewEventProcessor(state, config.Events),
		connection: NewConnectionManager(config.Transport, state, config.Connection),
		requests:   NewSequencedRequestHandler(config.Transport, state, config.Requests),
		stub:       NewStubEventAPI(log.WithName("stub")),
	}
	s.lifetimeCtx, s.lifetimeCancel = context.WithCancel(context.Background())
	s.recoveryCtx, s.recoveryCancel = context.WithCancel(s.lifetimeCtx)
	s.connection.SetRequestHandler(s.requests)

	return s, nil
}

func inheritLogger(target *logr.Logger, log logr.Logger) {
	if target.GetSink() == nil {
		*target = log
	}
}

// Events returns the event subscription surface. Before Start() succeeds this is a stub
// whose subscriptions are carried over to the live API.
func (s *Session) Events() EventAPI {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events != nil {
		return s.events
	}
	return s.stub
}

// State returns a snapshot of the session state.
func (s *Session) State() SessionData {
	return s.state.Snapshot()
}

func (s *Session) Processor() *EventProcessor {
	return s.processor
}

func (s *Session) Connection() *ConnectionManager {
	return s.connection
}

// Start connects to the debug adapter and starts receiving messages.
// A non-positive timeout means the configured connect timeout.
func (s *Session) Start(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("session is closed")
	}

	if timeout <= 0 {
		timeout = s.config.ConnectTimeout
	}

	if connectErr := s.connection.Connect(ctx, timeout); connectErr != nil {
		return connectErr
	}

	// Early subscriptions are carried over before any event can be received.
	s.mu.Lock()
	if s.events == nil {
		s.events = NewPublicEventAPI(s.processor, s.log.WithName("api"))
	}
	events := s.events
	s.mu.Unlock()
	events.Absorb(s.stub)

	if receiverErr := s.startReceiver(); receiverErr != nil {
		s.connection.Disconnect(ctx, false, true)
		return receiverErr
	}

	s.log.Info("Debug session started")
	return nil
}

func (s *Session) startReceiver() error {
	receiver := NewMessageReceiver(s.transport, s.processor, s.requests, ReceiverConfig{
		OnConnectionLost: s.onConnectionLost,
		Logger:           s.log.WithName("receiver"),
	})

	s.mu.Lock()
	previous := s.receiver
	s.receiver = receiver
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	s.connection.SetReceiver(receiver)
	return receiver.Start(s.lifetimeCtx)
}

func (s *Session) onConnectionLost(lostContext string, err error) {
	if !s.connection.HandleConnectionLost(lostContext, err) || s.config.DisableAutoRecovery {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.recoveries.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.recoveries.Done()

		if !s.connection.AttemptRecovery(s.recoveryCtx) || s.recoveryCtx.Err() != nil {
			return
		}
		if receiverErr := s.startReceiver(); receiverErr != nil {
			s.log.Error(receiverErr, "Could not restart the receiver after recovery")
		}
	}()
}

// SendRequest sends a request to the debug adapter and waits for the response.
func (s *Session) SendRequest(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	if !s.connection.IsConnected() {
		return nil, ErrNotConnected
	}
	return s.requests.SendRequest(ctx, req)
}

// Initialize performs the initialize handshake and marks the session established.
func (s *Session) Initialize(ctx context.Context, args dap.InitializeRequestArguments) (*dap.InitializeResponse, error) {
	req := &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Type: "request"},
			Command:         "initialize",
		},
		Arguments: args,
	}

	resp, sendErr := s.SendRequest(ctx, req)
	if sendErr != nil {
		return nil, sendErr
	}

	if !resp.GetResponse().Success {
		return nil, fmt.Errorf("initialize request failed: %s", resp.GetResponse().Message)
	}

	initResp, ok := resp.(*dap.InitializeResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type for initialize: %T", resp)
	}

	s.state.Update(func(d *SessionData) {
		d.SessionEstablished = true
	})
	return initResp, nil
}

// Reconnect re-establishes the connection and restarts the receiver. Returns true on success.
func (s *Session) Reconnect(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = s.config.ConnectTimeout
	}
	if !s.connection.Reconnect(ctx, timeout) {
		return false
	}
	if receiverErr := s.startReceiver(); receiverErr != nil {
		s.log.Error(receiverErr, "Could not restart the receiver after reconnect")
		return false
	}
	return true
}

// Close disconnects from the debug adapter and removes all event subscriptions.
// A connection recovery that is in progress is abandoned.
func (s *Session) Close(ctx context.Context, terminateDebuggee bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	events := s.events
	s.mu.Unlock()

	s.recoveryCancel()
	s.recoveries.Wait()

	s.connection.Disconnect(ctx, terminateDebuggee, false)
	s.lifetimeCancel()

	if events != nil {
		events.Cleanup()
	}
	s.stub.Cleanup()
	s.log.Info("Debug session closed")
}
