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

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/ai-debugger-inc/aidb/pkg/resiliency"
)

const (
	DefaultConnectTimeout         = 10 * time.Second
	DefaultConnectRetryInterval   = 200 * time.Millisecond
	DefaultDisconnectTimeout      = 5 * time.Second
	DefaultRecoveryAttempts       = 3
	DefaultRecoveryInitialDelay   = 500 * time.Millisecond
	DefaultRecoveryAttemptTimeout = 5 * time.Second

	// ConnectionLostOnDisconnect is the context reported for a connection drop caused by an intentional disconnect.
	ConnectionLostOnDisconnect = "disconnect"
)

// Receiver is the component that reads messages from the transport.
type Receiver interface {
	Stop()
	IsRunning() bool
}

// RequestHandler sends requests to the debug adapter and tracks the ones awaiting a response.
type RequestHandler interface {
	// InitializeSequence restarts request numbering for a new connection.
	InitializeSequence()

	SendRequest(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error)

	// ClearPendingRequests abandons all requests waiting for a response.
	ClearPendingRequests()

	PendingRequestCount() int
	CurrentSequence() int
}

// ConnectionState is the lifecycle state of the ConnectionManager.
type ConnectionState int32

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnecting
	ConnectionStateRecovering
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnecting:
		return "disconnecting"
	case ConnectionStateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// ConnectionManagerConfig holds the configuration for creating a ConnectionManager.
type ConnectionManagerConfig struct {
	// RetryInterval is the delay between transport connection attempts.
	// If zero, DefaultConnectRetryInterval is used.
	RetryInterval time.Duration

	// DisconnectTimeout bounds the wait for the disconnect response.
	// If zero, DefaultDisconnectTimeout is used.
	DisconnectTimeout time.Duration

	// RecoveryAttempts is the number of reconnection attempts made by AttemptRecovery().
	// If zero, DefaultRecoveryAttempts is used.
	RecoveryAttempts int

	// RecoveryInitialDelay is the delay before the second recovery attempt; later delays grow exponentially.
	// If zero, DefaultRecoveryInitialDelay is used.
	RecoveryInitialDelay time.Duration

	// RecoveryAttemptTimeout bounds a single recovery connection attempt.
	// If zero, DefaultRecoveryAttemptTimeout is used.
	RecoveryAttemptTimeout time.Duration

	// Logger for connection lifecycle events. If not set, logging is disabled.
	Logger logr.Logger
}

// ConnectionStatus is a point-in-time health report of the connection.
type ConnectionStatus struct {
	State              ConnectionState
	Connected          bool
	TransportConnected bool
	ReceiverRunning    bool

	// PendingRequests and CurrentSequence are only meaningful if HasRequestHandler is true.
	HasRequestHandler bool
	PendingRequests   int
	CurrentSequence   int

	TotalRequestsSent      int64
	TotalResponsesReceived int64

	// SuccessRate is the ratio of responses received to requests sent.
	// With no requests sent, SuccessRate is 1 and ErrorRate is 0.
	SuccessRate float64
	ErrorRate   float64

	ConnectionStartTime time.Time
	LastResponseTime    time.Time
}

// ConnectionManager owns the connect/disconnect/reconnect lifecycle of one debug adapter connection.
type ConnectionManager struct {
	transport Transport
	state     *SessionState
	config    ConnectionManagerConfig
	log       logr.Logger

	// lifecycleMu serializes Connect, Disconnect, Reconnect and AttemptRecovery.
	// HandleConnectionLost never takes it, because it is called from the receive loop,
	// which the lifecycle operations may be stopping.
	lifecycleMu sync.Mutex

	connState atomic.Int32

	// mu protects receiver and requestHandler
	mu             sync.Mutex
	receiver       Receiver
	requestHandler RequestHandler
}

func NewConnectionManager(transport Transport, state *SessionState, config ConnectionManagerConfig) *ConnectionManager {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultConnectRetryInterval
	}
	if config.DisconnectTimeout <= 0 {
		config.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if config.RecoveryAttempts <= 0 {
		config.RecoveryAttempts = DefaultRecoveryAttempts
	}
	if config.RecoveryInitialDelay <= 0 {
		config.RecoveryInitialDelay = DefaultRecoveryInitialDelay
	}
	if config.RecoveryAttemptTimeout <= 0 {
		config.RecoveryAttemptTimeout = DefaultRecoveryAttemptTimeout
	}

	return &ConnectionManager{
		transport: transport,
		state:     state,
		config:    config,
		log:       log,
	}
}

// SetReceiver attaches the receiver that is stopped on disconnect. Passing nil detaches it.
func (cm *ConnectionManager) SetReceiver(receiver Receiver) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.receiver = receiver
}

// SetRequestHandler attaches the handler used for sequence numbering and the disconnect request.
func (cm *ConnectionManager) SetRequestHandler(handler RequestHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.requestHandler = handler
}

func (cm *ConnectionManager) collaborators() (Receiver, RequestHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.receiver, cm.requestHandler
}

func (cm *ConnectionManager) State() ConnectionState {
	return ConnectionState(cm.connState.Load())
}

func (cm *ConnectionManager) setState(s ConnectionState) {
	prev := ConnectionState(cm.connState.Swap(int32(s)))
	if prev != s {
		cm.log.V(1).Info("Connection state changed", "from", prev.String(), "to", s.String())
	}
}

// IsConnected returns true if both the transport and the session consider the connection live.
func (cm *ConnectionManager) IsConnected() bool {
	return cm.transport.IsConnected() && cm.state.IsConnected()
}

// Connect connects the transport, retrying until it succeeds or the timeout elapses.
// Connecting an already connected manager is a no-op.
// A non-positive timeout means DefaultConnectTimeout.
// Returns an error wrapping ErrConnectionTimeout (and the last attempt error) if the deadline passes.
func (cm *ConnectionManager) Connect(ctx context.Context, timeout time.Duration) error {
	cm.lifecycleMu.Lock()
	defer cm.lifecycleMu.Unlock()
	return cm.connectLocked(ctx, timeout)
}

func (cm *ConnectionManager) connectLocked(ctx context.Context, timeout time.Duration) error {
	if cm.IsConnected() {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	cm.setState(ConnectionStateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 0
	start := time.Now()
	err := resiliency.Retry(connectCtx, backoff.NewConstantBackOff(cm.config.RetryInterval), func() error {
		attempts++
		return cm.transport.Connect(connectCtx)
	}, func(err error, next time.Duration) {
		cm.log.V(1).Info("Connection attempt failed, retrying",
			"attempt", attempts,
			"retryIn", next,
			"error", err.Error())
	})
	if err != nil {
		cm.setState(ConnectionStateDisconnected)
		if ctx.Err() != nil {
			return fmt.Errorf("connection attempt cancelled: %w", err)
		}
		return fmt.Errorf("%w: could not connect within %s (%d attempts): %w", ErrConnectionTimeout, timeout, attempts, err)
	}

	cm.markConnected()

	_, handler := cm.collaborators()
	if handler != nil {
		handler.InitializeSequence()
	}

	cm.setState(ConnectionStateConnected)
	cm.log.Info("Connected to debug adapter", "attempts", attempts, "elapsed", time.Since(start))
	return nil
}

func (cm *ConnectionManager) markConnected() {
	now := time.Now()
	cm.state.Update(func(d *SessionData) {
		d.Connected = true
		d.ConnectionStartTime = now
		d.LastResponseTime = now
	})
}

// Disconnect ends the connection. Unless skipRequest is set, a disconnect request carrying
// terminateDebuggee is sent first; failure to send it (or a timeout) does not stop the cleanup.
// The transport is always closed, the receiver stopped and pending requests cleared.
func (cm *ConnectionManager) Disconnect(ctx context.Context, terminateDebuggee bool, skipRequest bool) {
	cm.lifecycleMu.Lock()
	defer cm.lifecycleMu.Unlock()

	cm.setState(ConnectionStateDisconnecting)
	defer func() {
		cm.cleanup()
		cm.setState(ConnectionStateDisconnected)
		cm.log.Info("Disconnected from debug adapter")
	}()

	_, handler := cm.collaborators()
	if skipRequest || handler == nil || !cm.state.IsConnected() {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, cm.config.DisconnectTimeout)
	defer cancel()

	req := &dap.DisconnectRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Type: "request"},
			Command:         "disconnect",
		},
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	}
	_, sendErr := handler.SendRequest(reqCtx, req)
	if sendErr = filterContextError(sendErr, ctx, cm.log); sendErr != nil {
		cm.log.V(1).Info("Disconnect request failed, continuing with cleanup", "error", sendErr.Error())
	}
}

// cleanup closes the transport, stops the receiver, clears pending requests and resets connection flags.
func (cm *ConnectionManager) cleanup() {
	if closeErr := cm.transport.Disconnect(); closeErr != nil {
		cm.log.V(1).Info("Error closing transport", "error", closeErr.Error())
	}

	receiver, handler := cm.collaborators()
	if receiver != nil {
		receiver.Stop()
	}
	if handler != nil {
		handler.ClearPendingRequests()
	}

	cm.state.Update(func(d *SessionData) {
		d.Connected = false
		d.Initialized = false
		d.SessionEstablished = false
		d.ReadyForConfiguration = false
	})
}

// Reconnect tears the connection down (without sending a disconnect request),
// clears the terminated flag and connects again. Returns true on success.
func (cm *ConnectionManager) Reconnect(ctx context.Context, timeout time.Duration) bool {
	cm.lifecycleMu.Lock()
	defer cm.lifecycleMu.Unlock()

	cm.log.Info("Reconnecting to debug adapter")
	cm.setState(ConnectionStateDisconnecting)
	cm.cleanup()
	cm.state.Update(func(d *SessionData) {
		d.Terminated = false
		d.clearStopped()
	})
	cm.setState(ConnectionStateDisconnected)

	if connectErr := cm.connectLocked(ctx, timeout); connectErr != nil {
		cm.log.Error(connectErr, "Reconnection failed")
		return false
	}
	return true
}

// HandleConnectionLost records an unexpected loss of the connection: the session is marked
// disconnected and pending requests are cleared. Returns true if the loss was unexpected,
// i.e. recovery is warranted. A drop caused by an intentional disconnect is not unexpected.
func (cm *ConnectionManager) HandleConnectionLost(lostContext string, err error) bool {
	current := cm.State()

	cm.state.Update(func(d *SessionData) {
		d.Connected = false
	})
	_, handler := cm.collaborators()
	if handler != nil {
		handler.ClearPendingRequests()
	}

	if lostContext == ConnectionLostOnDisconnect || current == ConnectionStateDisconnecting {
		cm.log.V(1).Info("Connection closed during disconnect", "context", lostContext)
		return false
	}
	if current != ConnectionStateConnected {
		cm.log.V(1).Info("Connection loss reported while not connected", "context", lostContext, "state", current.String())
		return false
	}

	cm.log.Error(err, "Connection to debug adapter lost", "context", lostContext)
	cm.connState.CompareAndSwap(int32(ConnectionStateConnected), int32(ConnectionStateDisconnected))
	return true
}

// AttemptRecovery tries to re-establish the transport connection, closing and reopening it
// up to the configured number of attempts with exponential backoff between them.
// Returns false (leaving the session disconnected) if all attempts fail.
func (cm *ConnectionManager) AttemptRecovery(ctx context.Context) bool {
	cm.lifecycleMu.Lock()
	defer cm.lifecycleMu.Unlock()

	cm.setState(ConnectionStateRecovering)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cm.config.RecoveryInitialDelay
	b.MaxElapsedTime = 0

	attempt := 0
	err := resiliency.Retry(ctx, backoff.WithMaxRetries(b, uint64(cm.config.RecoveryAttempts-1)), func() error {
		attempt++
		cm.log.Info("Attempting connection recovery", "attempt", attempt, "maxAttempts", cm.config.RecoveryAttempts)

		if closeErr := cm.transport.Disconnect(); closeErr != nil {
			cm.log.V(1).Info("Error closing transport before recovery attempt", "error", closeErr.Error())
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cm.config.RecoveryAttemptTimeout)
		defer cancel()
		return cm.transport.Connect(attemptCtx)
	}, func(err error, next time.Duration) {
		cm.log.V(1).Info("Recovery attempt failed", "attempt", attempt, "retryIn", next, "error", err.Error())
	})

	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("connection recovery cancelled: %w", ctx.Err())
		if closeErr := cm.transport.Disconnect(); closeErr != nil {
			cm.log.V(1).Info("Error closing transport after cancelled recovery", "error", closeErr.Error())
		}
	}

	if err != nil {
		cm.log.Error(err, "Connection recovery failed", "attempts", attempt)
		cm.state.Update(func(d *SessionData) {
			d.Connected = false
		})
		cm.setState(ConnectionStateDisconnected)
		return false
	}

	cm.markConnected()
	_, handler := cm.collaborators()
	if handler != nil {
		handler.InitializeSequence()
	}
	cm.setState(ConnectionStateConnected)
	cm.log.Info("Connection recovered", "attempts", attempt)
	return true
}

// GetConnectionStatus returns a health report of the connection.
func (cm *ConnectionManager) GetConnectionStatus() ConnectionStatus {
	data := cm.state.Snapshot()
	receiver, handler := cm.collaborators()

	status := ConnectionStatus{
		State:                  cm.State(),
		Connected:              data.Connected,
		TransportConnected:     cm.transport.IsConnected(),
		TotalRequestsSent:      data.TotalRequestsSent,
		TotalResponsesReceived: data.TotalResponsesReceived,
		SuccessRate:            1.0,
		ErrorRate:              0.0,
		ConnectionStartTime:    data.ConnectionStartTime,
		LastResponseTime:       data.LastResponseTime,
	}

	if receiver != nil {
		status.ReceiverRunning = receiver.IsRunning()
	}
	if handler != nil {
		status.HasRequestHandler = true
		status.PendingRequests = handler.PendingRequestCount()
		status.CurrentSequence = handler.CurrentSequence()
	}

	if data.TotalRequestsSent > 0 {
		status.SuccessRate = float64(data.TotalResponsesReceived) / float64(data.TotalRequestsSent)
		status.ErrorRate = 1.0 - status.SuccessRate
	}

	return status
}
