// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Transport is the connection to a debug adapter.
// Connect/Disconnect/IsConnected are used by the ConnectionManager;
// ReadMessage and WriteMessage are used by the receiver and the request handler.
// Reads and writes may happen concurrently with each other, but not with other reads (writes).
type Transport interface {
	// Connect establishes the connection. Calling Connect on a connected transport is a no-op.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Any blocked ReadMessage call returns with an error.
	Disconnect() error

	IsConnected() bool

	MessageStream
}

// MessageStream reads and writes framed DAP messages.
type MessageStream interface {
	// ReadMessage blocks until the next complete message is available.
	ReadMessage() (dap.Message, error)

	WriteMessage(msg dap.Message) error
}

// socketTransport connects to a debug adapter listening on a TCP or Unix socket.
// It can be reconnected after Disconnect().
type socketTransport struct {
	network string
	address string
	dialer  net.Dialer

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	// writeMu protects concurrent writes to the connection
	writeMu sync.Mutex
}

// NewSocketTransport creates a Transport that dials the given network ("tcp" or "unix") and address on Connect().
func NewSocketTransport(network, address string) Transport {
	return &socketTransport{
		network: network,
		address: address,
	}
}

func (t *socketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	conn, dialErr := t.dialer.DialContext(ctx, t.network, t.address)
	if dialErr != nil {
		return fmt.Errorf("failed to dial %s %s: %w", t.network, t.address, dialErr)
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.writer = bufio.NewWriter(conn)
	return nil
}

func (t *socketTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	closeErr := t.conn.Close()
	t.conn = nil
	t.reader = nil
	t.writer = nil
	return closeErr
}

func (t *socketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *socketTransport) ReadMessage() (dap.Message, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()

	if reader == nil {
		return nil, ErrNotConnected
	}

	return readMessage(reader)
}

func (t *socketTransport) WriteMessage(msg dap.Message) error {
	t.mu.Lock()
	writer := t.writer
	t.mu.Unlock()

	if writer == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeMessage(writer, msg)
}

// stdioTransport talks to a debug adapter over a pair of streams, typically the adapter process stdio.
// The streams cannot be reopened, so the transport cannot be reconnected after Disconnect().
type stdioTransport struct {
	reader *bufio.Reader
	writer *bufio.Writer
	stdin  io.ReadCloser
	stdout io.WriteCloser

	// writeMu protects concurrent writes
	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewStdioTransport creates a Transport that reads messages from stdin and writes them to stdout.
func NewStdioTransport(stdin io.ReadCloser, stdout io.WriteCloser) Transport {
	return &stdioTransport{
		reader: bufio.NewReader(stdin),
		writer: bufio.NewWriter(stdout),
		stdin:  stdin,
		stdout: stdout,
	}
}

func (t *stdioTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	t.connected = true
	return nil
}

func (t *stdioTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	t.connected = false

	var errs []error
	if closeErr := t.stdin.Close(); closeErr != nil {
		errs = append(errs, fmt.Errorf("failed to close stdin: %w", closeErr))
	}
	if closeErr := t.stdout.Close(); closeErr != nil {
		errs = append(errs, fmt.Errorf("failed to close stdout: %w", closeErr))
	}
	return errors.Join(errs...)
}

func (t *stdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *stdioTransport) ReadMessage() (dap.Message, error) {
	if !t.IsConnected() {
		return nil, ErrNotConnected
	}
	return readMessage(t.reader)
}

func (t *stdioTransport) WriteMessage(msg dap.Message) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeMessage(t.writer, msg)
}

// readMessage reads one framed message. Events that go-dap does not recognize
// are returned as *UnknownEvent instead of failing the read. Other frames that
// cannot be decoded fail with ErrMalformedMessage and leave the stream usable.
func readMessage(reader *bufio.Reader) (dap.Message, error) {
	content, readErr := dap.ReadBaseMessage(reader)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	return decodeMessage(content)
}

func decodeMessage(content []byte) (dap.Message, error) {
	msg, decodeErr := dap.DecodeProtocolMessage(content)
	if decodeErr == nil {
		return msg, nil
	}

	// Events the protocol library has no type for are kept as raw events.
	var fieldErr *dap.DecodeProtocolMessageFieldError
	if errors.As(decodeErr, &fieldErr) && fieldErr.SubType == "Event" && fieldErr.FieldName == "event" {
		var unknown UnknownEvent
		if jsonErr := json.Unmarshal(content, &unknown); jsonErr == nil && unknown.Event.Event != "" {
			return &unknown, nil
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, decodeErr)
}

func writeMessage(writer *bufio.Writer, msg dap.Message) error {
	if writeErr := dap.WriteProtocolMessage(writer, msg); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	if flushErr := writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}
