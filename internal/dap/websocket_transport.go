// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/gorilla/websocket"
)

const DefaultWebSocketHandshakeTimeout = 10 * time.Second

// webSocketTransport connects to a debug adapter that serves DAP over a WebSocket.
// Every WebSocket text message carries exactly one DAP message, without the Content-Length header.
// It can be reconnected after Disconnect().
type webSocketTransport struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	// writeMu serializes writes, websocket.Conn supports one concurrent writer
	writeMu sync.Mutex
}

// NewWebSocketTransport creates a Transport that dials the given ws:// or wss:// URL on Connect().
func NewWebSocketTransport(url string) Transport {
	return &webSocketTransport{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultWebSocketHandshakeTimeout,
		},
	}
}

func (t *webSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	conn, resp, dialErr := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if dialErr != nil {
		return fmt.Errorf("failed to dial %s: %w", t.url, dialErr)
	}

	t.conn = conn
	return nil
}

func (t *webSocketTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	closeErr := t.conn.Close()
	t.conn = nil
	return closeErr
}

func (t *webSocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *webSocketTransport) ReadMessage() (dap.Message, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	for {
		messageType, content, readErr := conn.ReadMessage()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		return decodeMessage(content)
	}
}

func (t *webSocketTransport) WriteMessage(msg dap.Message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	content, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return fmt.Errorf("failed to encode DAP message: %w", marshalErr)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if writeErr := conn.WriteMessage(websocket.TextMessage, content); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}
	return nil
}
