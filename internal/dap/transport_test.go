/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-debugger-inc/aidb/pkg/testutil"
)

// uniqueSocketPath generates a unique, short socket path for testing.
// macOS has a ~104 character limit for Unix socket paths, so we use
// the system temp directory with a short filename.
func uniqueSocketPath(t *testing.T, suffix string) string {
	t.Helper()
	socketPath := filepath.Join(os.TempDir(), fmt.Sprintf("aidb-%s-%d.sock", suffix, time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func testSocketTransport(t *testing.T, network, address string) {
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	listener, listenErr := net.Listen(network, address)
	require.NoError(t, listenErr)
	defer listener.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			accepted <- conn
		}
	}()

	transport := NewSocketTransport(network, listener.Addr().String())
	assert.False(t, transport.IsConnected())
	_, readErr := transport.ReadMessage()
	assert.ErrorIs(t, readErr, ErrNotConnected)

	require.NoError(t, transport.Connect(ctx))
	require.NoError(t, transport.Connect(ctx), "connecting a connected transport is a no-op")
	assert.True(t, transport.IsConnected())
	serverConn := <-accepted
	defer serverConn.Close()

	request := &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "initialize",
		},
		Arguments: dap.InitializeRequestArguments{AdapterID: "test"},
	}
	require.NoError(t, transport.WriteMessage(request))

	received, serverReadErr := dap.ReadProtocolMessage(bufio.NewReader(serverConn))
	require.NoError(t, serverReadErr)
	initReq, ok := received.(*dap.InitializeRequest)
	require.True(t, ok)
	assert.Equal(t, "test", initReq.Arguments.AdapterID)

	require.NoError(t, dap.WriteProtocolMessage(serverConn, NewStoppedEvent(7, StopReasonBreakpoint, 2)))
	msg, clientReadErr := transport.ReadMessage()
	require.NoError(t, clientReadErr)
	stopped, ok := msg.(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, 7, stopped.Seq)
	assert.Equal(t, 2, stopped.Body.ThreadId)

	require.NoError(t, transport.Disconnect())
	assert.False(t, transport.IsConnected())
	assert.ErrorIs(t, transport.WriteMessage(request), ErrNotConnected)
	require.NoError(t, transport.Disconnect(), "double disconnect should not fail")

	// Socket transports can be reconnected.
	require.NoError(t, transport.Connect(ctx))
	secondConn := <-accepted
	defer secondConn.Close()
	assert.True(t, transport.IsConnected())
	require.NoError(t, transport.Disconnect())
}

func TestSocketTransportTCP(t *testing.T) {
	t.Parallel()
	testSocketTransport(t, "tcp", "127.0.0.1:0")
}

func TestSocketTransportUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix domain sockets are not used on Windows")
	}
	t.Parallel()
	testSocketTransport(t, "unix", uniqueSocketPath(t, "transport"))
}

func TestSocketTransportConnectFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	transport := NewSocketTransport("tcp", address)
	assert.Error(t, transport.Connect(ctx))
	assert.False(t, transport.IsConnected())
}

func TestReadMessageDecodesUnknownEvents(t *testing.T) {
	t.Parallel()

	stream := frame(`{"seq":1,"type":"event","event":"customProgress","body":{"percent":50}}`) +
		frame(`{"seq":2,"type":"event","event":"stopped","body":{"reason":"breakpoint","threadId":1}}`) +
		frame(`{"seq":3,"type":"response","request_seq":1,"command":"noSuchCommand","success":true}`) +
		frame(`{"seq":4,"type":"request","command":"vendorCustom"}`) +
		frame(`{"seq":5,"type":"event","event":"stopped","body":"not an object"}`)
	reader := bufio.NewReader(bytes.NewBufferString(stream))

	msg, err := readMessage(reader)
	require.NoError(t, err)
	unknown, ok := msg.(*UnknownEvent)
	require.True(t, ok, "unknown events should be decoded as UnknownEvent, got %T", msg)
	assert.Equal(t, "customProgress", EventType(unknown))
	assert.Equal(t, 1, unknown.GetSeq())
	assert.JSONEq(t, `{"percent":50}`, string(unknown.Body))

	msg, err = readMessage(reader)
	require.NoError(t, err)
	_, ok = msg.(*dap.StoppedEvent)
	assert.True(t, ok)

	_, err = readMessage(reader)
	assert.ErrorIs(t, err, ErrMalformedMessage, "unknown responses are reported as undecodable, not as stream failures")
	assert.False(t, IsConnectionError(err))

	_, err = readMessage(reader)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	msg, err = readMessage(reader)
	assert.ErrorIs(t, err, ErrMalformedMessage, "known events with a bad body are not passed on as unknown events")
	assert.Nil(t, msg)

	_, err = readMessage(reader)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStdioTransportIsSingleUse(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	adapterStdoutReader, adapterStdoutWriter := io.Pipe()
	adapterStdinReader, adapterStdinWriter := io.Pipe()
	transport := NewStdioTransport(adapterStdoutReader, adapterStdinWriter)

	_, readErr := transport.ReadMessage()
	assert.ErrorIs(t, readErr, ErrNotConnected)

	require.NoError(t, transport.Connect(ctx))
	assert.True(t, transport.IsConnected())

	go func() {
		_ = dap.WriteProtocolMessage(adapterStdoutWriter, NewOutputEvent(1, "stdout", "hello"))
	}()
	msg, readErr := transport.ReadMessage()
	require.NoError(t, readErr)
	output, ok := msg.(*dap.OutputEvent)
	require.True(t, ok)
	assert.Equal(t, "hello", output.Body.Output)

	written := make(chan dap.Message, 1)
	go func() {
		m, _ := dap.ReadProtocolMessage(bufio.NewReader(adapterStdinReader))
		written <- m
	}()
	require.NoError(t, transport.WriteMessage(&dap.ThreadsRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"}, Command: "threads"},
	}))
	_, ok = (<-written).(*dap.ThreadsRequest)
	assert.True(t, ok)

	require.NoError(t, transport.Disconnect())
	assert.False(t, transport.IsConnected())
	assert.ErrorIs(t, transport.Connect(ctx), ErrTransportClosed)
	assert.True(t, IsConnectionError(ErrTransportClosed))
}
