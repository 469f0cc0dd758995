/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

// DefaultRequestTimeout is the time a request waits for its response unless configured otherwise.
const DefaultRequestTimeout = 30 * time.Second

// RequestHandlerConfig holds the configuration for creating a SequencedRequestHandler.
type RequestHandlerConfig struct {
	// RequestTimeout is the maximum time to wait for a response.
	// If zero, DefaultRequestTimeout is used.
	RequestTimeout time.Duration

	// Logger for request handling. If not set, logging is disabled.
	Logger logr.Logger
}

// SequencedRequestHandler assigns sequence numbers to outgoing requests and correlates
// incoming responses with the requests that are waiting for them.
type SequencedRequestHandler struct {
	stream  MessageStream
	state   *SessionState
	seq     *sequenceCounter
	pending *pendingRequestMap
	timeout time.Duration
	log     logr.Logger
}

var _ RequestHandler = (*SequencedRequestHandler)(nil)

func NewSequencedRequestHandler(stream MessageStream, state *SessionState, config RequestHandlerConfig) *SequencedRequestHandler {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &SequencedRequestHandler{
		stream:  stream,
		state:   state,
		seq:     newSequenceCounter(),
		pending: newPendingRequestMap(),
		timeout: timeout,
		log:     log,
	}
}

// InitializeSequence restarts request numbering for a new connection.
func (h *SequencedRequestHandler) InitializeSequence() {
	h.seq.Reset()
}

// SendRequest writes the request to the stream and waits for the matching response.
// The request sequence number is assigned by the handler.
// Returns ErrRequestTimeout if no response arrives in time, and ErrConnectionClosed
// if pending requests are cleared while waiting.
func (h *SequencedRequestHandler) SendRequest(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	request := req.GetRequest()
	seq := h.seq.Next()
	request.Seq = seq
	request.Type = "request"

	responseChan := make(chan dap.ResponseMessage, 1)
	h.pending.Add(seq, &pendingRequest{
		command:      request.Command,
		sentAt:       time.Now(),
		responseChan: responseChan,
	})

	if writeErr := h.stream.WriteMessage(req); writeErr != nil {
		h.pending.Remove(seq)
		return nil, fmt.Errorf("failed to send %s request: %w", request.Command, writeErr)
	}
	h.state.RecordRequestSent()
	h.log.V(1).Info("Sent request", "command", request.Command, "seq", seq)

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-responseChan:
		if !ok {
			return nil, fmt.Errorf("%s request (seq %d) abandoned: %w", request.Command, seq, ErrConnectionClosed)
		}
		return resp, nil

	case <-timer.C:
		h.pending.Remove(seq)
		return nil, fmt.Errorf("%w: %s request (seq %d) got no response within %s", ErrRequestTimeout, request.Command, seq, h.timeout)

	case <-ctx.Done():
		h.pending.Remove(seq)
		return nil, fmt.Errorf("%s request (seq %d) cancelled: %w", request.Command, seq, ctx.Err())
	}
}

// HandleResponse completes the pending request the response belongs to.
// Returns false if no request is waiting for it.
func (h *SequencedRequestHandler) HandleResponse(resp dap.ResponseMessage) bool {
	h.state.RecordResponseReceived()

	response := resp.GetResponse()
	req := h.pending.Get(response.RequestSeq)
	if req == nil {
		h.log.V(1).Info("Dropping response with no pending request",
			"command", response.Command,
			"requestSeq", response.RequestSeq)
		return false
	}

	h.log.V(1).Info("Received response",
		"command", req.command,
		"requestSeq", response.RequestSeq,
		"success", response.Success,
		"duration", time.Since(req.sentAt))
	req.responseChan <- resp
	return true
}

// ClearPendingRequests abandons all requests waiting for a response.
func (h *SequencedRequestHandler) ClearPendingRequests() {
	if drained := h.pending.DrainWithError(); drained > 0 {
		h.log.V(1).Info("Cleared pending requests", "count", drained)
	}
}

func (h *SequencedRequestHandler) PendingRequestCount() int {
	return h.pending.Len()
}

// CurrentSequence returns the sequence number of the last request sent.
func (h *SequencedRequestHandler) CurrentSequence() int {
	return h.seq.Current()
}
