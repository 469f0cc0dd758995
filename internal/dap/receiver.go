/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/smallnest/chanx"
)

const (
	// ConnectionLostOnReceive is the context reported when the receive loop fails.
	ConnectionLostOnReceive = "receive"

	defaultReceiveQueueCapacity = 64
)

// ResponseHandler accepts responses read off the wire.
type ResponseHandler interface {
	HandleResponse(resp dap.ResponseMessage) bool
}

// ReceiverConfig holds the configuration for creating a MessageReceiver.
type ReceiverConfig struct {
	// OnConnectionLost is called (from the read goroutine) when reading fails while the receiver is running.
	OnConnectionLost func(context string, err error)

	// QueueCapacity is the initial capacity of the queue between the read loop and the dispatcher.
	// If zero, a default capacity is used. The queue grows as needed.
	QueueCapacity int

	// Logger for the receiver. If not set, logging is disabled.
	Logger logr.Logger
}

// MessageReceiver reads messages from a stream and hands events to the EventProcessor
// and responses to the response handler, in the order they were received.
type MessageReceiver struct {
	stream    MessageStream
	processor *EventProcessor
	responses ResponseHandler
	config    ReceiverConfig
	log       logr.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Receiver = (*MessageReceiver)(nil)

func NewMessageReceiver(stream MessageStream, processor *EventProcessor, responses ResponseHandler, config ReceiverConfig) *MessageReceiver {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = defaultReceiveQueueCapacity
	}

	return &MessageReceiver{
		stream:    stream,
		processor: processor,
		responses: responses,
		config:    config,
		log:       log,
	}
}

// Start launches the read and dispatch goroutines. A receiver can be started once.
func (r *MessageReceiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return errors.New("receiver was already started")
	}

	receiveCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})

	queue := chanx.NewUnboundedChan[dap.Message](receiveCtx, r.config.QueueCapacity)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.readLoop(receiveCtx, queue)
	}()
	go func() {
		defer wg.Done()
		r.dispatchLoop(receiveCtx, queue)
	}()
	go func() {
		wg.Wait()
		cancel()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.done)
	}()

	return nil
}

// Stop stops the receiver. It does not wait for the goroutines to exit: a read blocked on an open
// stream finishes when the stream is closed. Messages read after Stop() are discarded.
func (r *MessageReceiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.running = false
}

func (r *MessageReceiver) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done returns a channel that is closed when both receiver goroutines have exited.
// Returns nil if the receiver was never started.
func (r *MessageReceiver) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *MessageReceiver) readLoop(ctx context.Context, queue *chanx.UnboundedChan[dap.Message]) {
	defer close(queue.In)

	for {
		msg, readErr := r.stream.ReadMessage()
		if ctx.Err() != nil {
			return
		}

		if errors.Is(readErr, ErrMalformedMessage) {
			r.log.Info("Skipping message that could not be decoded", "error", readErr.Error())
			continue
		}

		if readErr != nil {
			r.log.V(1).Info("Receive loop ended", "error", readErr.Error())
			if r.config.OnConnectionLost != nil {
				r.config.OnConnectionLost(ConnectionLostOnReceive, readErr)
			}
			return
		}

		select {
		case queue.In <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (r *MessageReceiver) dispatchLoop(ctx context.Context, queue *chanx.UnboundedChan[dap.Message]) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg, isOpen := <-queue.Out:
			if !isOpen {
				return
			}
			r.route(msg)
		}
	}
}

func (r *MessageReceiver) route(msg dap.Message) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		if r.responses != nil {
			r.responses.HandleResponse(m)
		}

	case dap.EventMessage:
		r.processor.ProcessEvent(m)

	default:
		r.log.V(1).Info("Ignoring message that is neither an event nor a response", "seq", msg.GetSeq())
	}
}
