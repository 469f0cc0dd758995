/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
)

var (
	// ErrConnectionTimeout is returned by Connect when the transport could not be connected before the deadline.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionClosed is returned to callers waiting for a response when pending requests are cleared.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRequestTimeout is returned when a request times out waiting for a response.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrTransportClosed is returned when a single-use transport is used after it has been closed.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrInvalidHandler is returned when subscribing with a nil event handler.
	ErrInvalidHandler = errors.New("event handler must be a non-nil function")

	// ErrMalformedMessage is returned when a complete message was read but could not be decoded.
	// The stream itself is still usable.
	ErrMalformedMessage = errors.New("malformed DAP message")

	// ErrEventWaitTimeout is delivered when no matching event arrives within the wait timeout.
	ErrEventWaitTimeout = errors.New("timed out waiting for event")
)

// IsConnectionError returns true if the error indicates a connection-related failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrTransportClosed)
}

// IsTimeoutError returns true if the error indicates that an operation ran out of time.
// Plain context deadline errors count as timeouts too.
func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrEventWaitTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// filterContextError filters out redundant context errors during shutdown.
// If the error is a context.Canceled or context.DeadlineExceeded and the
// context is already done, the error is logged at debug level and nil is returned.
// Otherwise, the original error is returned unchanged.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.V(1).Info("Filtering redundant context error", "error", err)
		return nil
	}

	return err
}
