/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryNotifyFunc is called after every failed attempt that will be retried.
type RetryNotifyFunc func(err error, next time.Duration)

// Calls op with the passed back-off policy until it succeeds, the policy gives up, or the context is done.
// If the context ends the retries, the returned error contains both the context error AND the last attempt error.
func Retry(ctx context.Context, b backoff.BackOff, op func() error, notify RetryNotifyFunc) error {
	_, err := RetryGet(ctx, b, func() (struct{}, error) {
		return struct{}{}, op()
	}, notify)
	return err
}

// Try calling factory function with the passed back-off policy until it succeeds, or the policy or the context give up.
func RetryGet[T any](ctx context.Context, b backoff.BackOff, factory func() (T, error), notify RetryNotifyFunc) (T, error) {
	var lastAttemptErr error

	retval, err := backoff.RetryNotifyWithData(
		func() (T, error) {
			res, attemptErr := factory()
			if attemptErr != nil {
				lastAttemptErr = attemptErr
			}
			return res, attemptErr
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			if notify != nil {
				notify(err, d)
			}
		},
	)

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && lastAttemptErr != nil && lastAttemptErr != err:
		// Inform the caller about the context expiry AND the last attempt error.
		return *new(T), errors.Join(lastAttemptErr, err)
	case err != nil:
		return *new(T), err
	default:
		return retval, nil
	}
}

// Permanent wraps an error so that Retry/RetryGet stop retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
