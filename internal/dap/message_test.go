/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceCounter(t *testing.T) {
	t.Parallel()

	counter := newSequenceCounter()

	assert.Equal(t, 0, counter.Current(), "initial value should be 0")
	assert.Equal(t, 1, counter.Next(), "first Next() should return 1")
	assert.Equal(t, 2, counter.Next(), "second Next() should return 2")
	assert.Equal(t, 2, counter.Current())

	counter.Reset()
	assert.Equal(t, 0, counter.Current(), "Reset() should restart numbering")
	assert.Equal(t, 1, counter.Next())
}

func TestPendingRequestMap(t *testing.T) {
	t.Parallel()

	m := newPendingRequestMap()
	assert.Equal(t, 0, m.Len(), "initial map should be empty")

	req1 := &pendingRequest{command: "continue", responseChan: make(chan dap.ResponseMessage, 1)}
	req2 := &pendingRequest{command: "threads", responseChan: make(chan dap.ResponseMessage, 1)}
	m.Add(10, req1)
	m.Add(11, req2)
	assert.Equal(t, 2, m.Len())

	got := m.Get(10)
	require.NotNil(t, got, "should get request for seq 10")
	assert.Same(t, req1, got)
	assert.Nil(t, m.Get(10), "second Get for same seq should return nil")
	assert.Nil(t, m.Get(999), "Get for unknown seq should return nil")

	m.Remove(11)
	assert.Equal(t, 0, m.Len(), "map should be empty")
}

func TestPendingRequestMapDrainClosesChannels(t *testing.T) {
	t.Parallel()

	m := newPendingRequestMap()
	ch1 := make(chan dap.ResponseMessage, 1)
	ch2 := make(chan dap.ResponseMessage, 1)
	m.Add(1, &pendingRequest{command: "threads", responseChan: ch1})
	m.Add(2, &pendingRequest{command: "stackTrace", responseChan: ch2})

	drained := m.DrainWithError()
	assert.Equal(t, 2, drained)
	assert.Equal(t, 0, m.Len())

	for _, ch := range []chan dap.ResponseMessage{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok, "drained response channel should be closed")
	}
}
