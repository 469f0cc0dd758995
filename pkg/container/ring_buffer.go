/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package container

const (
	minSize      = 8 // Must be a power of 2
	growthFactor = 2

	UnlimitedCapacity = 0
)

// RingBuffer is a FIFO buffer that keeps items in insertion order.
// A bounded buffer discards the oldest item when a new one is pushed at capacity.
// It is not goroutine-safe.
type RingBuffer[T any] struct {
	buf      []T
	len      int // how many items in the buffer
	head     int // index of the oldest item
	capacity int // max number of items in the buffer (0 for unlimited)
}

func NewRingBuffer[T any]() *RingBuffer[T] {
	return &RingBuffer[T]{
		buf:      make([]T, minSize),
		capacity: UnlimitedCapacity,
	}
}

func NewBoundedRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		return NewRingBuffer[T]()
	}

	return &RingBuffer[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item. Returns true if the oldest item had to be evicted to make room.
func (rb *RingBuffer[T]) Push(v T) bool {
	if rb.capacity != UnlimitedCapacity && rb.len == rb.capacity {
		rb.buf[rb.head] = v
		rb.head = rb.index(1)
		return true
	}

	if rb.len == len(rb.buf) {
		rb.grow()
	}

	rb.buf[rb.index(rb.len)] = v
	rb.len++
	return false
}

// Removes and returns the oldest item.
// The second value is false if the buffer was empty.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if rb.len == 0 {
		return zero, false
	}

	v := rb.buf[rb.head]
	rb.buf[rb.head] = zero
	rb.head = rb.index(1)
	rb.len--
	return v, true
}

func (rb *RingBuffer[T]) PeekAt(index int) (T, bool) {
	var zero T
	if index < 0 || index >= rb.len {
		return zero, false
	}
	return rb.buf[rb.index(index)], true
}

// Items returns a copy of the buffer contents, oldest first.
// Modifying the returned slice does not affect the buffer.
func (rb *RingBuffer[T]) Items() []T {
	items := make([]T, rb.len)
	for i := 0; i < rb.len; i++ {
		items[i] = rb.buf[rb.index(i)]
	}
	return items
}

// Clear removes all items, keeping the capacity.
func (rb *RingBuffer[T]) Clear() {
	clear(rb.buf)
	rb.head = 0
	rb.len = 0
}

func (rb *RingBuffer[T]) Len() int {
	return rb.len
}

func (rb *RingBuffer[T]) Empty() bool {
	return rb.len == 0
}

func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

func (rb *RingBuffer[T]) index(offset int) int {
	return (rb.head + offset) % len(rb.buf)
}

func (rb *RingBuffer[T]) grow() {
	newBuf := make([]T, len(rb.buf)*growthFactor)
	for i := 0; i < rb.len; i++ {
		newBuf[i] = rb.buf[rb.index(i)]
	}
	rb.head = 0
	rb.buf = newBuf
}
