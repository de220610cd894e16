package session

import "sync"

// RingBuffer keeps the most recent events up to a fixed capacity so that
// subscribers joining late can replay them.
type RingBuffer struct {
	mu    sync.RWMutex
	slots []Event
	head  int // index of the oldest event
	count int
}

// NewRingBuffer creates a ring buffer holding at least one event.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{slots: make([]Event, capacity)}
}

// Write appends event, evicting the oldest once the buffer is full.
func (rb *RingBuffer) Write(event Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count < len(rb.slots) {
		rb.slots[(rb.head+rb.count)%len(rb.slots)] = event
		rb.count++
		return
	}
	rb.slots[rb.head] = event
	rb.head = (rb.head + 1) % len(rb.slots)
}

// ReadAll returns the buffered events, oldest first.
func (rb *RingBuffer) ReadAll() []Event {
	return rb.Last(-1)
}

// Last returns up to n of the newest events, oldest first. A negative n
// returns everything.
func (rb *RingBuffer) Last(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n < 0 || n > rb.count {
		n = rb.count
	}
	out := make([]Event, n)
	skip := rb.count - n
	for i := range out {
		out[i] = rb.slots[(rb.head+skip+i)%len(rb.slots)]
	}
	return out
}

// Len returns the number of buffered events.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the buffer's capacity.
func (rb *RingBuffer) Cap() int { return len(rb.slots) }
