package events

import (
	"slices"
	"sync"
)

type RingBuffer struct {
	mu     sync.RWMutex
	size   int
	events []Event
	index  int
	full   bool
	total  uint64
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		size:   size,
		events: make([]Event, size),
	}
}

func (rb *RingBuffer) Add(e Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events[rb.index] = e
	rb.index = (rb.index + 1) % rb.size
	if rb.index == 0 {
		rb.full = true
	}
	rb.total++
}

func (rb *RingBuffer) Snapshot() []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		return append([]Event{}, rb.events[:rb.index]...)
	}

	out := make([]Event, 0, rb.size)
	out = append(out, rb.events[rb.index:]...)
	out = append(out, rb.events[:rb.index]...)
	return out
}

// Last returns up to n of the most recent events matching keep, oldest
// first. n <= 0 means no limit and a nil keep matches every event.
func (rb *RingBuffer) Last(n int, keep func(Event) bool) []Event {
	all := rb.Snapshot()
	out := make([]Event, 0)
	for i := len(all) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if keep == nil || keep(all[i]) {
			out = append(out, all[i])
		}
	}
	slices.Reverse(out)
	return out
}

// Clear drops every buffered event. The running total is kept.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events = make([]Event, rb.size)
	rb.index = 0
	rb.full = false
}

// Total returns the number of events ever added.
func (rb *RingBuffer) Total() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}
