package storage

import (
	"sync"

	"webhook-receiver/internal/event"
)

const DefaultEventCapacity = 100

// EventStore is a bounded FIFO ring of recent events. All methods are safe for concurrent use.
type EventStore struct {
	mu    sync.RWMutex
	buf   []event.Event
	head  int // index of the oldest event
	size  int
	total int
}

func NewEventStore(capacity int) *EventStore {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventStore{buf: make([]event.Event, capacity)}
}

// Add appends ev, evicting the oldest event when the store is full.
func (s *EventStore) Add(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	capacity := len(s.buf)
	if s.size < capacity {
		s.buf[(s.head+s.size)%capacity] = ev
		s.size++
	} else {
		s.buf[s.head] = ev
		s.head = (s.head + 1) % capacity
	}
	s.total++
}

func (s *EventStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Received reports how many events were ever added, including evicted ones.
func (s *EventStore) Received() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *EventStore) Capacity() int { return len(s.buf) }

func (s *EventStore) Latest() (event.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.size == 0 {
		return event.Event{}, false
	}
	return s.at(s.size - 1), true
}

// List returns events [offset, offset+limit) in insertion order and the current count.
// Negative bounds are clamped to zero and the end is clamped to the current size.
func (s *EventStore) List(offset, limit int) ([]event.Event, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	end := offset + limit
	if end > s.size || end < offset {
		end = s.size
	}
	if offset >= end {
		return []event.Event{}, s.size
	}
	out := make([]event.Event, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, s.at(i))
	}
	return out, s.size
}

// Snapshot returns every stored event, oldest first.
func (s *EventStore) Snapshot() []event.Event {
	items, _ := s.List(0, s.Capacity())
	return items
}

// at must be called with the lock held.
func (s *EventStore) at(i int) event.Event {
	return s.buf[(s.head+i)%len(s.buf)]
}
