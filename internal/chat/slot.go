package chat

import (
	"sync"
)

// Slot holds at most one value, the most recently published one.
// Publishing overwrites; nothing is queued or merged. Subscribers are
// notified through a one-element channel that always carries the newest
// value they have not read yet, so a slow subscriber never blocks Publish.
type Slot[T any] struct {
	mu          sync.RWMutex
	value       T
	set         bool
	subscribers map[*subscriber[T]]bool
}

type subscriber[T any] struct {
	ch chan T
}

// NewSlot creates an empty Slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{
		subscribers: make(map[*subscriber[T]]bool),
	}
}

// Publish replaces the current value and notifies subscribers.
func (s *Slot[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = v
	s.set = true

	for sub := range s.subscribers {
		// Drop the unread value, if any, then deliver the new one. Only
		// Publish sends on sub.ch and it holds the lock, so the send
		// cannot block once the buffer is drained.
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- v
	}
}

// Current returns the latest value and whether one has been published.
func (s *Slot[T]) Current() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set
}

// Subscribe registers a listener. If a value is already present it is
// delivered first. The returned cancel function unregisters the listener
// and closes the channel; it is safe to call more than once.
func (s *Slot[T]) Subscribe() (<-chan T, func()) {
	sub := &subscriber[T]{ch: make(chan T, 1)}

	s.mu.Lock()
	if s.set {
		sub.ch <- s.value
	}
	s.subscribers[sub] = true
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, sub)
			close(sub.ch)
			s.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// SubscriberCount returns the number of registered subscribers.
func (s *Slot[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
