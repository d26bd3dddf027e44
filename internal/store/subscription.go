package store

import "sync"

// Subscription is a cancellable stream of full-matching-set events for one
// collection and filter set. Events are coalesced: if the consumer falls
// behind, older pending snapshots are replaced by the newest one, which is
// safe because every event is a complete snapshot rather than a diff.
type Subscription struct {
	collection string
	filters    []Filter

	events chan Event

	mu       sync.Mutex
	closed   bool
	onCancel func(*Subscription)
}

func newSubscription(collection string, filters []Filter, onCancel func(*Subscription)) *Subscription {
	return &Subscription{
		collection: collection,
		filters:    filters,
		events:     make(chan Event, 4),
		onCancel:   onCancel,
	}
}

// Events returns the notification channel. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.events }

// Unsubscribe cancels the subscription synchronously: no events are
// delivered after it returns, and the events channel is closed. Calling it
// more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onCancel := s.onCancel
	s.mu.Unlock()

	if onCancel != nil {
		// Removes this subscription from the store's fanout list under the
		// store lock, so no publish can race the channel close below.
		onCancel(s)
	}
	close(s.events)
}

// publish queues an event, dropping the oldest pending one when the buffer
// is full. Called only while the owning store holds its fanout lock.
func (s *Subscription) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.events <- ev:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}
