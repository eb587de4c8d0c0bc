package signaling

import "sync"

// Stream is a cancellable subscription delivering signaling records until
// torn down. Closing the stream is what structurally prevents the
// lifecycle leak of a disposed session still reacting to deliveries:
// publishers observe Done and stop, consumers select on Done and return.
//
// Delivery is at-least-once and may be out of order relative to local
// writes; consumers de-duplicate by comparing record state, never by
// assuming monotonic delivery.
type Stream[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// NewStream creates a stream with the given buffer size.
func NewStream[T any](buffer int) *Stream[T] {
	return &Stream[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
	}
}

// Records is the delivery channel. Consume it in a select with Done.
func (s *Stream[T]) Records() <-chan T {
	return s.ch
}

// Done is closed when the stream is torn down.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Publish delivers a record, blocking while the buffer is full. It
// returns false once the stream is closed.
func (s *Stream[T]) Publish(v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	}
}

// Close tears the stream down. Safe to call more than once.
func (s *Stream[T]) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Closed reports whether Close has been called.
func (s *Stream[T]) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
