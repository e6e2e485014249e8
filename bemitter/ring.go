package bemitter

import "sync"

// ring is the backlog shared by every subscription of one emitter.
// Sequence numbers increase forever;
// a value's slot is its sequence modulo the capacity.
type ring[T any] struct {
	mu sync.Mutex

	buf []T

	// Sequence number of the next value to be written.
	tail uint64

	// Closed and replaced on every push.
	// Closed without replacement when the ring is closed.
	notify chan struct{}

	closed bool
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}),
	}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.buf[r.tail%uint64(len(r.buf))] = v
	r.tail++

	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *ring[T]) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	close(r.notify)
}

// position returns the sequence number a new reader starts from.
func (r *ring[T]) position() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tail
}

// readResult is the outcome of one [*ring.read] attempt.
type readResult uint8

const (
	readValue readResult = iota
	readLagged
	readEmpty
	readClosed
)

// read attempts to read the value at *cursor.
//
// On readValue, v is set and *cursor advances by one.
// On readLagged, *cursor moves to the oldest retained value
// and skipped holds how far it moved.
// On readEmpty, wait is closed once another read may succeed.
// On readClosed, the producer is gone and nothing remains to read.
func (r *ring[T]) read(cursor *uint64) (
	v T, skipped uint64, wait <-chan struct{}, res readResult,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if *cursor < r.tail {
		capacity := uint64(len(r.buf))
		var oldest uint64
		if r.tail > capacity {
			oldest = r.tail - capacity
		}

		if *cursor < oldest {
			skipped = oldest - *cursor
			*cursor = oldest
			return v, skipped, nil, readLagged
		}

		v = r.buf[*cursor%capacity]
		*cursor++
		return v, 0, nil, readValue
	}

	if r.closed {
		return v, 0, nil, readClosed
	}

	return v, 0, r.notify, readEmpty
}
