package bactivate

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/beacon"
)

// Hub tracks the subscribers of one broadcast instance
// and hands activation handles of type P to its producer.
type Hub[P any] struct {
	mu sync.Mutex

	// Set of live subscription IDs.
	// IDs are reused once released,
	// so the set stays as small as the peak subscriber count.
	live *bitset.BitSet

	// Closed when the live set becomes empty.
	// Replaced on every transition from zero to one subscriber.
	zero chan struct{}

	exited   bool
	exitedCh chan struct{}

	// Single-capacity handoff slot.
	handles chan P

	newHandle func() P
}

// NewHub returns a Hub with no subscribers.
// newHandle is called once per activation,
// while the hub's lock is held.
func NewHub[P any](newHandle func() P) *Hub[P] {
	zero := make(chan struct{})
	close(zero)

	return &Hub[P]{
		live: bitset.New(8),
		zero: zero,

		exitedCh: make(chan struct{}),

		handles: make(chan P, 1),

		newHandle: newHandle,
	}
}

// Acquire registers a new subscriber and returns its ID.
// The activated result reports whether this call
// was the zero-to-one transition that started a new epoch.
//
// After [*Hub.Exit], Acquire registers nothing
// and returns [beacon.ErrProducerExited].
func (h *Hub[P]) Acquire() (id uint, activated bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exited {
		return 0, false, beacon.ErrProducerExited
	}

	id, ok := h.live.NextClear(0)
	if !ok {
		id = h.live.Len()
	}
	h.live.Set(id)

	if h.live.Count() != 1 {
		return id, false, nil
	}

	h.zero = make(chan struct{})

	select {
	case h.handles <- h.newHandle():
	default:
		// The handle from an earlier epoch was never claimed.
		// Handles refer to shared state, so the pending one
		// serves this epoch just as well.
	}

	return id, true, nil
}

// Release unregisters the subscriber with the given ID.
// Releasing an ID that is not live is a no-op,
// so a subscription may be released more than once.
//
// The return value reports whether this call
// released the last subscriber.
func (h *Hub[P]) Release(id uint) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.live.Test(id) {
		return false
	}

	h.live.Clear(id)
	if h.live.Any() {
		return false
	}

	close(h.zero)
	return true
}

// AllReleased returns a channel that is closed
// once the current epoch has no subscribers left.
// If there are no subscribers right now,
// the returned channel is already closed.
func (h *Hub[P]) AllReleased() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.zero
}

// Count returns the number of live subscribers.
func (h *Hub[P]) Count() uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.live.Count()
}

// Handles is the producer side of the handoff slot.
//
// A handle received directly from this channel may belong to an epoch
// that ended before it was claimed; [*Hub.Wait] filters those out.
func (h *Hub[P]) Handles() <-chan P {
	return h.handles
}

// Wait blocks until a handle for a live epoch is available
// and returns it, or returns false once ctx is done.
//
// A handle whose epoch already ended is discarded.
// Any later zero-to-one transition finds the slot empty
// and offers a fresh handle, so no activation is lost.
func (h *Hub[P]) Wait(ctx context.Context) (P, bool) {
	for {
		select {
		case <-ctx.Done():
			var zero P
			return zero, false
		case p := <-h.handles:
			if h.Count() > 0 {
				return p, true
			}
		}
	}
}

// Exit marks the producer as permanently gone.
// Calling Exit more than once is a no-op.
func (h *Hub[P]) Exit() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exited {
		return
	}

	h.exited = true
	close(h.exitedCh)
}

// Exited returns a channel that is closed after [*Hub.Exit].
func (h *Hub[P]) Exited() <-chan struct{} {
	return h.exitedCh
}
