package bsignal

import "sync"

// cell is the latest-value slot shared by every subscription of one signal.
type cell[T any] struct {
	mu sync.Mutex

	val     T
	version uint64

	// Closed and replaced on every version bump.
	// Closed without replacement when the cell is closed.
	notify chan struct{}

	closed bool
}

func newCell[T any](initial T) *cell[T] {
	return &cell[T]{
		val:    initial,
		notify: make(chan struct{}),
	}
}

func (c *cell[T]) replace(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.val = v
	c.bump()
}

func (c *cell[T]) replaceIf(modify func(*T) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !modify(&c.val) {
		return false
	}

	c.bump()
	return true
}

// bump must be called with c.mu held.
func (c *cell[T]) bump() {
	c.version++

	if c.closed {
		return
	}

	close(c.notify)
	c.notify = make(chan struct{})
}

func (c *cell[T]) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.notify)
}

func (c *cell[T]) load() (T, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.val, c.version
}

// changedSince reports whether the version is past seen.
// If it is not and the cell is still open,
// wait is closed once that may have changed.
func (c *cell[T]) changedSince(seen uint64) (
	version uint64, wait <-chan struct{}, closed bool,
) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version > seen {
		return c.version, nil, false
	}
	if c.closed {
		return c.version, nil, true
	}
	return c.version, c.notify, false
}
