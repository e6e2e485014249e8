package bsignal

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/internal/bactivate"
)

// Producer is the body of a signal's producer goroutine.
// It has the same shape as an emitter producer:
// wait for an activation, publish until all subscribers are gone, repeat.
type Producer[T any] func(ctx context.Context, ps *PublisherStream[T]) error

// Signal is a demand-driven broadcast of a single, current value.
//
// Create a Signal with [New].
// A Signal is safe for concurrent use.
type Signal[T any] struct {
	log *slog.Logger

	hub  *bactivate.Hub[*Publisher[T]]
	cell *cell[T]
}

// New starts producer in a new goroutine and returns the signal it feeds,
// along with a [beacon.Completion] that resolves when producer returns.
// The signal holds initial until the producer publishes.
func New[T any](
	ctx context.Context,
	log *slog.Logger,
	initial T,
	producer Producer[T],
) (*Signal[T], *beacon.Completion) {
	s := &Signal[T]{
		log:  log,
		cell: newCell(initial),
	}
	s.hub = bactivate.NewHub(func() *Publisher[T] {
		return &Publisher[T]{s: s}
	})

	ps := &PublisherStream[T]{hub: s.hub}

	c := beacon.Start(ctx, func(ctx context.Context) error {
		defer s.shutdown()
		return producer(ctx, ps)
	})

	return s, c
}

func (s *Signal[T]) shutdown() {
	s.hub.Exit()
	s.cell.close()

	s.log.Debug("Signal producer exited")
}

// Subscribe returns a new subscription.
// The current value counts as already observed,
// so [*Subscription.Changed] waits for the next publish.
//
// If this is the only subscription, the producer is activated.
// If the producer has already returned,
// Subscribe returns [beacon.ErrProducerExited].
func (s *Signal[T]) Subscribe() (*Subscription[T], error) {
	// Read the version before activating,
	// so that anything the new activation publishes counts as a change.
	_, version := s.cell.load()

	id, activated, err := s.hub.Acquire()
	if err != nil {
		return nil, err
	}

	if activated {
		s.log.Debug("Activating signal producer")
	}

	return &Subscription[T]{
		s:    s,
		id:   id,
		seen: version,
	}, nil
}

// Peek returns the current value without subscribing.
// It does not activate the producer,
// so the value may be stale while the signal is dormant.
func (s *Signal[T]) Peek() T {
	v, _ := s.cell.load()
	return v
}

// Subscribers returns the current number of live subscriptions.
func (s *Signal[T]) Subscribers() int {
	return int(s.hub.Count())
}

// PublisherStream is the producer's source of activations.
type PublisherStream[T any] struct {
	hub *bactivate.Hub[*Publisher[T]]
}

// Wait blocks until the signal gains its first subscriber
// and returns the publisher for the new activation.
// It returns false if ctx is done first.
func (ps *PublisherStream[T]) Wait(ctx context.Context) (*Publisher[T], bool) {
	return ps.hub.Wait(ctx)
}

// Activations exposes the handoff channel directly,
// for producers that need to select on it alongside other channels.
// Unlike Wait, it may yield a publisher whose activation already ended,
// in which case AllUnsubscribed is already closed.
func (ps *PublisherStream[T]) Activations() <-chan *Publisher[T] {
	return ps.hub.Handles()
}

// Publisher is the producer's handle for one activation.
type Publisher[T any] struct {
	s *Signal[T]
}

// Publish replaces the current value and wakes every subscription
// waiting in [*Subscription.Changed].
// The value is stored even if there are no subscriptions.
func (p *Publisher[T]) Publish(v T) {
	p.s.cell.replace(v)
}

// PublishIf calls modify with the current value.
// If modify reports a change, subscribers are notified
// as they would be for [*Publisher.Publish];
// otherwise nobody is woken.
//
// modify runs while the signal's lock is held,
// so it must not call back into the signal.
func (p *Publisher[T]) PublishIf(modify func(*T) bool) bool {
	return p.s.cell.replaceIf(modify)
}

// AllUnsubscribed returns a channel that is closed
// once no subscriptions remain.
func (p *Publisher[T]) AllUnsubscribed() <-chan struct{} {
	return p.s.hub.AllReleased()
}

// Subscription is one caller's view of a [Signal].
//
// A Subscription must not be used concurrently.
// Call [*Subscription.Unsubscribe] when it is no longer needed.
type Subscription[T any] struct {
	s  *Signal[T]
	id uint

	// Last version this subscription observed.
	seen uint64

	unsubscribed atomic.Bool
}

// Changed blocks until a value newer than the last observed one
// has been published, and marks it observed.
//
// Once the producer has returned and nothing new remains,
// Changed returns [beacon.ErrProducerExited].
// If ctx is done first, Changed returns the context's cause.
func (sub *Subscription[T]) Changed(ctx context.Context) error {
	if sub.unsubscribed.Load() {
		panic(errors.New("BUG: Changed called after Unsubscribe"))
	}

	for {
		version, wait, closed := sub.s.cell.changedSince(sub.seen)
		if wait == nil {
			if closed {
				return beacon.ErrProducerExited
			}

			sub.seen = version
			return nil
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-wait:
			// Check again.
		}
	}
}

// Get returns the current value and marks it observed.
func (sub *Subscription[T]) Get() T {
	v, version := sub.s.cell.load()
	sub.seen = version
	return v
}

// ForEach calls fn with the current value,
// and again after every change, until the producer exits.
// The subscription is dropped when ForEach returns.
//
// ForEach returns nil when the producer exits,
// or the context's cause if ctx is done first.
func (sub *Subscription[T]) ForEach(ctx context.Context, fn func(T)) error {
	defer sub.Unsubscribe()

	for {
		fn(sub.Get())

		if err := sub.Changed(ctx); err != nil {
			if errors.Is(err, beacon.ErrProducerExited) {
				return nil
			}
			return err
		}
	}
}

// Unsubscribe drops the subscription.
// Calling Unsubscribe more than once is a no-op.
func (sub *Subscription[T]) Unsubscribe() {
	if sub.unsubscribed.Swap(true) {
		return
	}

	if sub.s.hub.Release(sub.id) {
		sub.s.log.Debug("Last signal subscription dropped")
	}
}
