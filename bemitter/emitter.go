package bemitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/internal/bactivate"
)

// Producer is the body of an emitter's producer goroutine.
//
// A typical producer loops on [*PublisherStream.Wait],
// publishes until [*Publisher.AllUnsubscribed] is closed,
// releases whatever it acquired for the activation,
// and then waits again.
// Once the producer returns, the emitter can never be activated again.
type Producer[T any] func(ctx context.Context, ps *PublisherStream[T]) error

// Emitter is a demand-driven, lossy, single-producer event broadcast.
//
// Create an Emitter with [New].
// An Emitter is safe for concurrent use.
type Emitter[T any] struct {
	log *slog.Logger

	hub  *bactivate.Hub[*Publisher[T]]
	ring *ring[T]
}

// New starts producer in a new goroutine and returns the emitter it feeds,
// along with a [beacon.Completion] that resolves when producer returns.
//
// The capacity is the number of values retained for slow subscribers,
// and it must be positive.
//
// The producer is given ctx.
// Canceling ctx is the only way to stop a producer that is not
// otherwise written to return.
func New[T any](
	ctx context.Context,
	log *slog.Logger,
	capacity int,
	producer Producer[T],
) (*Emitter[T], *beacon.Completion) {
	if capacity < 1 {
		panic(fmt.Errorf(
			"BUG: emitter capacity must be positive (got %d)", capacity,
		))
	}

	e := &Emitter[T]{
		log:  log,
		ring: newRing[T](capacity),
	}
	e.hub = bactivate.NewHub(func() *Publisher[T] {
		return &Publisher[T]{e: e}
	})

	ps := &PublisherStream[T]{hub: e.hub}

	c := beacon.Start(ctx, func(ctx context.Context) error {
		defer e.shutdown()
		return producer(ctx, ps)
	})

	return e, c
}

func (e *Emitter[T]) shutdown() {
	e.hub.Exit()
	e.ring.close()

	e.log.Debug("Emitter producer exited")
}

// Listen returns a new subscription,
// which observes every value published after Listen returns.
//
// If this is the only subscription, the producer is activated.
// If the producer has already returned,
// Listen returns [beacon.ErrProducerExited].
func (e *Emitter[T]) Listen() (*Subscription[T], error) {
	// The cursor must be taken before the producer can be activated,
	// so that nothing the activation publishes is missed.
	cursor := e.ring.position()

	id, activated, err := e.hub.Acquire()
	if err != nil {
		return nil, err
	}

	if activated {
		e.log.Debug("Activating emitter producer")
	}

	return &Subscription[T]{
		e:      e,
		id:     id,
		cursor: cursor,
	}, nil
}

// Subscribers returns the current number of live subscriptions.
func (e *Emitter[T]) Subscribers() int {
	return int(e.hub.Count())
}

// PublisherStream is the producer's source of activations.
type PublisherStream[T any] struct {
	hub *bactivate.Hub[*Publisher[T]]
}

// Wait blocks until the emitter gains its first subscriber
// and returns the publisher for the new activation.
// It returns false if ctx is done first.
func (s *PublisherStream[T]) Wait(ctx context.Context) (*Publisher[T], bool) {
	return s.hub.Wait(ctx)
}

// Activations exposes the handoff channel directly,
// for producers that need to select on it alongside other channels.
// Unlike Wait, it may yield a publisher whose activation already ended,
// in which case AllUnsubscribed is already closed.
func (s *PublisherStream[T]) Activations() <-chan *Publisher[T] {
	return s.hub.Handles()
}

// Publisher is the producer's handle for one activation.
type Publisher[T any] struct {
	e *Emitter[T]
}

// Publish delivers v to every current subscription.
// It never blocks.
// If there are no subscriptions, v is discarded.
func (p *Publisher[T]) Publish(v T) {
	if p.e.hub.Count() == 0 {
		return
	}
	p.e.ring.push(v)
}

// AllUnsubscribed returns a channel that is closed
// once no subscriptions remain.
//
// Call it each time it is needed rather than retaining the channel
// across activations; each activation has its own channel.
func (p *Publisher[T]) AllUnsubscribed() <-chan struct{} {
	return p.e.hub.AllReleased()
}

// Subscription is one caller's view of an [Emitter].
//
// A Subscription must not be used concurrently.
// Call [*Subscription.Unsubscribe] when it is no longer needed,
// otherwise the producer never observes that it can go dormant.
type Subscription[T any] struct {
	e  *Emitter[T]
	id uint

	cursor uint64

	unsubscribed atomic.Bool
}

// Next blocks until a value is available and returns it.
//
// The returned error is a [LaggedError] if the subscription fell behind,
// [beacon.ErrProducerExited] once the producer has returned
// and every retained value has been read,
// or the cause of ctx if ctx is done first.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	if s.unsubscribed.Load() {
		panic(errors.New("BUG: Next called after Unsubscribe"))
	}

	for {
		v, skipped, wait, res := s.e.ring.read(&s.cursor)
		switch res {
		case readValue:
			return v, nil
		case readLagged:
			return v, LaggedError{Skipped: skipped}
		case readClosed:
			return v, beacon.ErrProducerExited
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, context.Cause(ctx)
		case <-wait:
			// Retry the read.
		}
	}
}

// Unsubscribe drops the subscription.
// If it was the last one, the producer's
// [*Publisher.AllUnsubscribed] channel is closed.
// Calling Unsubscribe more than once is a no-op.
func (s *Subscription[T]) Unsubscribe() {
	if s.unsubscribed.Swap(true) {
		return
	}

	if s.e.hub.Release(s.id) {
		s.e.log.Debug("Last emitter subscription dropped")
	}
}
