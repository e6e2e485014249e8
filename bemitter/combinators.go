package bemitter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gordian-engine/beacon"
)

// errDownstreamIdle is the cancellation cause of an epoch context
// once the derived emitter has no subscribers left.
var errDownstreamIdle = errors.New("all downstream subscriptions dropped")

// Map returns an emitter that publishes f(v)
// for every value v published by upstream.
func Map[T, M any](
	ctx context.Context,
	log *slog.Logger,
	upstream *Emitter[T],
	capacity int,
	f func(T) M,
) (*Emitter[M], *beacon.Completion) {
	return derive(ctx, log, upstream, capacity, func(v T, p *Publisher[M]) {
		p.Publish(f(v))
	})
}

// Filter returns an emitter that republishes
// only the upstream values for which keep returns true.
func Filter[T any](
	ctx context.Context,
	log *slog.Logger,
	upstream *Emitter[T],
	capacity int,
	keep func(T) bool,
) (*Emitter[T], *beacon.Completion) {
	return derive(ctx, log, upstream, capacity, func(v T, p *Publisher[T]) {
		if keep(v) {
			p.Publish(v)
		}
	})
}

// FilterMut is like [Filter], but keep may modify the value
// before it is republished.
// The modification only affects the derived emitter's copy.
func FilterMut[T any](
	ctx context.Context,
	log *slog.Logger,
	upstream *Emitter[T],
	capacity int,
	keep func(*T) bool,
) (*Emitter[T], *beacon.Completion) {
	return derive(ctx, log, upstream, capacity, func(v T, p *Publisher[T]) {
		if keep(&v) {
			p.Publish(v)
		}
	})
}

// FilterMap returns an emitter that publishes m
// for every upstream value where f returns (m, true).
func FilterMap[T, M any](
	ctx context.Context,
	log *slog.Logger,
	upstream *Emitter[T],
	capacity int,
	f func(T) (M, bool),
) (*Emitter[M], *beacon.Completion) {
	return derive(ctx, log, upstream, capacity, func(v T, p *Publisher[M]) {
		if m, ok := f(v); ok {
			p.Publish(m)
		}
	})
}

// derive builds an emitter whose producer is itself
// a subscriber of upstream, for exactly as long as
// the derived emitter has subscribers.
func derive[T, M any](
	ctx context.Context,
	log *slog.Logger,
	upstream *Emitter[T],
	capacity int,
	forward func(T, *Publisher[M]),
) (*Emitter[M], *beacon.Completion) {
	return New(ctx, log, capacity, func(ctx context.Context, ps *PublisherStream[M]) error {
		for {
			pub, ok := ps.Wait(ctx)
			if !ok {
				log.Debug(
					"Derived emitter stopping due to context cancellation",
					"cause", context.Cause(ctx),
				)
				return nil
			}

			if !runDerivedEpoch(ctx, log, upstream, pub, forward) {
				return nil
			}
		}
	})
}

// runDerivedEpoch forwards upstream values to pub
// until pub has no subscribers.
// It reports whether the derived producer may wait for another activation.
func runDerivedEpoch[T, M any](
	ctx context.Context,
	log *slog.Logger,
	upstream *Emitter[T],
	pub *Publisher[M],
	forward func(T, *Publisher[M]),
) bool {
	sub, err := upstream.Listen()
	if err != nil {
		log.Debug("Upstream emitter exited; stopping derived emitter")
		return false
	}
	defer sub.Unsubscribe()

	idle := pub.AllUnsubscribed()

	epochCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-idle:
			cancel(errDownstreamIdle)
		case <-epochCtx.Done():
		}
	}()

	for {
		// Prefer going dormant over forwarding
		// values that nobody would receive.
		select {
		case <-idle:
			return true
		default:
		}

		v, err := sub.Next(epochCtx)
		if err == nil {
			forward(v, pub)
			continue
		}

		var lagged LaggedError
		switch {
		case errors.As(err, &lagged):
			log.Debug("Derived emitter dropped lagged upstream events", "skipped", lagged.Skipped)
		case errors.Is(err, beacon.ErrProducerExited):
			log.Debug("Upstream emitter exited; stopping derived emitter")
			return false
		case errors.Is(err, errDownstreamIdle):
			return true
		default:
			log.Debug(
				"Derived emitter stopping due to context cancellation",
				"cause", err,
			)
			return false
		}
	}
}
