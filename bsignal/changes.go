package bsignal

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bemitter"
)

var errEmitterIdle = errors.New("all emitter subscriptions dropped")

// Changes returns an emitter of s's values.
//
// While the emitter has subscribers it holds one subscription to s,
// publishing the current value on activation and then every change it observes.
// Rapid changes may coalesce, as they do for any signal subscriber.
// The emitter exits when s's producer exits.
func Changes[T any](
	ctx context.Context,
	log *slog.Logger,
	s *Signal[T],
	capacity int,
) (*bemitter.Emitter[T], *beacon.Completion) {
	return bemitter.New(ctx, log, capacity, func(ctx context.Context, ps *bemitter.PublisherStream[T]) error {
		for {
			pub, ok := ps.Wait(ctx)
			if !ok {
				return nil
			}

			if !forwardChanges(ctx, log, s, pub) {
				return nil
			}
		}
	})
}

// forwardChanges reports whether the emitter may wait for another activation.
func forwardChanges[T any](
	ctx context.Context,
	log *slog.Logger,
	s *Signal[T],
	pub *bemitter.Publisher[T],
) bool {
	sub, err := s.Subscribe()
	if err != nil {
		log.Debug("Signal exited; stopping change emitter")
		return false
	}
	defer sub.Unsubscribe()

	idle := pub.AllUnsubscribed()

	epochCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-idle:
			cancel(errEmitterIdle)
		case <-epochCtx.Done():
		}
	}()

	pub.Publish(sub.Get())

	for {
		err := sub.Changed(epochCtx)
		switch {
		case err == nil:
			pub.Publish(sub.Get())
		case errors.Is(err, beacon.ErrProducerExited):
			log.Debug("Signal exited; stopping change emitter")
			return false
		case errors.Is(err, errEmitterIdle):
			return true
		default:
			return false
		}
	}
}
