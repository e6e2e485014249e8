package hass

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bsignal"
)

// TrackState returns a signal of entity's state.
// The value is nil while the entity has no state.
//
// A state-change callback is registered with src only while
// the signal has subscribers; once the last one unsubscribes
// the callback is untracked and the signal goes dormant.
// On each activation the current state is re-read from states,
// since changes made while dormant were not observed.
func TrackState(
	ctx context.Context,
	log *slog.Logger,
	states StateMachine,
	src EventSource,
	entity EntityID,
) (*bsignal.Signal[*StateObject], *beacon.Completion) {
	log = log.With("entity_id", entity.String())

	initial, _ := states.Get(entity)

	t := tracker{
		log:    log,
		states: states,
		src:    src,
		entity: entity,
	}
	return bsignal.New(ctx, log, initial, t.run)
}

type tracker struct {
	log    *slog.Logger
	states StateMachine
	src    EventSource
	entity EntityID
}

func (t tracker) run(ctx context.Context, ps *bsignal.PublisherStream[*StateObject]) error {
	for {
		pub, ok := ps.Wait(ctx)
		if !ok {
			return nil
		}

		t.trackUntilIdle(ctx, pub)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (t tracker) trackUntilIdle(ctx context.Context, pub *bsignal.Publisher[*StateObject]) {
	idle := pub.AllUnsubscribed()

	// Guards delivered, and orders callback publishes against the catch-up.
	var mu sync.Mutex
	delivered := false

	untrack, err := t.src.TrackStateChange(t.entity, func(ev StateChangedEvent) {
		mu.Lock()
		defer mu.Unlock()

		delivered = true
		pub.Publish(ev.NewState)
	})
	if err != nil {
		t.log.Warn(
			"Failed to track state changes; waiting for next activation",
			"err", err,
		)

		select {
		case <-ctx.Done():
		case <-idle:
		}
		return
	}

	// Catch up on anything that changed while dormant.
	// Once any callback has run, the signal already holds a state
	// written after registration, which is newer than cur may be.
	cur, _ := t.states.Get(t.entity)
	mu.Lock()
	if !delivered {
		pub.PublishIf(func(v **StateObject) bool {
			if *v == cur {
				return false
			}
			*v = cur
			return true
		})
	}
	mu.Unlock()

	t.log.Debug("Tracking state changes")

	select {
	case <-ctx.Done():
		t.log.Debug(
			"Stopping state tracking due to context cancellation",
			"cause", context.Cause(ctx),
		)
	case <-idle:
		t.log.Debug("Stopping state tracking; no subscribers remain")
	}

	untrack()
}
