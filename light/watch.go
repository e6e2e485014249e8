package light

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bsignal"
)

// Reading is the most recent observation of a light.
type Reading struct {
	State State

	// False until a poll succeeds, and again after any poll fails.
	// State keeps its last known value while unreachable.
	Reachable bool
}

// Watch returns a signal of r's state.
//
// r is polled every interval, but only while the signal has subscribers.
// Subscribers are only woken when the reading differs from the last one.
func Watch(
	ctx context.Context,
	log *slog.Logger,
	r Reader,
	interval time.Duration,
) (*bsignal.Signal[Reading], *beacon.Completion) {
	if interval <= 0 {
		panic(fmt.Errorf("BUG: Watch interval must be positive (got %s)", interval))
	}

	w := watcher{log: log, r: r, interval: interval}
	return bsignal.New(ctx, log, Reading{}, w.run)
}

type watcher struct {
	log      *slog.Logger
	r        Reader
	interval time.Duration
}

func (w watcher) run(ctx context.Context, ps *bsignal.PublisherStream[Reading]) error {
	for {
		pub, ok := ps.Wait(ctx)
		if !ok {
			return nil
		}

		w.log.Debug("Starting to poll light")
		w.pollUntilIdle(ctx, pub)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (w watcher) pollUntilIdle(ctx context.Context, pub *bsignal.Publisher[Reading]) {
	idle := pub.AllUnsubscribed()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.poll(ctx, pub)

		select {
		case <-ctx.Done():
			return
		case <-idle:
			w.log.Debug("Stopping light poll; no subscribers remain")
			return
		case <-ticker.C:
			// Poll again.
		}
	}
}

func (w watcher) poll(ctx context.Context, pub *bsignal.Publisher[Reading]) {
	pollCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	s, err := w.r.State(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Info("Failed to read light state", "err", err)

		// Keep the last known state.
		pub.PublishIf(func(cur *Reading) bool {
			if !cur.Reachable {
				return false
			}
			cur.Reachable = false
			return true
		})
		return
	}

	next := Reading{State: s, Reachable: true}
	pub.PublishIf(func(cur *Reading) bool {
		if *cur == next {
			return false
		}
		*cur = next
		return true
	})
}
