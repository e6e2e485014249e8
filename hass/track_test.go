package hass_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gordian-engine/beacon/hass"
	"github.com/gordian-engine/beacon/internal/btest"
	"github.com/stretchr/testify/require"
)

func TestTrackState(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := hass.NewBus(btest.NewLogger(t))
	initial := b.SetState(kitchen, hass.StateOff, nil)

	s, _ := hass.TrackState(ctx, btest.NewLogger(t), b, b, kitchen)
	require.Same(t, initial, s.Peek())

	// Dormant signals hold no registration.
	require.Zero(t, b.Trackers(kitchen))

	sub, err := s.Subscribe()
	require.NoError(t, err)
	require.Same(t, initial, sub.Get())

	require.Eventually(t, func() bool {
		return b.Trackers(kitchen) == 1
	}, time.Second, time.Millisecond)

	on := b.SetState(kitchen, hass.StateOn, nil)
	require.NoError(t, sub.Changed(ctx))
	require.Same(t, on, sub.Get())

	sub.Unsubscribe()
	require.Eventually(t, func() bool {
		return b.Trackers(kitchen) == 0
	}, time.Second, time.Millisecond)

	// Changes while dormant are picked up on the next activation.
	off := b.SetState(kitchen, hass.StateOff, nil)
	require.Same(t, on, s.Peek())

	sub, err = s.Subscribe()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, sub.Changed(ctx))
	require.Same(t, off, sub.Get())
}

func TestTrackState_removedEntity(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := hass.NewBus(btest.NewLogger(t))
	b.SetState(kitchen, hass.StateOn, nil)

	s, _ := hass.TrackState(ctx, btest.NewLogger(t), b, b, kitchen)

	sub, err := s.Subscribe()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return b.Trackers(kitchen) == 1
	}, time.Second, time.Millisecond)

	b.Remove(kitchen)
	require.NoError(t, sub.Changed(ctx))
	require.Nil(t, sub.Get())
}

// failingSource refuses every registration and counts the attempts.
type failingSource struct {
	attempts atomic.Int32
	calls    chan struct{}
}

func (s *failingSource) TrackStateChange(hass.EntityID, func(hass.StateChangedEvent)) (func(), error) {
	s.attempts.Add(1)
	s.calls <- struct{}{}
	return nil, errors.New("not connected")
}

func TestTrackState_registrationFailureWaitsForNextActivation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := hass.NewBus(btest.NewLogger(t))
	src := &failingSource{calls: make(chan struct{}, 4)}

	s, c := hass.TrackState(ctx, btest.NewLogger(t), b, src, kitchen)
	require.Nil(t, s.Peek())

	sub, err := s.Subscribe()
	require.NoError(t, err)
	_ = btest.ReceiveSoon(t, src.calls)

	// No retry within the same activation, and the producer keeps running.
	btest.NotSending(t, src.calls)
	btest.NotSending(t, c.Done())

	sub.Unsubscribe()

	sub, err = s.Subscribe()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_ = btest.ReceiveSoon(t, src.calls)
	require.Equal(t, int32(2), src.attempts.Load())
}

func TestTrackState_contextCancelUntracks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := hass.NewBus(btest.NewLogger(t))

	trackCtx, trackCancel := context.WithCancel(ctx)
	s, c := hass.TrackState(trackCtx, btest.NewLogger(t), b, b, kitchen)

	sub, err := s.Subscribe()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return b.Trackers(kitchen) == 1
	}, time.Second, time.Millisecond)

	trackCancel()
	_ = btest.ReceiveSoon(t, c.Done())
	require.NoError(t, c.Err())
	require.Zero(t, b.Trackers(kitchen))
}

// racingStates returns a stale state from Get after a write lands
// between its read and its return, once armed.
type racingStates struct {
	bus    *hass.Bus
	entity hass.EntityID
	armed  atomic.Bool
}

func (r *racingStates) Get(entity hass.EntityID) (*hass.StateObject, bool) {
	so, ok := r.bus.Get(entity)
	if r.armed.Swap(false) {
		r.bus.SetState(r.entity, hass.StateOn, nil)
	}
	return so, ok
}

func TestTrackState_writeDuringCatchUpIsKept(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := hass.NewBus(btest.NewLogger(t))
	b.SetState(kitchen, hass.StateOff, nil)

	states := &racingStates{bus: b, entity: kitchen}
	s, _ := hass.TrackState(ctx, btest.NewLogger(t), states, b, kitchen)

	states.armed.Store(true)
	sub, err := s.Subscribe()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, sub.Changed(ctx))
	require.Equal(t, hass.StateOn, sub.Get().State)

	// Nothing later reverts to the stale read.
	changedCtx, changedCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer changedCancel()
	require.ErrorIs(t, sub.Changed(changedCtx), context.DeadlineExceeded)
	require.Equal(t, hass.StateOn, sub.Get().State)

	cur, _ := b.Get(kitchen)
	require.Same(t, cur, s.Peek())
}
