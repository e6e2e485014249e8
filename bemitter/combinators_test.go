package bemitter_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bemitter"
	"github.com/gordian-engine/beacon/internal/btest"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newControlledFixture[int](t, ctx, 8)

	m, _ := bemitter.Map(ctx, btest.NewLogger(t), fx.E, 8, strconv.Itoa)

	// Upstream stays dormant until the derived emitter is listened to.
	btest.NotSending(t, fx.Pubs)

	sub, err := m.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveSoon(t, fx.Pubs)
	pub.Publish(1)
	pub.Publish(22)

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", got)

	got, err = sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "22", got)
}

func TestFilter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newControlledFixture[int](t, ctx, 8)

	f, _ := bemitter.Filter(ctx, btest.NewLogger(t), fx.E, 8, func(v int) bool {
		return v%2 == 0
	})

	sub, err := f.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveSoon(t, fx.Pubs)
	for i := 1; i <= 6; i++ {
		pub.Publish(i)
	}

	for _, want := range []int{2, 4, 6} {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestFilterMut(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newControlledFixture[int](t, ctx, 8)

	f, _ := bemitter.FilterMut(ctx, btest.NewLogger(t), fx.E, 8, func(v *int) bool {
		if *v < 0 {
			return false
		}
		*v *= 10
		return true
	})

	sub, err := f.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveSoon(t, fx.Pubs)
	pub.Publish(-1)
	pub.Publish(3)

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 30, got)
}

func TestFilterMap(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newControlledFixture[string](t, ctx, 8)

	f, _ := bemitter.FilterMap(ctx, btest.NewLogger(t), fx.E, 8, func(s string) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil
	})

	sub, err := f.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveSoon(t, fx.Pubs)
	pub.Publish("x")
	pub.Publish("12")
	pub.Publish("")
	pub.Publish("7")

	for _, want := range []int{12, 7} {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestFilter_swallowsUpstreamLag(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newControlledFixture[int](t, ctx, 2)

	entered := make(chan int, 8)
	release := make(chan struct{})
	f, c := bemitter.Filter(ctx, btest.NewLogger(t), fx.E, 8, func(v int) bool {
		entered <- v
		if v == 1 {
			// Hold the combinator on its first value
			// so that upstream overruns it.
			<-release
		}
		return v%2 == 0
	})

	sub, err := f.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveSoon(t, fx.Pubs)
	pub.Publish(1)
	require.Equal(t, 1, btest.ReceiveSoon(t, entered))

	// Ring capacity is 2, so 2, 3 and 4 are overwritten
	// before the combinator reads again.
	for i := 2; i <= 6; i++ {
		pub.Publish(i)
	}
	close(release)

	// The lag is neither forwarded nor fatal.
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, got)

	require.Equal(t, 5, btest.ReceiveSoon(t, entered))
	require.Equal(t, 6, btest.ReceiveSoon(t, entered))

	btest.NotSending(t, c.Done())
}

func TestDerived_releasesUpstreamWhenIdle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newControlledFixture[int](t, ctx, 4)

	m, _ := bemitter.Map(ctx, btest.NewLogger(t), fx.E, 4, func(v int) int { return v + 1 })

	sub, err := m.Listen()
	require.NoError(t, err)
	_ = btest.ReceiveSoon(t, fx.Pubs)
	require.Equal(t, 1, fx.E.Subscribers())

	sub.Unsubscribe()

	// Upstream becomes dormant once nobody downstream cares.
	_ = btest.ReceiveSoon(t, fx.Idle)
	require.Zero(t, fx.E.Subscribers())

	// And a new downstream subscriber reactivates upstream.
	sub, err = m.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveSoon(t, fx.Pubs)
	pub.Publish(41)

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestDerived_upstreamExitPropagates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubs := make(chan *bemitter.Publisher[int])
	release := make(chan struct{})
	up, upDone := bemitter.New(
		ctx, btest.NewLogger(t), 4,
		func(ctx context.Context, ps *bemitter.PublisherStream[int]) error {
			p, ok := ps.Wait(ctx)
			if !ok {
				return nil
			}
			pubs <- p
			<-release
			return errors.New("upstream gone")
		},
	)

	m, mDone := bemitter.Map(ctx, btest.NewLogger(t), up, 4, func(v int) int { return -v })

	sub, err := m.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveSoon(t, pubs)
	pub.Publish(5)

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, -5, got)

	close(release)
	_ = btest.ReceiveSoon(t, upDone.Done())
	_ = btest.ReceiveSoon(t, mDone.Done())
	require.NoError(t, mDone.Err())

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, beacon.ErrProducerExited)

	_, err = m.Listen()
	require.ErrorIs(t, err, beacon.ErrProducerExited)
}

func TestDerived_upstreamAlreadyExited(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up, upDone := bemitter.New(
		ctx, btest.NewLogger(t), 4,
		func(context.Context, *bemitter.PublisherStream[int]) error {
			return nil
		},
	)
	_ = btest.ReceiveSoon(t, upDone.Done())

	f, fDone := bemitter.Filter(ctx, btest.NewLogger(t), up, 4, func(int) bool { return true })

	// The derived producer only notices upstream exit on activation.
	sub, err := f.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_ = btest.ReceiveSoon(t, fDone.Done())

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, beacon.ErrProducerExited)
}
