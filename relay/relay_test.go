package relay_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bemitter"
	"github.com/gordian-engine/beacon/internal/btest"
	"github.com/gordian-engine/beacon/relay"
	"github.com/gordian-engine/beacon/relay/relaytest"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// source is a local emitter whose activations are handed to the test.
// Closing Release makes its producer return.
type source struct {
	E *bemitter.Emitter[[]byte]
	C *beacon.Completion

	Pubs    <-chan *bemitter.Publisher[[]byte]
	Idle    <-chan struct{}
	Release chan<- struct{}
}

func newSource(t *testing.T, ctx context.Context) source {
	t.Helper()

	pubs := make(chan *bemitter.Publisher[[]byte], 1)
	idle := make(chan struct{}, 16)
	release := make(chan struct{})

	e, c := bemitter.New(
		ctx, btest.NewLogger(t), 16,
		func(ctx context.Context, ps *bemitter.PublisherStream[[]byte]) error {
			for {
				var p *bemitter.Publisher[[]byte]
				select {
				case <-ctx.Done():
					return nil
				case <-release:
					return nil
				case p = <-ps.Activations():
				}

				pubs <- p

				select {
				case <-ctx.Done():
					return nil
				case <-release:
					return nil
				case <-p.AllUnsubscribed():
					idle <- struct{}{}
				}
			}
		},
	)

	return source{
		E: e,
		C: c,

		Pubs:    pubs,
		Idle:    idle,
		Release: release,
	}
}

func newMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// counterValue sums every data point of the named int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "expected Sum[int64] for %s", name)

			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func nextSoon(t *testing.T, ctx context.Context, sub *bemitter.Subscription[[]byte]) ([]byte, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(ctx, btest.NetworkTimeout)
	defer cancel()
	return sub.Next(ctx)
}

func TestRelay_endToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mp, reader := newMeterProvider()
	ep := relaytest.NewEndpoint(t)
	src := newSource(t, ctx)

	srvCtx, srvCancel := context.WithCancel(ctx)
	srv := relay.NewServer(
		srvCtx, btest.NewLogger(t), ep.Listener, src.E,
		relay.ServerConfig{MeterProvider: mp},
	)

	remote, _ := relay.NewRemote(
		ctx, btest.NewLogger(t), ep.Dial, 16,
		relay.RemoteConfig{MeterProvider: mp},
	)

	// Nothing connects until the remote emitter is listened to.
	btest.NotSending(t, src.Pubs)

	sub, err := remote.Listen()
	require.NoError(t, err)

	pub := btest.ReceiveEventually(t, src.Pubs)
	pub.Publish([]byte("a"))
	pub.Publish([]byte("bb"))

	got, err := nextSoon(t, ctx, sub)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)

	got, err = nextSoon(t, ctx, sub)
	require.NoError(t, err)
	require.Equal(t, []byte("bb"), got)

	require.Eventually(t, func() bool {
		return counterValue(t, reader, "beacon.relay.frames_sent") == 2
	}, btest.NetworkTimeout, 10*time.Millisecond)
	require.Equal(t, int64(2), counterValue(t, reader, "beacon.relay.frames_received"))
	require.Equal(t, int64(1), counterValue(t, reader, "beacon.relay.sessions"))

	// Dropping the last remote subscriber closes the connection,
	// which in turn releases the server's subscription to the source.
	sub.Unsubscribe()
	_ = btest.ReceiveEventually(t, src.Idle)

	// And listening again reconnects.
	sub, err = remote.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub = btest.ReceiveEventually(t, src.Pubs)
	pub.Publish([]byte("c"))

	got, err = nextSoon(t, ctx, sub)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), got)
	require.Equal(t, int64(2), counterValue(t, reader, "beacon.relay.sessions"))

	srvCancel()

	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	_ = btest.ReceiveEventually(t, done)
}

func TestRelay_sourceExitPropagates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mp, _ := newMeterProvider()
	ep := relaytest.NewEndpoint(t)
	src := newSource(t, ctx)

	_ = relay.NewServer(
		ctx, btest.NewLogger(t), ep.Listener, src.E,
		relay.ServerConfig{MeterProvider: mp},
	)

	remote, remoteDone := relay.NewRemote(
		ctx, btest.NewLogger(t), ep.Dial, 16,
		relay.RemoteConfig{MeterProvider: mp},
	)

	sub, err := remote.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := btest.ReceiveEventually(t, src.Pubs)
	pub.Publish([]byte("last"))
	close(src.Release)

	// The final event still arrives before the exit.
	got, err := nextSoon(t, ctx, sub)
	require.NoError(t, err)
	require.Equal(t, []byte("last"), got)

	_, err = nextSoon(t, ctx, sub)
	require.ErrorIs(t, err, beacon.ErrProducerExited)

	_ = btest.ReceiveEventually(t, remoteDone.Done())
	require.NoError(t, remoteDone.Err())
}

func TestRemote_dialsOnlyWhileSubscribed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dials atomic.Int32
	dial := func(context.Context) (quic.Connection, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	mp, reader := newMeterProvider()
	remote, done := relay.NewRemote(
		ctx, btest.NewLogger(t), dial, 4,
		relay.RemoteConfig{
			MeterProvider: mp,
			NewBackOff: func() backoff.BackOff {
				return backoff.NewConstantBackOff(time.Millisecond)
			},
		},
	)

	time.Sleep(btest.NegativeTimeout)
	require.Zero(t, dials.Load())

	sub, err := remote.Listen()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return dials.Load() > 2
	}, btest.NetworkTimeout, time.Millisecond)

	sub.Unsubscribe()

	// Give any in-flight attempt a moment to notice, then expect silence.
	time.Sleep(btest.NegativeTimeout)
	settled := dials.Load()
	time.Sleep(btest.NegativeTimeout)
	require.Equal(t, settled, dials.Load())

	require.Equal(t, int64(settled), counterValue(t, reader, "beacon.relay.dials"))

	// Failing to connect never ends the remote emitter.
	btest.NotSending(t, done.Done())
}

func TestRemote_pacesRedialsAfterDroppedConnections(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep := relaytest.NewEndpoint(t)

	// A server that sends one frame per connection and then drops it.
	var accepts atomic.Int32
	go func() {
		for {
			conn, err := ep.Listener.Accept(ctx)
			if err != nil {
				return
			}
			accepts.Add(1)

			go func() {
				s, err := conn.OpenUniStreamSync(ctx)
				if err != nil {
					return
				}
				_, _ = s.Write(relay.AppendFrame(nil, []byte("tick")))
				time.Sleep(5 * time.Millisecond)
				_ = conn.CloseWithError(relay.CodeStreamFailed, "flapping")
			}()
		}
	}()

	const pause = 50 * time.Millisecond
	mp, _ := newMeterProvider()
	remote, _ := relay.NewRemote(
		ctx, btest.NewLogger(t), ep.Dial, 64,
		relay.RemoteConfig{
			MeterProvider: mp,
			NewBackOff: func() backoff.BackOff {
				return backoff.NewConstantBackOff(pause)
			},
		},
	)

	sub, err := remote.Listen()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	b, err := nextSoon(t, ctx, sub)
	require.NoError(t, err)
	require.Equal(t, []byte("tick"), b)

	time.Sleep(6 * pause)

	// Each dropped connection is followed by a pause before redialing.
	n := accepts.Load()
	require.GreaterOrEqual(t, n, int32(2))
	require.LessOrEqual(t, n, int32(9))
}
