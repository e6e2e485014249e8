package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bemitter"
	"github.com/quic-go/quic-go"
	"go.opentelemetry.io/otel/metric"
)

// RemoteConfig is the optional configuration for [NewRemote].
type RemoteConfig struct {
	// Frames larger than this end the connection.
	// Zero means [DefaultMaxFrameSize].
	MaxFrameSize int

	// NewBackOff returns the policy for redialing within one activation.
	// If nil, an exponential backoff that never gives up is used;
	// dialing stops when the last subscriber leaves.
	NewBackOff func() backoff.BackOff

	// Source of instruments. If nil, the global provider is used.
	MeterProvider metric.MeterProvider
}

// errNoSubscribers is the cancellation cause of an activation
// whose subscribers have all gone.
var errNoSubscribers = errors.New("no subscribers remain")

// NewRemote returns an emitter fed by a relay server.
//
// The server is dialed when the emitter gains its first subscriber
// and the connection is closed once it has none.
// Connection failures while subscribed are retried with backoff.
// When the server reports that its source exited,
// the returned emitter exits too.
func NewRemote(
	ctx context.Context,
	log *slog.Logger,
	dial DialFunc,
	capacity int,
	cfg RemoteConfig,
) (*bemitter.Emitter[[]byte], *beacon.Completion) {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}

	r := remote{
		log:  log,
		dial: dial,
		cfg:  cfg,
		m:    newMetrics(log, cfg.MeterProvider),
	}
	return bemitter.New(ctx, log, capacity, r.run)
}

type remote struct {
	log  *slog.Logger
	dial DialFunc
	cfg  RemoteConfig
	m    *metrics
}

func (r remote) run(ctx context.Context, ps *bemitter.PublisherStream[[]byte]) error {
	for {
		pub, ok := ps.Wait(ctx)
		if !ok {
			return nil
		}

		if r.runActivation(ctx, pub) {
			r.log.Info("Relay server reported source exit")
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// runActivation relays frames until subscribers are gone or ctx is done.
// It reports whether the server's source exited.
func (r remote) runActivation(ctx context.Context, pub *bemitter.Publisher[[]byte]) (sourceExited bool) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	idle := pub.AllUnsubscribed()
	go func() {
		select {
		case <-idle:
			cancel(errNoSubscribers)
		case <-ctx.Done():
		}
	}()

	b := backoff.WithContext(r.cfg.NewBackOff(), ctx)

	// Paces redials after a connection that was established and then lost.
	// Dial failures are paced by b, which connect resets on every call.
	redial := backoff.WithContext(r.cfg.NewBackOff(), ctx)

	for {
		conn, err := r.connect(ctx, b)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn("Giving up on relay server until next activation", "err", err)
				select {
				case <-ctx.Done():
				case <-idle:
				}
			}
			return false
		}

		exited, received, err := r.relay(ctx, conn, pub)
		if exited {
			return true
		}
		if ctx.Err() != nil {
			r.log.Debug("Closing relay connection", "cause", context.Cause(ctx))
			return false
		}

		if received > 0 {
			// The connection delivered, so start pacing over.
			redial.Reset()
		}

		next := redial.NextBackOff()
		if next == backoff.Stop {
			r.log.Warn("Giving up on relay server until next activation", "err", err)
			select {
			case <-ctx.Done():
			case <-idle:
			}
			return false
		}

		r.log.Info("Relay connection failed; reconnecting", "err", err, "retry_in", next)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(next):
		}
	}
}

func (r remote) connect(ctx context.Context, b backoff.BackOff) (quic.Connection, error) {
	var conn quic.Connection
	err := backoff.RetryNotify(
		func() error {
			r.m.dials.Add(ctx, 1)

			c, err := r.dial(ctx)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		b,
		func(err error, next time.Duration) {
			r.log.Info("Failed to dial relay server; will retry", "err", err, "retry_in", next)
		},
	)
	return conn, err
}

// relay reads frames from conn until it fails or ctx is done,
// reporting how many frames it published.
// The connection is always closed before relay returns.
func (r remote) relay(
	ctx context.Context, conn quic.Connection, pub *bemitter.Publisher[[]byte],
) (sourceExited bool, received int, err error) {
	// Reads do not take a context; closing the connection unblocks them.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.CloseWithError(CodeNormal, "no subscribers")
	})
	defer stop()
	defer func() {
		_ = conn.CloseWithError(CodeNormal, "")
	}()

	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		return isSourceExit(err), 0, err
	}

	br := bufio.NewReader(stream)
	for {
		b, err := ReadFrame(br, r.cfg.MaxFrameSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, received, nil
			}
			return isSourceExit(err), received, err
		}

		received++
		r.m.framesReceived.Add(ctx, 1)
		pub.Publish(b)
	}
}

// isSourceExit reports whether err is the server closing the connection
// because its source exited.
func isSourceExit(err error) bool {
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr) &&
		appErr.Remote &&
		appErr.ErrorCode == CodeSourceExited
}
