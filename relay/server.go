package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bemitter"
	"github.com/quic-go/quic-go"
	"go.opentelemetry.io/otel/metric"
)

// Listener is the part of [*quic.Listener] used by [Server].
type Listener interface {
	Accept(ctx context.Context) (quic.Connection, error)
}

// ServerConfig is the optional configuration for [NewServer].
type ServerConfig struct {
	// Source of instruments. If nil, the global provider is used.
	MeterProvider metric.MeterProvider

	// How long to wait for the client to close the connection
	// after the final frame, before closing it from this side.
	// Zero means one second.
	CloseGrace time.Duration
}

// Server streams a byte-slice emitter to every accepted connection.
type Server struct {
	log *slog.Logger
	src *bemitter.Emitter[[]byte]
	m   *metrics

	closeGrace time.Duration

	wg sync.WaitGroup
}

// NewServer starts accepting connections from ql in the background.
// Each connection gets its own subscription to src,
// so src is only active while at least one client is connected.
//
// The server stops accepting when ctx is canceled
// or Accept on ql fails; use [*Server.Wait] to wait for
// all sessions to finish.
func NewServer(
	ctx context.Context,
	log *slog.Logger,
	ql Listener,
	src *bemitter.Emitter[[]byte],
	cfg ServerConfig,
) *Server {
	s := &Server{
		log: log,
		src: src,
		m:   newMetrics(log, cfg.MeterProvider),

		closeGrace: cfg.CloseGrace,
	}
	if s.closeGrace <= 0 {
		s.closeGrace = time.Second
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx, ql)

	return s
}

// Wait blocks until the accept loop and every session have returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ql Listener) {
	defer s.wg.Done()

	for {
		conn, err := ql.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Debug(
					"Stopping accept loop due to context cancellation",
					"cause", context.Cause(ctx),
				)
			} else {
				s.log.Info("Stopping accept loop after failure", "err", err)
			}
			return
		}

		s.m.sessions.Add(ctx, 1)

		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn quic.Connection) {
	defer s.wg.Done()

	log := s.log.With("remote", conn.RemoteAddr().String())

	// End the session if either the server or the connection goes away.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(conn.Context(), func() {
		cancel(context.Cause(conn.Context()))
	})
	defer stop()

	sub, err := s.src.Listen()
	if err != nil {
		log.Debug("Rejecting session; source already exited")
		_ = conn.CloseWithError(CodeSourceExited, "source exited")
		return
	}
	defer sub.Unsubscribe()

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		log.Info("Failed to open relay stream", "err", err)
		_ = conn.CloseWithError(CodeStreamFailed, "failed to open stream")
		return
	}

	log.Debug("Relay session started")

	var buf []byte
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			var lagged bemitter.LaggedError
			if errors.As(err, &lagged) {
				log.Info("Relay session fell behind source", "skipped", lagged.Skipped)
				s.m.laggedEvents.Add(ctx, int64(lagged.Skipped))
				continue
			}

			if errors.Is(err, beacon.ErrProducerExited) {
				log.Debug("Source exited; finishing relay session")
				s.finish(conn, stream)
				return
			}

			log.Debug("Relay session ending", "cause", err)
			_ = conn.CloseWithError(CodeNormal, "session ended")
			return
		}

		buf = AppendFrame(buf[:0], v)
		if _, err := stream.Write(buf); err != nil {
			log.Info("Failed to write relay frame; ending session", "err", err)
			_ = conn.CloseWithError(CodeStreamFailed, "write failed")
			return
		}
		s.m.framesSent.Add(ctx, 1)
	}
}

// finish ends the stream cleanly so the client sees the end of the
// final frame, then gives the client a moment to close the connection.
func (s *Server) finish(conn quic.Connection, stream quic.SendStream) {
	_ = stream.Close()

	select {
	case <-conn.Context().Done():
	case <-time.After(s.closeGrace):
	}

	_ = conn.CloseWithError(CodeSourceExited, "source exited")
}
