package relay

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated by relay peers.
const ALPN = "beacon-relay/1"

// Application error codes used when closing relay connections.
const (
	// The client has no more subscribers, or the server is shutting down.
	CodeNormal quic.ApplicationErrorCode = 0

	// The server's source emitter exited; no more events will follow.
	CodeSourceExited quic.ApplicationErrorCode = 1

	// Writing to the stream failed.
	CodeStreamFailed quic.ApplicationErrorCode = 2
)

// DefaultQUICConfig returns the QUIC settings used when none are given.
// Keepalives hold an idle subscription open across NAT timeouts.
func DefaultQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

func withALPN(tlsConf *tls.Config) *tls.Config {
	c := tlsConf.Clone()
	c.NextProtos = []string{ALPN}
	return c
}

// Listen starts a QUIC listener for a [Server] on addr.
// tlsConf must carry the server certificate; its NextProtos are replaced.
// If qc is nil, [DefaultQUICConfig] is used.
func Listen(addr string, tlsConf *tls.Config, qc *quic.Config) (*quic.Listener, error) {
	if qc == nil {
		qc = DefaultQUICConfig()
	}
	return quic.ListenAddr(addr, withALPN(tlsConf), qc)
}

// DialFunc opens a connection to a relay server.
type DialFunc func(ctx context.Context) (quic.Connection, error)

// Dialer returns a DialFunc for the server at addr.
// tlsConf must trust the server certificate; its NextProtos are replaced.
// If qc is nil, [DefaultQUICConfig] is used.
func Dialer(addr string, tlsConf *tls.Config, qc *quic.Config) DialFunc {
	if qc == nil {
		qc = DefaultQUICConfig()
	}
	tlsConf = withALPN(tlsConf)

	return func(ctx context.Context) (quic.Connection, error) {
		return quic.DialAddr(ctx, addr, tlsConf, qc)
	}
}
