package relaytest

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/gordian-engine/beacon/relay"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

// Endpoint is a relay listener on loopback,
// with a dialer that trusts it.
type Endpoint struct {
	Listener *quic.Listener
	Dial     relay.DialFunc
}

// NewEndpoint starts a relay listener on an ephemeral loopback port.
// The listener is closed during [*testing.T.Cleanup].
func NewEndpoint(t *testing.T) Endpoint {
	t.Helper()

	ca, err := GenerateCA(time.Hour)
	require.NoError(t, err)

	leaf, err := ca.CreateLeafCert()
	require.NoError(t, err)

	ql, err := relay.Listen(
		"127.0.0.1:0",
		&tls.Config{Certificates: []tls.Certificate{leaf}},
		nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ql.Close()
	})

	dial := relay.Dialer(
		ql.Addr().String(),
		&tls.Config{RootCAs: ca.Pool(), ServerName: "localhost"},
		nil,
	)

	return Endpoint{
		Listener: ql,
		Dial:     dial,
	}
}
