package relay

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/gordian-engine/beacon/relay"

type metrics struct {
	framesSent     metric.Int64Counter
	framesReceived metric.Int64Counter
	laggedEvents   metric.Int64Counter
	sessions       metric.Int64Counter
	dials          metric.Int64Counter
}

// newMetrics creates the relay instruments from mp,
// or from the global provider if mp is nil.
// If any instrument fails to register, every instrument is a no-op.
func newMetrics(log *slog.Logger, mp metric.MeterProvider) *metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	m, err := buildMetrics(mp.Meter(meterName))
	if err != nil {
		log.Warn("Metrics initialization failed; using no-op instruments", "err", err)
		m, _ = buildMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func buildMetrics(meter metric.Meter) (*metrics, error) {
	framesSent, err := meter.Int64Counter("beacon.relay.frames_sent",
		metric.WithDescription("Number of events written to relay streams"),
	)
	if err != nil {
		return nil, err
	}

	framesReceived, err := meter.Int64Counter("beacon.relay.frames_received",
		metric.WithDescription("Number of events read from relay streams"),
	)
	if err != nil {
		return nil, err
	}

	laggedEvents, err := meter.Int64Counter("beacon.relay.lagged_events",
		metric.WithDescription("Number of events skipped by relay sessions that fell behind"),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64Counter("beacon.relay.sessions",
		metric.WithDescription("Number of relay sessions accepted"),
	)
	if err != nil {
		return nil, err
	}

	dials, err := meter.Int64Counter("beacon.relay.dials",
		metric.WithDescription("Number of connection attempts to a relay server"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{
		framesSent:     framesSent,
		framesReceived: framesReceived,
		laggedEvents:   laggedEvents,
		sessions:       sessions,
		dials:          dials,
	}, nil
}
