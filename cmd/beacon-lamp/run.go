package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gordian-engine/beacon"
	"github.com/gordian-engine/beacon/bemitter"
	"github.com/gordian-engine/beacon/bsignal"
	"github.com/gordian-engine/beacon/hass"
	"github.com/gordian-engine/beacon/kasa"
	"github.com/gordian-engine/beacon/light"
	"github.com/gordian-engine/beacon/relay"
)

const shutdownTimeout = 5 * time.Second

// run mirrors the bulb into its entity until ctx is canceled.
func run(ctx context.Context, log *slog.Logger, cfg Config) error {
	h := kasa.NewHandle(ctx, log.With("sys", "kasa"), kasa.HandleConfig{
		Addr:           cfg.BulbAddr,
		IdleTimeout:    cfg.IdleTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})
	defer h.Close()

	bus := hass.NewBus(log.With("sys", "bus"))

	if cfg.RelayAddr != "" {
		_, stop, err := startRelay(ctx, log.With("sys", "relay"), cfg, bus)
		if err != nil {
			return err
		}
		defer stop()
	}

	readings, _ := light.Watch(ctx, log.With("sys", "watch"), h, cfg.PollInterval)
	sub, err := readings.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to light readings: %w", err)
	}

	m := mirror{
		log:    log.With("entity_id", cfg.Entity.String()),
		bus:    bus,
		entity: cfg.Entity,
		attrs: map[string]any{
			"device_address": cfg.BulbAddr,
		},
	}
	err = sub.ForEach(ctx, m.apply)
	if ctx.Err() != nil {
		log.Info("Stopping", "cause", context.Cause(ctx))
		return nil
	}
	if err == nil {
		return errors.New("light watcher stopped unexpectedly")
	}
	return err
}

// mirror writes light readings into a bus entity.
type mirror struct {
	log *slog.Logger

	bus    *hass.Bus
	entity hass.EntityID
	attrs  map[string]any
}

func (m mirror) apply(r light.Reading) {
	state := hass.StateUnavailable
	if r.Reachable {
		state = hass.StateOff
		if r.State == light.On {
			state = hass.StateOn
		}
	}

	so := m.bus.SetState(m.entity, state, m.attrs)
	m.log.Info("Light reading", "state", so.State, "last_changed", so.LastChanged)
}

// startRelay serves changes to the entity over QUIC on the returned address.
// The returned stop function ends every session and closes the listener.
func startRelay(
	ctx context.Context, log *slog.Logger, cfg Config, bus *hass.Bus,
) (addr net.Addr, stop func(), err error) {
	cert, err := tls.LoadX509KeyPair(cfg.RelayCertFile, cfg.RelayKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load relay certificate: %w", err)
	}

	ql, err := relay.Listen(cfg.RelayAddr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", cfg.RelayAddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)

	// Each stage is only active while a relay client is connected.
	states, trackDone := hass.TrackState(ctx, log, bus, bus, cfg.Entity)
	changes, changesDone := bsignal.Changes(ctx, log, states, cfg.Capacity)
	frames, framesDone := bemitter.FilterMap(ctx, log, changes, cfg.Capacity, encodeState(log))

	srv := relay.NewServer(ctx, log, ql, frames, relay.ServerConfig{})
	log.Info("Relaying entity state", "addr", ql.Addr().String(), "entity_id", cfg.Entity.String())

	return ql.Addr(), func() {
		cancel()
		srv.Wait()
		_ = ql.Close()
		waitStages(log, trackDone, changesDone, framesDone)
	}, nil
}

func encodeState(log *slog.Logger) func(*hass.StateObject) ([]byte, bool) {
	return func(so *hass.StateObject) ([]byte, bool) {
		b, err := json.Marshal(so)
		if err != nil {
			log.Warn("Dropping state that failed to encode", "err", err)
			return nil, false
		}
		return b, true
	}
}

// waitStages waits a bounded time for pipeline stages to return,
// logging any that failed.
func waitStages(log *slog.Logger, stages ...*beacon.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, c := range stages {
		if err := c.Wait(ctx); err != nil {
			log.Warn("Relay pipeline stage did not stop cleanly", "err", err)
		}
	}
}
