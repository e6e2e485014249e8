package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gordian-engine/beacon/hass"
	"github.com/stretchr/testify/require"
)

func parseMap(m map[string]string) (Config, error) {
	return ParseConfig(env.Options{Environment: m})
}

func TestParseConfig_defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseMap(map[string]string{
		"BEACON_BULB_ADDR": "192.168.1.20",
	})
	require.NoError(t, err)

	require.Equal(t, "192.168.1.20:9999", cfg.BulbAddr)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 30*time.Second, cfg.IdleTimeout)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, hass.MustParseEntityID("light.beacon_lamp"), cfg.Entity)
	require.Equal(t, 64, cfg.Capacity)
	require.Empty(t, cfg.RelayAddr)
	require.Empty(t, cfg.LogFile)
}

func TestParseConfig_overrides(t *testing.T) {
	t.Parallel()

	cfg, err := parseMap(map[string]string{
		"BEACON_BULB_ADDR":       "bulb.lan:10000",
		"BEACON_POLL_INTERVAL":   "500ms",
		"BEACON_LOG_LEVEL":       "debug",
		"BEACON_ENTITY_ID":       "light.porch",
		"BEACON_RELAY_ADDR":      "0.0.0.0:4433",
		"BEACON_RELAY_CERT_FILE": "cert.pem",
		"BEACON_RELAY_KEY_FILE":  "key.pem",
	})
	require.NoError(t, err)

	require.Equal(t, "bulb.lan:10000", cfg.BulbAddr)
	require.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, "porch", string(cfg.Entity.ObjectID))
	require.Equal(t, "0.0.0.0:4433", cfg.RelayAddr)
}

func TestParseConfig_errors(t *testing.T) {
	t.Parallel()

	for name, m := range map[string]map[string]string{
		"missing bulb": {},
		"zero interval": {
			"BEACON_BULB_ADDR":     "bulb",
			"BEACON_POLL_INTERVAL": "0s",
		},
		"zero capacity": {
			"BEACON_BULB_ADDR": "bulb",
			"BEACON_CAPACITY":  "0",
		},
		"malformed entity": {
			"BEACON_BULB_ADDR": "bulb",
			"BEACON_ENTITY_ID": "Light.Porch",
		},
		"not a light": {
			"BEACON_BULB_ADDR": "bulb",
			"BEACON_ENTITY_ID": "switch.porch",
		},
		"relay without cert": {
			"BEACON_BULB_ADDR":  "bulb",
			"BEACON_RELAY_ADDR": ":4433",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := parseMap(m)
			require.Error(t, err)
		})
	}
}
