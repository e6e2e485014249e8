package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gordian-engine/beacon/hass"
	"github.com/gordian-engine/beacon/kasa"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from BEACON_* environment variables.
type Config struct {
	// Host of the bulb, with or without a port.
	BulbAddr string `env:"BEACON_BULB_ADDR,required"`

	PollInterval   time.Duration `env:"BEACON_POLL_INTERVAL" envDefault:"2s"`
	IdleTimeout    time.Duration `env:"BEACON_IDLE_TIMEOUT" envDefault:"30s"`
	RequestTimeout time.Duration `env:"BEACON_REQUEST_TIMEOUT" envDefault:"5s"`

	// Entity the bulb's readings are mirrored into.
	Entity hass.EntityID `env:"BEACON_ENTITY_ID" envDefault:"light.beacon_lamp"`

	LogLevel slog.Level `env:"BEACON_LOG_LEVEL" envDefault:"info"`

	// When set, logs are also written as JSON to this file, rotated by size.
	LogFile       string `env:"BEACON_LOG_FILE"`
	LogMaxSizeMB  int    `env:"BEACON_LOG_MAX_SIZE_MB" envDefault:"10"`
	LogMaxBackups int    `env:"BEACON_LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"BEACON_LOG_MAX_AGE_DAYS" envDefault:"14"`

	// When set, entity states are served to relay clients on this UDP address.
	RelayAddr     string `env:"BEACON_RELAY_ADDR"`
	RelayCertFile string `env:"BEACON_RELAY_CERT_FILE"`
	RelayKeyFile  string `env:"BEACON_RELAY_KEY_FILE"`

	// Events retained for slow relay clients.
	Capacity int `env:"BEACON_CAPACITY" envDefault:"64"`
}

// LoadConfig loads dotenvPath into the environment, if it exists,
// and then parses the environment.
// Variables already set in the environment take precedence over the file.
func LoadConfig(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
		}
	}

	return ParseConfig(env.Options{})
}

// ParseConfig parses and validates the configuration.
// Set opts.Environment to parse from a map instead of the process environment.
func ParseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.BulbAddr = withDefaultPort(cfg.BulbAddr, kasa.DefaultPort)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("BEACON_POLL_INTERVAL must be positive (got %s)", c.PollInterval)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("BEACON_IDLE_TIMEOUT must be positive (got %s)", c.IdleTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("BEACON_REQUEST_TIMEOUT must be positive (got %s)", c.RequestTimeout)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("BEACON_CAPACITY must be positive (got %d)", c.Capacity)
	}
	if c.Entity.Domain != hass.DomainLight {
		return fmt.Errorf("BEACON_ENTITY_ID must be a light entity (got %s)", c.Entity)
	}

	if c.RelayAddr != "" && (c.RelayCertFile == "" || c.RelayKeyFile == "") {
		return errors.New(
			"BEACON_RELAY_CERT_FILE and BEACON_RELAY_KEY_FILE are required when BEACON_RELAY_ADDR is set",
		)
	}

	return nil
}
