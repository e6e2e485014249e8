// Command beacon-lamp watches a Kasa LB130 bulb,
// mirrors its state into a light entity,
// and optionally relays entity state changes to QUIC clients.
//
// Configuration is read from BEACON_* environment variables,
// and from a .env file in the working directory if one exists.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(mainE())
}

func mainE() int {
	cfg, err := LoadConfig(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log, closeLog := newLogger(cfg)
	defer func() {
		_ = closeLog()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("Exiting after failure", "err", err)
		return 1
	}

	log.Info("Shut down cleanly")
	return 0
}
