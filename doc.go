// Package beacon contains the shared types for demand-driven broadcasting.
//
// A broadcast instance owns a single producer goroutine.
// The producer stays dormant until the first subscriber appears,
// at which point it receives a publisher handle for the new activation.
// It keeps producing until it observes that every subscriber is gone,
// and then waits for the next activation.
//
// Two broadcast flavors are built on that protocol:
// the lossy event broadcast in package bemitter,
// and the coalescing latest-value broadcast in package bsignal.
//
// This package holds the pieces both flavors share:
// the [ErrProducerExited] sentinel and the [Completion] handle
// that resolves when a producer body returns.
package beacon
