// Package kasa drives TP-Link Kasa smart bulbs over their local TCP protocol.
//
// Every message is JSON, obfuscated with an autokey XOR cipher
// and prefixed with its big-endian 32-bit length.
// A [Handle] owns the TCP connection in a single goroutine,
// connecting on first use, reconnecting with backoff after I/O failures,
// and disconnecting after a period of inactivity.
//
// [*Handle] implements the interfaces in package light,
// so it can feed a demand-driven state poller from [light.Watch].
package kasa
