// Package btest contains helpers for beacon's tests.
package btest

import (
	"testing"
	"time"
)

// ScheduleTimeout is how long the channel helpers wait
// for a value that should arrive "soon".
// It is generous so that tests stay reliable on loaded CI machines.
const ScheduleTimeout = 250 * time.Millisecond

// NegativeTimeout is how long [NotSending] waits
// to be reasonably sure that nothing is arriving.
const NegativeTimeout = 15 * time.Millisecond

// ReceiveSoon receives a value from ch,
// failing the test if no value arrives within [ScheduleTimeout].
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(ScheduleTimeout):
		t.Fatalf("did not receive value within %s", ScheduleTimeout)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScheduleTimeout].
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
		// Okay.
	case <-time.After(ScheduleTimeout):
		t.Fatalf("could not send value within %s", ScheduleTimeout)
	}
}

// IsSending fails the test if ch does not have a value ready immediately.
// It is most useful for channels that are closed to signal an event.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		// Okay.
	default:
		t.Fatal("channel was not sending")
	}
}

// NotSending fails the test if ch produces a value within [NegativeTimeout].
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel should not have been sending")
	case <-time.After(NegativeTimeout):
		// Okay.
	}
}

// NetworkTimeout bounds waits that include a network handshake.
const NetworkTimeout = 5 * time.Second

// ReceiveEventually is like [ReceiveSoon] but waits up to [NetworkTimeout].
func ReceiveEventually[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(NetworkTimeout):
		t.Fatalf("did not receive value within %s", NetworkTimeout)
	}

	panic("unreachable")
}
