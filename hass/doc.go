// Package hass tracks Home Assistant entity state as demand-driven signals.
//
// [TrackState] turns an [EventSource] and [StateMachine] into a
// [bsignal.Signal] that only holds a state-change registration
// while something is subscribed to it.
// [Bus] is an in-memory implementation of both interfaces.
package hass
