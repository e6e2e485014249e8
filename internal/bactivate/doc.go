// Package bactivate implements the activation protocol
// shared by every broadcast flavor in beacon.
//
// A [Hub] counts live subscribers.
// On the transition from zero to one subscriber,
// it offers a fresh activation handle to the producer
// through a single-capacity handoff channel.
// On the transition from one to zero subscribers,
// it closes the channel returned by [*Hub.AllReleased],
// which is how the producer learns that nobody is listening.
package bactivate
