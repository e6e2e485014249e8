// Package relay carries a byte-slice emitter across a QUIC connection.
//
// A [Server] subscribes to a local [bemitter.Emitter] once per accepted
// connection and streams every event on a unidirectional stream.
// [NewRemote] is the other end: an emitter whose producer dials the server
// only while it has subscribers, so the remote source is itself demand-driven.
//
// Each event on the wire is a uvarint length followed by the payload.
package relay
