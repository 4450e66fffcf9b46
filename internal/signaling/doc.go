// Package signaling models the relay protocol and owns the persistent
// websocket connection to the signaling relay.
//
// The relay only brokers call setup; media flows peer-to-peer. Messages are a
// tagged union validated strictly on both encode and decode so a misbehaving
// relay (or peer) can never smuggle unexpected fields into the call state
// machine.
package signaling
