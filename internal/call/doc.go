// Package call owns the call lifecycle. A single event loop consumes user
// commands and signaling traffic, drives media capture and the peer transport,
// and guarantees that every termination path releases the same resources.
//
// All collaborators are injected as interfaces so the loop can be exercised
// deterministically in tests with a fake clock and fake transports.
package call
