// Package audit relays security-relevant events to a Sink without blocking
// the request path.
//
// The engine decides which events to emit; this package only buffers and
// delivers them. Sinks must never receive secrets, tokens or hashes.
package audit
