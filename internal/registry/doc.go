// Package registry tracks the websocket connections attached to the bridge.
//
// This package is internal to lightbridge and owns the set of open client
// connections. Every engine reply is fanned out to all of them, so the
// registry is the only place that enumerates broadcast targets.
//
// The main components are:
//
//   - [Registry]: Thread-safe token to connection map with broadcast
//   - [Connection]: One client's outbound queue and live flag
//
// Delivery is best-effort per connection. Each connection has a bounded
// outbound buffer; when it is full the oldest queued payload is discarded
// to make room, so a slow client never stalls a broadcast to the others.
package registry
