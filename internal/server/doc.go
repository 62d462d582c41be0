// Package server provides the HTTP and websocket front end of the bridge.
//
// This package is internal to lightbridge and handles all client-facing
// concerns:
//
//   - Control page: Serves the embedded HTML control page at "/"
//   - Command channel: Websocket at "/ws" carrying plain-text commands and replies
//   - Status push: A per-connection ticker that polls "sysinfo?" and "status?"
//
// Every reply is broadcast to all open connections, not just the one that
// sent the command. Engine state is shared, so every client sees the same
// view.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
