// Package endpoint owns the bridge's single connection to the lighting engine.
//
// The engine is not reentrant, so every command goes through one goroutine
// that serves a FIFO request queue. Callers wait on their own reply channel
// with a bounded timeout; a call that outlives its caller still completes and
// its reply is still handed to the caller's follow-up function.
//
// The main components are:
//
//   - [Engine]: The external engine boundary (Call and Run)
//   - [Endpoint]: The serializing actor in front of an Engine
//
// Engine failures never escape as panics or fatal errors. They are logged
// and turned into error responses (text starting with "! ") so clients see a
// degraded but live system.
package endpoint
