// Package server binds the realtime core to the network: it upgrades HTTP
// requests to WebSocket connections, authenticates them, runs the
// per-connection read and write pumps, and exposes the health endpoint.
//
// The implementation is organized into specialized files for server wiring,
// connection pumps, origin checks, and command rate limiting to keep the
// codebase maintainable and testable as the project grows.
package server
