// Package realtime implements the room-based messaging and notification core
// behind the Roomcast server: a connection registry, a bidirectional room
// directory, a fan-out dispatcher with self-echo suppression, a derived
// presence tracker, and the gateway that routes client commands.
//
// The package is transport-agnostic. A live connection is represented by the
// Transport interface; the WebSocket binding lives in internal/server. The
// durable store and the authorization check are external collaborators
// injected through the DurableStore and Authorizer interfaces.
package realtime
