// Package realtime defines the error taxonomy shared by the core components.
package realtime

import "errors"

var (
	// ErrAuthRequired is returned when a command that needs a bound user
	// identity arrives on an anonymous connection.
	ErrAuthRequired = errors.New("authentication required")

	// ErrRoomAccessDenied is returned when the authorization collaborator
	// refuses a join.
	ErrRoomAccessDenied = errors.New("room access denied")

	// ErrDurableWriteFailed is returned when the durable store cannot record
	// an event. The event is never fanned out in that case.
	ErrDurableWriteFailed = errors.New("durable write failed")

	// ErrDeliveryFailed reports a failed delivery to a single connection,
	// typically a full outbound buffer. It is handled internally by the
	// dispatcher and never surfaced to the publisher.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrConnectionStale marks a connection that missed its heartbeat window
	// and was closed by the registry sweeper.
	ErrConnectionStale = errors.New("connection stale")

	// ErrUnknownConnection is returned for commands addressed to a connection
	// id the registry does not track or has already closed.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrUnknownCommand is returned for command types outside the protocol,
	// so clients can tell their own mistake from a server fault.
	ErrUnknownCommand = errors.New("unknown command")
)

// ErrorCode maps a core error to the stable string code carried in command
// acknowledgements on the wire.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, ErrRoomAccessDenied):
		return "room_access_denied"
	case errors.Is(err, ErrDurableWriteFailed):
		return "durable_write_failed"
	case errors.Is(err, ErrConnectionStale):
		return "connection_stale"
	case errors.Is(err, ErrUnknownConnection):
		return "unknown_connection"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	default:
		return "internal_error"
	}
}
