// Package realtime declares the identifiers, room kinds, and collaborator
// interfaces shared by the registry, directory, dispatcher, and gateway.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// ConnID identifies one live transport session.
type ConnID string

// Identity is a verified user identity. The empty string marks an anonymous
// connection, which may only ever subscribe to the global room.
type Identity string

// RoomID identifies a logical broadcast group, e.g. "team-42", "event-7",
// "admin", "global", or "direct:alice:bob".
type RoomID string

// RoomKind classifies a room by the prefix of its identifier.
type RoomKind int

const (
	KindGlobal RoomKind = iota
	KindEvent
	KindTeam
	KindAdmin
	KindDirect
	KindUnknown
)

// AdminRoom is the well-known room that receives presence transitions.
const AdminRoom RoomID = "admin"

// GlobalRoom is the well-known room open to anonymous connections.
const GlobalRoom RoomID = "global"

func (k RoomKind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindEvent:
		return "event"
	case KindTeam:
		return "team"
	case KindAdmin:
		return "admin"
	case KindDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Kind derives the room kind from the identifier. Unrecognized identifiers
// map to KindUnknown, which no identity is authorized to join.
func (r RoomID) Kind() RoomKind {
	s := string(r)
	switch {
	case r == GlobalRoom:
		return KindGlobal
	case r == AdminRoom:
		return KindAdmin
	case strings.HasPrefix(s, "event-"):
		return KindEvent
	case strings.HasPrefix(s, "team-"):
		return KindTeam
	case strings.HasPrefix(s, "direct:"):
		return KindDirect
	default:
		return KindUnknown
	}
}

// ConnState is the liveness state of a connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Transport is the outbound half of a live connection. Send must not block:
// implementations enqueue into a bounded buffer and report ErrDeliveryFailed
// when the buffer is full.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// RoomEvent is the transient fan-out copy of a message published to a room.
// The durable copy lives in the external store; Sequence is the per-room
// monotonic sequence number the store assigned.
type RoomEvent struct {
	ID               string
	Room             RoomID
	Author           Identity
	Payload          json.RawMessage
	Sequence         uint64
	CreatedAt        time.Time
	SuppressSelfEcho bool
}

// NotificationEvent is a per-user notification delivered to every open
// connection of its recipient.
type NotificationEvent struct {
	ID        string
	Recipient Identity
	Payload   json.RawMessage
	CreatedAt time.Time
}

// MessageRecord is the canonical record the durable store returns for a
// recorded message.
type MessageRecord struct {
	ID        string
	Room      RoomID
	Author    Identity
	Payload   json.RawMessage
	Sequence  uint64
	CreatedAt time.Time
}

// NotificationRecord is the canonical record for a recorded notification.
type NotificationRecord struct {
	ID        string
	Recipient Identity
	Payload   json.RawMessage
	CreatedAt time.Time
}

// DurableStore is the external layer of record for messages and
// notifications. The gateway writes to it synchronously before any fan-out;
// a write failure aborts the publish.
type DurableStore interface {
	RecordMessage(ctx context.Context, room RoomID, author Identity, payload json.RawMessage) (MessageRecord, error)
	RecordNotification(ctx context.Context, recipient Identity, payload json.RawMessage) (NotificationRecord, error)
	RecentMessages(ctx context.Context, room RoomID, limit int) ([]MessageRecord, error)
}

// Authorizer is the external authorization collaborator consulted on every
// join.
type Authorizer interface {
	CanJoin(identity Identity, room RoomID) bool
}
