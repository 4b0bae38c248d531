// Package realtime defines the JSON wire protocol exchanged with clients:
// inbound commands, command acknowledgements, and outbound server events.
package realtime

import (
	"encoding/json"
	"time"
)

// CommandType enumerates the inbound client commands.
type CommandType string

const (
	CmdJoin      CommandType = "join"
	CmdLeave     CommandType = "leave"
	CmdSend      CommandType = "send"
	CmdHeartbeat CommandType = "heartbeat"
)

// Command is an inbound client frame. Exactly one of Room or To is set for
// send: Room targets a room, To targets a user as a notification.
type Command struct {
	Type    CommandType     `json:"type"`
	Room    RoomID          `json:"room,omitempty"`
	To      Identity        `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the synchronous reply to a command. Members carries the room's
// current member count on a successful join.
type Ack struct {
	Type    string      `json:"type"`
	Cmd     CommandType `json:"cmd"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Members int         `json:"members,omitempty"`
}

// NewAck builds the acknowledgement for a completed command.
func NewAck(cmd CommandType, members int, err error) Ack {
	return Ack{
		Type:    "ack",
		Cmd:     cmd,
		OK:      err == nil,
		Error:   ErrorCode(err),
		Members: members,
	}
}

// EventType enumerates the outbound server events.
type EventType string

const (
	EventMessageReceived      EventType = "messageReceived"
	EventNotificationReceived EventType = "notificationReceived"
	EventPresenceChanged      EventType = "presenceChanged"
	EventReconnected          EventType = "reconnected"
	EventRoomJoined           EventType = "roomJoined"
)

// ServerEvent is the outbound envelope pushed to clients. Fields are
// populated per event type; unset fields are omitted on the wire.
type ServerEvent struct {
	Type      EventType       `json:"type"`
	Room      RoomID          `json:"room,omitempty"`
	ID        string          `json:"id,omitempty"`
	Author    Identity        `json:"author,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
	Identity  Identity        `json:"identity,omitempty"`
	Online    bool            `json:"online,omitempty"`
	Members   int             `json:"members,omitempty"`
}

// MessageReceived wraps a room event for delivery.
func MessageReceived(ev RoomEvent) ServerEvent {
	return ServerEvent{
		Type:      EventMessageReceived,
		Room:      ev.Room,
		ID:        ev.ID,
		Author:    ev.Author,
		Payload:   ev.Payload,
		Sequence:  ev.Sequence,
		CreatedAt: ev.CreatedAt,
	}
}

// NotificationReceived wraps a notification for delivery.
func NotificationReceived(ev NotificationEvent) ServerEvent {
	return ServerEvent{
		Type:      EventNotificationReceived,
		ID:        ev.ID,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
}

// PresenceChanged announces a user's online/offline transition.
func PresenceChanged(identity Identity, online bool) ServerEvent {
	return ServerEvent{
		Type:     EventPresenceChanged,
		Identity: identity,
		Online:   online,
	}
}

// RoomJoined confirms a join to the joining connection, including the
// room's member count at join time.
func RoomJoined(room RoomID, members int) ServerEvent {
	return ServerEvent{
		Type:    EventRoomJoined,
		Room:    room,
		Members: members,
	}
}

// Reconnected signals that a client's subscriptions were replayed and
// delivery has resumed. It is emitted by the reconnection controller, not
// the server.
func Reconnected() ServerEvent {
	return ServerEvent{Type: EventReconnected}
}
