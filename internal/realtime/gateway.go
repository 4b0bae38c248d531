// Package realtime routes inbound client commands through the Gateway, the
// single entry point that binds connections, joins and leaves rooms, and
// publishes messages after their durable write.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Gateway validates inbound commands and dispatches them to the directory
// and dispatcher. For send, the durable store is called synchronously first
// to obtain the canonical id and sequence; if that write fails the event is
// not fanned out at all.
type Gateway struct {
	registry   *Registry
	directory  *Directory
	dispatcher *Dispatcher
	presence   *PresenceTracker
	store      DurableStore
	logger     *slog.Logger

	historyLimit int

	// roomsMu serializes record-then-publish per room so delivery order
	// always matches the store-assigned sequence numbers.
	mu      sync.Mutex
	roomsMu map[RoomID]*sync.Mutex
}

// NewGateway assembles the core and wires the registry's open/close cascade:
// presence announcements and membership cleanup. historyLimit bounds the
// recent-message replay sent on join; zero disables replay.
func NewGateway(registry *Registry, directory *Directory, dispatcher *Dispatcher, presence *PresenceTracker, store DurableStore, historyLimit int, logger *slog.Logger) *Gateway {
	g := &Gateway{
		registry:     registry,
		directory:    directory,
		dispatcher:   dispatcher,
		presence:     presence,
		store:        store,
		logger:       logger,
		historyLimit: historyLimit,
		roomsMu:      make(map[RoomID]*sync.Mutex),
	}

	registry.OnOpen(func(_ ConnID, identity Identity, first bool) {
		if first {
			presence.announceOnline(identity)
		}
	})
	// Memberships are captured before removal so the offline announcement
	// reaches the rooms the user shared with others.
	registry.OnClose(func(id ConnID, identity Identity, last bool) {
		rooms := directory.DropConnection(id)
		if last {
			presence.announceOffline(identity, rooms)
		}
	})

	return g
}

// Connect binds a transport to a new connection. The identity has already
// been verified by the authentication collaborator; an empty identity is an
// anonymous, global-only connection.
func (g *Gateway) Connect(t Transport, identity Identity) ConnID {
	return g.registry.Register(t, identity)
}

// Disconnect closes a connection and cascades its cleanup. Idempotent.
func (g *Gateway) Disconnect(id ConnID) {
	g.registry.MarkClosed(id)
}

// Heartbeat refreshes the connection's liveness window.
func (g *Gateway) Heartbeat(id ConnID) error {
	return g.registry.Heartbeat(id)
}

// Join subscribes the connection to a room and returns the member count.
// On success the joining connection receives a roomJoined event followed by
// a bounded replay of the room's recent history.
func (g *Gateway) Join(ctx context.Context, id ConnID, room RoomID) (int, error) {
	n, err := g.directory.Join(id, room)
	if err != nil {
		return 0, err
	}

	if data, err := json.Marshal(RoomJoined(room, n)); err == nil {
		_ = g.registry.Send(id, data)
	}
	g.replayHistory(ctx, id, room)

	return n, nil
}

// Leave unsubscribes the connection from a room. Always succeeds; leaving a
// room the connection never joined is a no-op.
func (g *Gateway) Leave(id ConnID, room RoomID) {
	g.directory.Leave(id, room)
}

// Send records a message durably and fans it out to the room with self-echo
// suppression. The durable write happens first: on failure the error is
// returned to the sender and nothing is delivered. The room's ordering lock
// is held from sequence assignment through fan-out, so concurrent senders
// cannot deliver sequence N+1 ahead of N.
func (g *Gateway) Send(ctx context.Context, id ConnID, room RoomID, payload json.RawMessage) (RoomEvent, error) {
	if !g.directory.IsMember(id, room) {
		return RoomEvent{}, fmt.Errorf("send to %s: %w", room, ErrRoomAccessDenied)
	}
	author := g.registry.IdentityOf(id)

	lock := g.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	rec, err := g.store.RecordMessage(ctx, room, author, payload)
	if err != nil {
		g.logger.Error("durable message write failed", "room", room, "author", author, "error", err)
		return RoomEvent{}, fmt.Errorf("record message: %w", ErrDurableWriteFailed)
	}

	ev := RoomEvent{
		ID:               rec.ID,
		Room:             room,
		Author:           author,
		Payload:          payload,
		Sequence:         rec.Sequence,
		CreatedAt:        rec.CreatedAt,
		SuppressSelfEcho: true,
	}
	g.dispatcher.Publish(ev)
	return ev, nil
}

// SendToUser records a notification durably and delivers it to every open
// connection of the recipient. Requires an authenticated sender.
func (g *Gateway) SendToUser(ctx context.Context, id ConnID, recipient Identity, payload json.RawMessage) (NotificationEvent, error) {
	author := g.registry.IdentityOf(id)
	if author == "" {
		return NotificationEvent{}, fmt.Errorf("notify %s: %w", recipient, ErrAuthRequired)
	}

	rec, err := g.store.RecordNotification(ctx, recipient, payload)
	if err != nil {
		g.logger.Error("durable notification write failed", "recipient", recipient, "error", err)
		return NotificationEvent{}, fmt.Errorf("record notification: %w", ErrDurableWriteFailed)
	}

	ev := NotificationEvent{
		ID:        rec.ID,
		Recipient: recipient,
		Payload:   payload,
		CreatedAt: rec.CreatedAt,
	}
	g.dispatcher.PublishToUser(recipient, ev)
	return ev, nil
}

// Presence exposes the derived presence view.
func (g *Gateway) Presence() *PresenceTracker {
	return g.presence
}

// Stats reports connection, user, and room counts for the health endpoint.
func (g *Gateway) Stats() map[string]any {
	return map[string]any{
		"connections":  g.registry.ConnectionCount(),
		"online_users": g.registry.OnlineUserCount(),
		"rooms":        g.directory.RoomCount(),
	}
}

func (g *Gateway) roomLock(room RoomID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	l := g.roomsMu[room]
	if l == nil {
		l = &sync.Mutex{}
		g.roomsMu[room] = l
	}
	return l
}

// replayHistory pushes the room's recent messages to a freshly joined
// connection. Best effort: a failed replay is logged and the join still
// succeeds.
func (g *Gateway) replayHistory(ctx context.Context, id ConnID, room RoomID) {
	if g.historyLimit <= 0 {
		return
	}

	records, err := g.store.RecentMessages(ctx, room, g.historyLimit)
	if err != nil {
		g.logger.Warn("history replay failed", "room", room, "error", err)
		return
	}
	for _, rec := range records {
		data, err := json.Marshal(MessageReceived(RoomEvent{
			ID:        rec.ID,
			Room:      rec.Room,
			Author:    rec.Author,
			Payload:   rec.Payload,
			Sequence:  rec.Sequence,
			CreatedAt: rec.CreatedAt,
		}))
		if err != nil {
			continue
		}
		if err := g.registry.Send(id, data); err != nil {
			return
		}
	}
}
