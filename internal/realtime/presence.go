// Package realtime derives per-user online state from the connection
// registry in the presence Tracker.
package realtime

import (
	"log/slog"
	"sort"
)

// PresenceTracker is a read-only derived view over the registry and the
// directory: a user is online iff they own at least one open connection.
// It subscribes to registry transitions to announce online/offline changes
// but never mutates either underlying structure.
type PresenceTracker struct {
	registry   *Registry
	directory  *Directory
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewPresenceTracker creates a tracker over the registry and directory.
// Presence announcements flow through the dispatcher.
func NewPresenceTracker(registry *Registry, directory *Directory, dispatcher *Dispatcher, logger *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		registry:   registry,
		directory:  directory,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// IsOnline reports whether the identity has at least one open connection.
func (p *PresenceTracker) IsOnline(identity Identity) bool {
	return len(p.registry.ConnectionsOf(identity)) > 0
}

// OnlineMembersOf returns the distinct identities with an open connection in
// the room. Anonymous connections are not represented.
func (p *PresenceTracker) OnlineMembersOf(room RoomID) []Identity {
	seen := make(map[Identity]struct{})
	for _, id := range p.directory.MembersOf(room) {
		identity := p.registry.IdentityOf(id)
		if identity == "" {
			continue
		}
		seen[identity] = struct{}{}
	}

	out := make([]Identity, 0, len(seen))
	for identity := range seen {
		out = append(out, identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// announceOnline broadcasts a user's transition to online. Emitted from the
// registry's open cascade when the user's first connection opens; at that
// point the new connection has no memberships yet, so only the admin room is
// notified.
func (p *PresenceTracker) announceOnline(identity Identity) {
	if identity == "" {
		return
	}
	p.logger.Info("user online", "identity", identity)
	p.dispatcher.Broadcast(AdminRoom, PresenceChanged(identity, true))
}

// announceOffline broadcasts a user's transition to offline to the admin
// room and to each room the closed connection shared with others.
func (p *PresenceTracker) announceOffline(identity Identity, rooms []RoomID) {
	if identity == "" {
		return
	}
	p.logger.Info("user offline", "identity", identity)

	ev := PresenceChanged(identity, false)
	p.dispatcher.Broadcast(AdminRoom, ev)
	for _, room := range rooms {
		if room == AdminRoom {
			continue
		}
		p.dispatcher.Broadcast(room, ev)
	}
}
