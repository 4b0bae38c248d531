// Package realtime maintains the bidirectional index between rooms and the
// connections subscribed to them in the room Directory.
package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// roomState holds one room's member set and, while the room is empty, the
// pending eviction timer.
type roomState struct {
	id      RoomID
	kind    RoomKind
	members map[ConnID]time.Time
	evict   *time.Timer
}

// Directory maps rooms to their member connections and connections to their
// subscribed rooms. Rooms are created lazily on first join and evicted after
// a grace period once their member set empties, tolerating brief reconnect
// gaps. Mutations to the index are linearized under one lock; reads filter
// against registry liveness so a closed connection is never reported as a
// member even before cleanup has propagated.
type Directory struct {
	mu     sync.Mutex
	rooms  map[RoomID]*roomState
	byConn map[ConnID]map[RoomID]struct{}

	registry *Registry
	authz    Authorizer
	grace    time.Duration
	logger   *slog.Logger
}

// NewDirectory creates a directory over the given registry. Joins are
// checked against authz; grace is how long an empty room survives before
// eviction.
func NewDirectory(registry *Registry, authz Authorizer, grace time.Duration, logger *slog.Logger) *Directory {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Directory{
		rooms:    make(map[RoomID]*roomState),
		byConn:   make(map[ConnID]map[RoomID]struct{}),
		registry: registry,
		authz:    authz,
		grace:    grace,
		logger:   logger,
	}
}

// Join subscribes a connection to a room, creating the room if it does not
// exist, and returns the room's member count after the join. Joining twice
// is idempotent. Anonymous connections may only join the global room; all
// other access is delegated to the authorization collaborator.
func (d *Directory) Join(id ConnID, room RoomID) (int, error) {
	if !d.registry.IsOpen(id) {
		return 0, ErrUnknownConnection
	}

	identity := d.registry.IdentityOf(id)
	if identity == "" && room.Kind() != KindGlobal {
		return 0, fmt.Errorf("join %s: %w", room, ErrAuthRequired)
	}
	if !d.authz.CanJoin(identity, room) {
		return 0, fmt.Errorf("join %s: %w", room, ErrRoomAccessDenied)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rs := d.rooms[room]
	if rs == nil {
		rs = &roomState{
			id:      room,
			kind:    room.Kind(),
			members: make(map[ConnID]time.Time),
		}
		d.rooms[room] = rs
		d.logger.Info("room created", "room", room, "kind", rs.kind)
	}

	// A join cancels any pending eviction.
	if rs.evict != nil {
		rs.evict.Stop()
		rs.evict = nil
	}

	if _, ok := rs.members[id]; !ok {
		rs.members[id] = time.Now()
		set := d.byConn[id]
		if set == nil {
			set = make(map[RoomID]struct{})
			d.byConn[id] = set
		}
		set[room] = struct{}{}
	}

	// The close cascade may have run between the liveness check above and
	// the insert; its DropConnection would then find nothing to remove.
	// Re-verify under the lock and undo, or the membership leaks forever.
	if !d.registry.IsOpen(id) {
		d.leaveLocked(id, room)
		return 0, ErrUnknownConnection
	}

	return d.liveCountLocked(rs), nil
}

// Leave unsubscribes a connection from a room. Leaving a room the connection
// is not in, or a room that does not exist, is a no-op, never an error.
func (d *Directory) Leave(id ConnID, room RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveLocked(id, room)
}

func (d *Directory) leaveLocked(id ConnID, room RoomID) {
	rs := d.rooms[room]
	if rs == nil {
		return
	}
	if _, ok := rs.members[id]; !ok {
		return
	}
	delete(rs.members, id)
	if set := d.byConn[id]; set != nil {
		delete(set, room)
		if len(set) == 0 {
			delete(d.byConn, id)
		}
	}
	if len(rs.members) == 0 {
		d.armEvictionLocked(rs)
	}
}

// armEvictionLocked starts the grace-period timer for an empty room. The
// timer re-checks emptiness when it fires, since a join may have landed and
// raced the Stop.
func (d *Directory) armEvictionLocked(rs *roomState) {
	if rs.evict != nil {
		rs.evict.Stop()
	}
	room := rs.id
	rs.evict = time.AfterFunc(d.grace, func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		cur := d.rooms[room]
		if cur == nil || len(cur.members) > 0 {
			return
		}
		delete(d.rooms, room)
		d.logger.Info("room evicted", "room", room)
	})
}

// MembersOf returns the connections currently subscribed to a room, filtered
// at read time against registry liveness.
func (d *Directory) MembersOf(room RoomID) []ConnID {
	d.mu.Lock()
	rs := d.rooms[room]
	var snapshot []ConnID
	if rs != nil {
		snapshot = make([]ConnID, 0, len(rs.members))
		for id := range rs.members {
			snapshot = append(snapshot, id)
		}
	}
	d.mu.Unlock()

	live := snapshot[:0]
	for _, id := range snapshot {
		if d.registry.IsOpen(id) {
			live = append(live, id)
		}
	}
	return live
}

// IsMember reports whether an open connection is subscribed to a room.
func (d *Directory) IsMember(id ConnID, room RoomID) bool {
	if !d.registry.IsOpen(id) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rs := d.rooms[room]
	if rs == nil {
		return false
	}
	_, ok := rs.members[id]
	return ok
}

// RoomsOf returns the rooms a connection is subscribed to.
func (d *Directory) RoomsOf(id ConnID) []RoomID {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.byConn[id]
	rooms := make([]RoomID, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	return rooms
}

// DropConnection removes a closed connection from every room it was in and
// returns those rooms. Invoked from the registry's close cascade; no
// membership survives its connection.
func (d *Directory) DropConnection(id ConnID) []RoomID {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.byConn[id]
	rooms := make([]RoomID, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		d.leaveLocked(id, room)
	}
	return rooms
}

// RoomCount returns the number of live rooms.
func (d *Directory) RoomCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// liveCountLocked counts members that the registry still reports open.
func (d *Directory) liveCountLocked(rs *roomState) int {
	n := 0
	for id := range rs.members {
		if d.registry.IsOpen(id) {
			n++
		}
	}
	return n
}
