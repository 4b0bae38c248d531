// Package realtime fans published events out to room members and to every
// open connection of a notification recipient.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Dispatcher resolves an event's target connections and delivers to each of
// them. Publishes to the same room are serialized so members observe events
// in publish order; the gateway extends that serialization back over
// sequence assignment, so delivered order matches the store-assigned
// sequence numbers. Publishes to different rooms proceed concurrently. A
// failed delivery is isolated to its connection: it never blocks or rolls
// back delivery to other members.
type Dispatcher struct {
	registry  *Registry
	directory *Directory
	logger    *slog.Logger

	mu        sync.Mutex
	roomLocks map[RoomID]*sync.Mutex
}

// NewDispatcher creates a dispatcher over the given registry and directory.
func NewDispatcher(registry *Registry, directory *Directory, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		directory: directory,
		logger:    logger,
		roomLocks: make(map[RoomID]*sync.Mutex),
	}
}

func (d *Dispatcher) roomLock(room RoomID) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.roomLocks[room]
	if l == nil {
		l = &sync.Mutex{}
		d.roomLocks[room] = l
	}
	return l
}

// Publish delivers a room event to every current member of its room and
// returns the number of successful deliveries. When SuppressSelfEcho is set,
// connections bound to the author's identity are skipped: the sending client
// already rendered the message optimistically and must not receive a
// duplicate.
func (d *Dispatcher) Publish(ev RoomEvent) int {
	lock := d.roomLock(ev.Room)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(MessageReceived(ev))
	if err != nil {
		d.logger.Error("encode room event", "room", ev.Room, "error", err)
		return 0
	}

	delivered := 0
	for _, id := range d.directory.MembersOf(ev.Room) {
		if ev.SuppressSelfEcho && ev.Author != "" && d.registry.IdentityOf(id) == ev.Author {
			continue
		}
		if err := d.registry.Send(id, data); err != nil {
			d.logger.Warn("fan-out delivery failed", "room", ev.Room, "conn_id", id, "error", err)
			continue
		}
		delivered++
	}

	d.logger.Debug("published", "room", ev.Room, "sequence", ev.Sequence, "delivered", delivered)
	return delivered
}

// PublishToUser delivers a notification to every open connection owned by
// the recipient, covering multi-tab delivery. Room membership is not
// required.
func (d *Dispatcher) PublishToUser(identity Identity, ev NotificationEvent) int {
	data, err := json.Marshal(NotificationReceived(ev))
	if err != nil {
		d.logger.Error("encode notification", "recipient", identity, "error", err)
		return 0
	}

	delivered := 0
	for _, id := range d.registry.ConnectionsOf(identity) {
		if err := d.registry.Send(id, data); err != nil {
			d.logger.Warn("notification delivery failed", "recipient", identity, "conn_id", id, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast delivers a pre-built server event to every member of a room,
// with no author suppression and no sequencing. Used for presence
// transitions and other system events.
func (d *Dispatcher) Broadcast(room RoomID, ev ServerEvent) int {
	data, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("encode broadcast", "room", room, "error", err)
		return 0
	}

	delivered := 0
	for _, id := range d.directory.MembersOf(room) {
		if err := d.registry.Send(id, data); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}
