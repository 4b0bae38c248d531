// Package realtime tracks live connections, their identities, and their
// liveness in the connection Registry.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxDeliveryFailures is the number of consecutive failed deliveries after
// which a connection is forced closed.
const maxDeliveryFailures = 3

// connection is the registry's record of one live transport session.
type connection struct {
	id        ConnID
	identity  Identity
	state     ConnState
	lastSeen  time.Time
	transport Transport
	failures  int
}

// OpenFunc observes a connection opening. firstForUser is true when this is
// the identity's only open connection, i.e. the user just came online.
type OpenFunc func(id ConnID, identity Identity, firstForUser bool)

// CloseFunc observes a connection closing. lastForUser is true when the
// identity has no open connections left, i.e. the user just went offline.
type CloseFunc func(id ConnID, identity Identity, lastForUser bool)

// Registry owns every live connection. It is the single linearized map keyed
// by connection id; all other components read liveness through it.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnID]*connection
	byUser map[Identity]map[ConnID]struct{}

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration
	logger           *slog.Logger

	onOpen  []OpenFunc
	onClose []CloseFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry creates a registry that treats connections silent for longer
// than heartbeatTimeout as dead. The stale sweeper runs every sweepInterval
// once Start is called.
func NewRegistry(heartbeatTimeout, sweepInterval time.Duration, logger *slog.Logger) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = heartbeatTimeout / 2
	}
	return &Registry{
		conns:            make(map[ConnID]*connection),
		byUser:           make(map[Identity]map[ConnID]struct{}),
		heartbeatTimeout: heartbeatTimeout,
		sweepInterval:    sweepInterval,
		logger:           logger,
		stopCh:           make(chan struct{}),
	}
}

// OnOpen registers an open listener. Listeners run synchronously after the
// connection becomes OPEN, in registration order.
func (r *Registry) OnOpen(fn OpenFunc) {
	r.onOpen = append(r.onOpen, fn)
}

// OnClose registers a close listener. Listeners run synchronously after the
// connection transitions to CLOSED, in registration order. The gateway wires
// membership cleanup and presence fan-out here.
func (r *Registry) OnClose(fn CloseFunc) {
	r.onClose = append(r.onClose, fn)
}

// Register binds a transport to a fresh connection id. An empty identity is
// an anonymous connection, which may only ever join the global room.
func (r *Registry) Register(t Transport, identity Identity) ConnID {
	id := ConnID(uuid.NewString())
	c := &connection{
		id:        id,
		identity:  identity,
		state:     StateOpen,
		lastSeen:  time.Now(),
		transport: t,
	}

	r.mu.Lock()
	r.conns[id] = c
	first := false
	if identity != "" {
		set := r.byUser[identity]
		if set == nil {
			set = make(map[ConnID]struct{})
			r.byUser[identity] = set
		}
		first = len(set) == 0
		set[id] = struct{}{}
	}
	r.mu.Unlock()

	r.logger.Info("connection registered", "conn_id", id, "identity", identity)

	for _, fn := range r.onOpen {
		fn(id, identity, first)
	}
	return id
}

// MarkClosed transitions a connection to CLOSED and cascades: the transport
// is closed, close listeners remove room memberships, and the presence
// record is updated. Idempotent.
func (r *Registry) MarkClosed(id ConnID) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	c.state = StateClosed
	identity := c.identity
	last := false
	if identity != "" {
		set := r.byUser[identity]
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, identity)
			last = true
		}
	}
	t := c.transport
	c.transport = nil
	r.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}

	r.logger.Info("connection closed", "conn_id", id, "identity", identity, "last_for_user", last)

	for _, fn := range r.onClose {
		fn(id, identity, last)
	}
}

// Heartbeat refreshes a connection's last-seen timestamp.
func (r *Registry) Heartbeat(id ConnID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.lastSeen = time.Now()
	return nil
}

// IsOpen reports whether the connection is tracked and OPEN.
func (r *Registry) IsOpen(id ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return ok && c.state == StateOpen
}

// IdentityOf returns the identity bound to a connection, or the empty
// identity when the connection is anonymous or unknown.
func (r *Registry) IdentityOf(id ConnID) Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.conns[id]; ok {
		return c.identity
	}
	return ""
}

// ConnectionsOf returns every OPEN connection owned by the identity.
func (r *Registry) ConnectionsOf(identity Identity) []ConnID {
	if identity == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[identity]
	ids := make([]ConnID, 0, len(set))
	for id := range set {
		if c, ok := r.conns[id]; ok && c.state == StateOpen {
			ids = append(ids, id)
		}
	}
	return ids
}

// Send enqueues data on the connection's transport. A failed delivery is
// counted against the connection; after maxDeliveryFailures consecutive
// failures the connection is forced closed. The transport is invoked outside
// the registry lock so a misbehaving transport cannot stall Heartbeat,
// Register, or the sweeper.
func (r *Registry) Send(id ConnID, data []byte) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	var t Transport
	if ok && c.state == StateOpen {
		t = c.transport
	}
	r.mu.RUnlock()
	if t == nil {
		return ErrUnknownConnection
	}

	err := t.Send(data)

	r.mu.Lock()
	c, ok = r.conns[id]
	if !ok {
		// The connection closed while the send was in flight; nothing left
		// to account against.
		r.mu.Unlock()
		return err
	}
	forceClose := false
	failures := 0
	if err != nil {
		c.failures++
		failures = c.failures
		forceClose = c.failures >= maxDeliveryFailures
	} else {
		c.failures = 0
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("delivery failed", "conn_id", id, "failures", failures, "error", err)
		if forceClose {
			r.logger.Warn("closing connection after repeated delivery failures", "conn_id", id)
			r.MarkClosed(id)
		}
		return err
	}
	return nil
}

// ConnectionCount returns the number of tracked connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// OnlineUserCount returns the number of identities with at least one open
// connection.
func (r *Registry) OnlineUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Start launches the stale-connection sweeper. Liveness checks run on their
// own ticker and are never blocked by message traffic.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.sweepLoop()
}

// Stop terminates the sweeper and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep closes connections that missed their heartbeat window, handling
// silent network death where no close frame ever arrives.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.heartbeatTimeout)

	r.mu.RLock()
	var stale []ConnID
	for id, c := range r.conns {
		if c.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.logger.Warn("closing stale connection", "conn_id", id, "error", ErrConnectionStale)
		r.MarkClosed(id)
	}
}
