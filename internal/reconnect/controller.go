// Package reconnect implements the client-side reconnection controller: a
// per-client state machine that survives across transport instances,
// retries dropped connections with exponential backoff, and replays the
// client's room subscriptions before signaling that delivery has resumed.
package reconnect

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/campusapps/roomcast/internal/realtime"
)

// State is the controller's lifecycle state.
type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateReconnecting
	// StateFailed is terminal: every allowed attempt was used up.
	StateFailed
	// StateClosed is terminal: the user disconnected on purpose.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// ErrClosed is returned for operations on a terminally closed controller.
var ErrClosed = errors.New("controller closed")

// ErrNotConnected is returned when a command cannot be forwarded because no
// session is live. Joins are still remembered and replayed on reconnect.
var ErrNotConnected = errors.New("not connected")

// Session is one live transport instance as seen by the controller.
type Session interface {
	Join(ctx context.Context, room realtime.RoomID) error
	Leave(ctx context.Context, room realtime.RoomID) error
	Send(ctx context.Context, room realtime.RoomID, payload json.RawMessage) error
	// Events streams server events until the session drops.
	Events() <-chan realtime.ServerEvent
	// Done is closed when the underlying transport drops.
	Done() <-chan struct{}
	Close() error
}

// Dialer establishes a fresh session. Each reconnect attempt dials a new
// connection through the gateway.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Controller owns the retry policy and subscription replay for one logical
// client. Server events, including the synthesized reconnected marker, are
// surfaced on Events.
type Controller struct {
	dialer  Dialer
	backoff Backoff
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	session Session
	rooms   map[realtime.RoomID]struct{}

	events chan realtime.ServerEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates a controller. Start must be called to establish the first
// connection.
func New(dialer Dialer, backoff Backoff, logger *slog.Logger) *Controller {
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff()
	}
	return &Controller{
		dialer:  dialer,
		backoff: backoff,
		logger:  logger,
		state:   StateDisconnected,
		rooms:   make(map[realtime.RoomID]struct{}),
		events:  make(chan realtime.ServerEvent, 64),
		stop:    make(chan struct{}),
	}
}

// Events returns the stream of server events. The channel is closed when
// the controller reaches a terminal state.
func (c *Controller) Events() <-chan realtime.ServerEvent {
	return c.events
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start dials the initial connection and begins supervising it. An error
// from the first dial is returned directly; later drops are retried per the
// backoff schedule.
func (c *Controller) Start(ctx context.Context) error {
	session, err := c.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateConnected
	c.session = session
	c.mu.Unlock()

	c.wg.Add(1)
	go c.supervise(ctx, session)
	return nil
}

// Join subscribes to a room. The room is remembered for replay even while a
// reconnect is in progress.
func (c *Controller) Join(ctx context.Context, room realtime.RoomID) error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateFailed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.rooms[room] = struct{}{}
	session := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return session.Join(ctx, room)
}

// Leave unsubscribes from a room and removes it from the replay set.
func (c *Controller) Leave(ctx context.Context, room realtime.RoomID) error {
	c.mu.Lock()
	delete(c.rooms, room)
	session := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return session.Leave(ctx, room)
}

// Send publishes a message through the live session.
func (c *Controller) Send(ctx context.Context, room realtime.RoomID, payload json.RawMessage) error {
	c.mu.Lock()
	session := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	return session.Send(ctx, room, payload)
}

// Close is the user-initiated disconnect: terminal, cancels any pending
// reconnect timer, and closes the live session.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	session := c.session
	c.session = nil
	c.mu.Unlock()

	close(c.stop)
	if session != nil {
		_ = session.Close()
	}
	c.wg.Wait()
	return nil
}

// supervise forwards session events until the transport drops, then runs
// the reconnect loop.
func (c *Controller) supervise(ctx context.Context, session Session) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		if !c.forward(ctx, session) {
			return
		}

		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected
		c.session = nil
		c.mu.Unlock()

		next, ok := c.reconnect(ctx)
		if !ok {
			return
		}
		session = next
	}
}

// forward drains session events. Returns false when the controller should
// stop supervising, true when the session dropped and a reconnect is due.
func (c *Controller) forward(ctx context.Context, session Session) bool {
	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				return true
			}
			select {
			case c.events <- ev:
			default:
				// Consumer is behind; drop rather than stall the supervisor.
			}
		case <-session.Done():
			return true
		case <-c.stop:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// reconnect runs the backoff loop. On success it replays the subscription
// set and emits the reconnected marker before any further events.
func (c *Controller) reconnect(ctx context.Context) (Session, bool) {
	c.mu.Lock()
	c.state = StateReconnecting
	c.mu.Unlock()

	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		delay := c.backoff.Delay(attempt)
		c.logger.Info("scheduling reconnect attempt", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.stop:
			timer.Stop()
			return nil, false
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		}

		session, err := c.dialer.Dial(ctx)
		if err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		if err := c.replay(ctx, session); err != nil {
			c.logger.Warn("subscription replay failed", "attempt", attempt, "error", err)
			_ = session.Close()
			continue
		}

		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			_ = session.Close()
			return nil, false
		}
		c.state = StateConnected
		c.session = session
		c.mu.Unlock()

		// Subscriptions are live again; only now tell the consumer that
		// delivery has resumed.
		select {
		case c.events <- realtime.Reconnected():
		default:
		}
		c.logger.Info("reconnected", "attempt", attempt)
		return session, true
	}

	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	c.logger.Error("reconnect attempts exhausted", "attempts", c.backoff.MaxAttempts)
	return nil, false
}

// replay re-joins every remembered room on a fresh session. Membership does
// not survive a transport drop server-side, so this is the only mechanism
// that restores it.
func (c *Controller) replay(ctx context.Context, session Session) error {
	c.mu.Lock()
	rooms := make([]realtime.RoomID, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		if err := session.Join(ctx, room); err != nil {
			return err
		}
	}
	return nil
}
