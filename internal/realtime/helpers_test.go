package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/campusapps/roomcast/internal/realtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records delivered frames and can be flipped into a failing
// state to model a slow consumer with a full outbox.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return realtime.ErrDeliveryFailed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// events decodes every delivered frame.
func (f *fakeTransport) events(t *testing.T) []realtime.ServerEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]realtime.ServerEvent, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev realtime.ServerEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("decode frame %q: %v", frame, err)
		}
		out = append(out, ev)
	}
	return out
}

// eventsOfType filters decoded frames by event type.
func (f *fakeTransport) eventsOfType(t *testing.T, kind realtime.EventType) []realtime.ServerEvent {
	t.Helper()
	var out []realtime.ServerEvent
	for _, ev := range f.events(t) {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

// fakeStore is an in-memory durable store with a switchable failure mode.
type fakeStore struct {
	mu       sync.Mutex
	fail     bool
	seqs     map[realtime.RoomID]uint64
	messages map[realtime.RoomID][]realtime.MessageRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		seqs:     make(map[realtime.RoomID]uint64),
		messages: make(map[realtime.RoomID][]realtime.MessageRecord),
	}
}

func (s *fakeStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeStore) RecordMessage(_ context.Context, room realtime.RoomID, author realtime.Identity, payload json.RawMessage) (realtime.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return realtime.MessageRecord{}, errors.New("store unavailable")
	}
	s.seqs[room]++
	rec := realtime.MessageRecord{
		ID:        fmt.Sprintf("msg-%s-%d", room, s.seqs[room]),
		Room:      room,
		Author:    author,
		Payload:   payload,
		Sequence:  s.seqs[room],
		CreatedAt: time.Now(),
	}
	s.messages[room] = append(s.messages[room], rec)
	return rec, nil
}

func (s *fakeStore) RecordNotification(_ context.Context, recipient realtime.Identity, payload json.RawMessage) (realtime.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return realtime.NotificationRecord{}, errors.New("store unavailable")
	}
	return realtime.NotificationRecord{
		ID:        fmt.Sprintf("ntf-%s", recipient),
		Recipient: recipient,
		Payload:   payload,
		CreatedAt: time.Now(),
	}, nil
}

func (s *fakeStore) messagesIn(room realtime.RoomID) []realtime.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.MessageRecord, len(s.messages[room]))
	copy(out, s.messages[room])
	return out
}

func (s *fakeStore) RecentMessages(_ context.Context, room realtime.RoomID, limit int) ([]realtime.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[room]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]realtime.MessageRecord, len(msgs))
	copy(out, msgs)
	return out, nil
}

// authFunc adapts a function to realtime.Authorizer.
type authFunc func(identity realtime.Identity, room realtime.RoomID) bool

func (f authFunc) CanJoin(identity realtime.Identity, room realtime.RoomID) bool {
	return f(identity, room)
}

func allowAll() realtime.Authorizer {
	return authFunc(func(realtime.Identity, realtime.RoomID) bool { return true })
}

// core bundles a fully wired realtime core for tests.
type core struct {
	registry   *realtime.Registry
	directory  *realtime.Directory
	dispatcher *realtime.Dispatcher
	presence   *realtime.PresenceTracker
	gateway    *realtime.Gateway
	store      *fakeStore
}

type coreOptions struct {
	grace        time.Duration
	authz        realtime.Authorizer
	historyLimit int
}

func newCore(opts coreOptions) *core {
	if opts.grace == 0 {
		opts.grace = time.Minute
	}
	if opts.authz == nil {
		opts.authz = allowAll()
	}

	logger := testLogger()
	st := newFakeStore()
	registry := realtime.NewRegistry(time.Minute, time.Minute, logger)
	directory := realtime.NewDirectory(registry, opts.authz, opts.grace, logger)
	dispatcher := realtime.NewDispatcher(registry, directory, logger)
	presence := realtime.NewPresenceTracker(registry, directory, dispatcher, logger)
	gateway := realtime.NewGateway(registry, directory, dispatcher, presence, st, opts.historyLimit, logger)

	return &core{
		registry:   registry,
		directory:  directory,
		dispatcher: dispatcher,
		presence:   presence,
		gateway:    gateway,
		store:      st,
	}
}

// connect registers a transport and joins it to the given rooms.
func (c *core) connect(t *testing.T, identity realtime.Identity, rooms ...realtime.RoomID) (realtime.ConnID, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	id := c.gateway.Connect(tr, identity)
	for _, room := range rooms {
		if _, err := c.gateway.Join(context.Background(), id, room); err != nil {
			t.Fatalf("join %s: %v", room, err)
		}
	}
	return id, tr
}
