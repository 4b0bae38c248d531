// Package reconnect provides the gorilla/websocket Dialer implementation
// used to run the controller against a live Roomcast server.
package reconnect

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusapps/roomcast/internal/realtime"
)

// WSDialer dials the server's /ws endpoint, presenting the bearer token as
// a query parameter.
type WSDialer struct {
	URL   string
	Token string

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial establishes a new session.
func (d *WSDialer) Dial(ctx context.Context) (Session, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	url := d.URL
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	s := &wsSession{
		ws:     ws,
		events: make(chan realtime.ServerEvent, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// wsSession is one live client-side connection. Commands are written
// directly; events and acks are demultiplexed by the read loop.
type wsSession struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	events    chan realtime.ServerEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSession) Join(ctx context.Context, room realtime.RoomID) error {
	return s.write(ctx, realtime.Command{Type: realtime.CmdJoin, Room: room})
}

func (s *wsSession) Leave(ctx context.Context, room realtime.RoomID) error {
	return s.write(ctx, realtime.Command{Type: realtime.CmdLeave, Room: room})
}

func (s *wsSession) Send(ctx context.Context, room realtime.RoomID, payload json.RawMessage) error {
	return s.write(ctx, realtime.Command{Type: realtime.CmdSend, Room: room, Payload: payload})
}

func (s *wsSession) Events() <-chan realtime.ServerEvent {
	return s.events
}

func (s *wsSession) Done() <-chan struct{} {
	return s.done
}

func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
	return nil
}

func (s *wsSession) write(ctx context.Context, cmd realtime.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = s.ws.SetWriteDeadline(deadline)
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

// readLoop decodes server frames into events until the transport drops.
// Acks share the wire with events; frames that are not server events are
// ignored here.
func (s *wsSession) readLoop() {
	defer s.Close()
	defer close(s.events)

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return
		}

		var ev realtime.ServerEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" || ev.Type == "ack" {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
