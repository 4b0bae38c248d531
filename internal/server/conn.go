// Package server manages individual WebSocket connections: the read pump
// that decodes and routes client commands and the write pump that drains
// the outbound buffer and keeps the connection alive with pings.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusapps/roomcast/internal/config"
	"github.com/campusapps/roomcast/internal/realtime"
)

// outboxSize bounds the per-connection outbound buffer. A member that falls
// this far behind is a slow consumer and starts failing deliveries.
const outboxSize = 256

// writeWait is the deadline for a single outbound frame.
const writeWait = 10 * time.Second

// wsConn is one live WebSocket session. It implements realtime.Transport:
// the dispatcher enqueues into send without blocking, and the write pump
// drains it onto the wire.
type wsConn struct {
	ws      *websocket.Conn
	send    chan []byte
	gateway *realtime.Gateway
	cfg     *config.Config
	id      realtime.ConnID
	addr    string
	limiter *commandLimiter
	logger  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, gateway *realtime.Gateway, cfg *config.Config, addr string, logger *slog.Logger) *wsConn {
	ws.SetReadLimit(cfg.MaxMessageSize)
	return &wsConn{
		ws:      ws,
		send:    make(chan []byte, outboxSize),
		gateway: gateway,
		cfg:     cfg,
		addr:    addr,
		limiter: newCommandLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

// Send enqueues an outbound frame without blocking. A full outbox reports
// ErrDeliveryFailed so the dispatcher can isolate this connection.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return realtime.ErrUnknownConnection
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("outbox full for %s: %w", c.addr, realtime.ErrDeliveryFailed)
	}
}

// Close tears the transport down. Called from the registry's close cascade;
// idempotent.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
	return nil
}

// readPump decodes inbound command frames and routes them through the
// gateway. It owns the read side of the connection: deadlines, pong
// handling, and terminal cleanup.
func (c *wsConn) readPump() {
	defer func() {
		c.gateway.Disconnect(c.id)
		_ = c.Close()
	}()

	timeout := c.cfg.HeartbeatTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
		return c.gateway.Heartbeat(c.id)
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.logger.Warn("command rate limit exceeded", "conn_id", c.id, "remote", c.addr)
			continue
		}

		var cmd realtime.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.logger.Warn("invalid command frame", "conn_id", c.id, "error", err)
			continue
		}

		ack := c.dispatch(cmd)
		if data, err := json.Marshal(ack); err == nil {
			_ = c.Send(data)
		}
	}
}

// dispatch routes one command to the gateway and builds its ack.
func (c *wsConn) dispatch(cmd realtime.Command) realtime.Ack {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	switch cmd.Type {
	case realtime.CmdJoin:
		n, err := c.gateway.Join(ctx, c.id, cmd.Room)
		return realtime.NewAck(cmd.Type, n, err)
	case realtime.CmdLeave:
		c.gateway.Leave(c.id, cmd.Room)
		return realtime.NewAck(cmd.Type, 0, nil)
	case realtime.CmdSend:
		var err error
		if cmd.To != "" {
			_, err = c.gateway.SendToUser(ctx, c.id, cmd.To, cmd.Payload)
		} else {
			_, err = c.gateway.Send(ctx, c.id, cmd.Room, cmd.Payload)
		}
		return realtime.NewAck(cmd.Type, 0, err)
	case realtime.CmdHeartbeat:
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
		return realtime.NewAck(cmd.Type, 0, c.gateway.Heartbeat(c.id))
	default:
		return realtime.NewAck(cmd.Type, 0, fmt.Errorf("%q: %w", cmd.Type, realtime.ErrUnknownCommand))
	}
}

// writePump drains the outbox onto the wire and pings on the configured
// heartbeat interval to detect silent peers.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("write failed", "conn_id", c.id, "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

func (c *wsConn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded size limit", "conn_id", c.id, "limit", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("connection closed by peer", "conn_id", c.id)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Info("connection closed", "conn_id", c.id)
	default:
		c.logger.Warn("read error", "conn_id", c.id, "error", err)
	}
}
