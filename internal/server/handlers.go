// Package server exposes the WebSocket upgrade handler and the health
// check endpoint.
package server

import (
	"encoding/json"
	"net/http"
)

// handleWebSocket authenticates and upgrades an incoming connection, binds
// it to the connection registry through the gateway, and starts its pumps.
// The bearer token arrives either as a "token" query parameter (browser
// WebSocket clients cannot set headers) or an Authorization header.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	identity, err := s.authn.Authenticate(token)
	if err != nil {
		s.logger.Warn("handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(ws, s.gateway, s.cfg, r.RemoteAddr, s.logger)
	c.id = s.gateway.Connect(c, identity)

	go c.writePump()
	go c.readPump()
}

// handleHealth reports liveness and current core counters.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body := map[string]any{"status": "ok"}
	for k, v := range s.gateway.Stats() {
		body[k] = v
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("write health response", "error", err)
	}
}
