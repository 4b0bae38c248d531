// Package server constructs the Roomcast HTTP service and its WebSocket
// entry point with production timeout defaults.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusapps/roomcast/internal/config"
	"github.com/campusapps/roomcast/internal/realtime"
)

// Authenticator verifies the bearer token presented during the WebSocket
// handshake and returns the verified identity. An empty token must yield an
// empty (anonymous) identity rather than an error.
type Authenticator interface {
	Authenticate(token string) (realtime.Identity, error)
}

// Server owns the WebSocket upgrade path and its dependencies. It is an
// explicit instance with injected lifecycle, not a module-level singleton.
type Server struct {
	cfg      *config.Config
	gateway  *realtime.Gateway
	authn    Authenticator
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a server around the gateway. Connections from origins outside
// the configured allow-list are rejected at upgrade time.
func New(cfg *config.Config, gateway *realtime.Gateway, authn Authenticator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		gateway: gateway,
		authn:   authn,
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Routes configures and returns the HTTP mux with all application routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// NewHTTPServer wraps the handler in an http.Server with sane timeouts for
// production use. The read and write timeouts apply to the plain HTTP
// endpoints; upgraded WebSocket connections manage their own deadlines.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Shutdown gracefully stops the HTTP server, waiting up to timeout for
// active connections to drain.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
