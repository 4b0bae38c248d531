// Command server runs the Roomcast realtime gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/campusapps/roomcast/internal/auth"
	"github.com/campusapps/roomcast/internal/config"
	"github.com/campusapps/roomcast/internal/realtime"
	"github.com/campusapps/roomcast/internal/server"
	"github.com/campusapps/roomcast/internal/store"
)

func main() {
	var (
		logLevel  = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "log format (text, json)")
	)
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)
	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	roster := auth.NewRoster()

	registry := realtime.NewRegistry(cfg.HeartbeatTimeout, cfg.HeartbeatTimeout/2, logger)
	directory := realtime.NewDirectory(registry, roster, cfg.EvictionGrace, logger)
	dispatcher := realtime.NewDispatcher(registry, directory, logger)
	presence := realtime.NewPresenceTracker(registry, directory, dispatcher, logger)
	gateway := realtime.NewGateway(registry, directory, dispatcher, presence, st, cfg.HistoryLimit, logger)

	// Claims live only as long as the user has a connection.
	registry.OnClose(func(_ realtime.ConnID, identity realtime.Identity, last bool) {
		if last {
			roster.Unbind(identity)
		}
	})

	srv := server.New(cfg, gateway, auth.NewSessionAuth(verifier, roster), logger)
	httpSrv := server.NewHTTPServer(cfg.Addr, srv.Routes())

	registry.Start()
	defer registry.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return server.Shutdown(httpSrv, cfg.ShutdownTimeout)
	})

	return g.Wait()
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
