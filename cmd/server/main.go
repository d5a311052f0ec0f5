package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/callsig/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/callsig/internal/adapter/driven/metrics"
	handler "github.com/Wyydra/callsig/internal/adapter/driving/http"
	"github.com/Wyydra/callsig/internal/config"
	"github.com/Wyydra/callsig/internal/core/service"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg := config.MustLoad()
	l := setupLogger(cfg)
	log.Logger = l

	m := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	hub := ws.NewHub(l)
	conns := service.NewConnectionRegistry()
	presence := service.NewPresenceIndex()
	rooms := service.NewRoomManager(hub, l)
	sessions := service.NewSessionStore(presence, l,
		service.WithRingTimeout(cfg.Signaling.RingTimeout),
		service.WithRetention(cfg.Signaling.SessionRetention),
		service.WithSessionMetrics(m),
	)
	dispatcher := service.NewDispatcher(conns, presence, rooms, sessions, hub, l, service.WithMetrics(m))

	h := handler.NewHandler(dispatcher, hub, cfg.WebSocket, prometheus.DefaultGatherer, l)
	r := h.NewRouter()

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           r,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	go func() {
		l.Info().Str("addr", cfg.HTTP.Address).Str("env", cfg.Env).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	sessions.Stop()
	l.Info().Msg("Server exited")
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Env == "local" {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
}
