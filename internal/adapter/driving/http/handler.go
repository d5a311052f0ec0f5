package http

import (
	"net/http"
	"time"

	"github.com/Wyydra/callsig/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/callsig/internal/config"
	"github.com/Wyydra/callsig/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Handler struct {
	Dispatcher *service.Dispatcher
	Hub        *ws.Hub

	upgrader websocket.Upgrader
	ws       config.WebSocketConfig
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

func NewHandler(dispatcher *service.Dispatcher, hub *ws.Hub, cfg config.WebSocketConfig, gatherer prometheus.Gatherer, logger zerolog.Logger) *Handler {
	return &Handler{
		Dispatcher: dispatcher,
		Hub:        hub,
		upgrader:   newUpgrader(cfg),
		ws:         cfg,
		gatherer:   gatherer,
		log:        logger.With().Str("component", "http").Logger(),
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.accessLog)
		r.Post("/calls", h.CreateCall)
		r.Get("/calls/{callID}", h.GetCall)
		r.Get("/presence/{identity}", h.GetPresence)
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.Hub.Count(),
	})
}

// accessLog writes one line per request after it completes.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		}()
		next.ServeHTTP(ww, r)
	})
}
