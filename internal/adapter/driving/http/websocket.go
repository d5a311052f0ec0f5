package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Wyydra/callsig/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/callsig/internal/config"
	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newUpgrader(cfg config.WebSocketConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(cfg.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// WSClient owns one websocket connection. Reads happen in ServeWS, writes in
// writePump; Send only enqueues.
type WSClient struct {
	id   domain.ConnectionID
	conn *websocket.Conn
	send chan domain.Event
	done chan struct{}

	closeOnce sync.Once
	closeErr  error

	writeWait  time.Duration
	pingPeriod time.Duration
	log        zerolog.Logger
}

func newWSClient(id domain.ConnectionID, conn *websocket.Conn, cfg config.WebSocketConfig, logger zerolog.Logger) *WSClient {
	return &WSClient{
		id:         id,
		conn:       conn,
		send:       make(chan domain.Event, cfg.SendQueue),
		done:       make(chan struct{}),
		writeWait:  cfg.WriteWait,
		pingPeriod: cfg.PingPeriod(),
		log:        logger,
	}
}

func (c *WSClient) ID() domain.ConnectionID {
	return c.id
}

func (c *WSClient) Send(event domain.Event) error {
	select {
	case <-c.done:
		return ws.ErrClientClosed
	default:
	}

	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return ws.ErrClientClosed
	default:
		return ws.ErrSendQueueFull
	}
}

func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.log.Warn().Err(err).Str("event", string(event.Name)).Msg("Error writing event")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("Ping failed")
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// ServeWS upgrades the request and feeds every frame of the connection to the
// dispatcher until the peer goes away.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	c := h.Dispatcher.Connect()
	l := h.log.With().Str("conn_id", c.ID.String()).Logger()
	l.Info().Str("remote_addr", r.RemoteAddr).Msg("New client connected")

	client := newWSClient(c.ID, conn, h.ws, l)
	h.Hub.Register(client)
	go client.writePump()

	// the cascade must finish even though the request is over
	ctx := context.WithoutCancel(r.Context())

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Dispatcher.Disconnect(ctx, c.ID)
		h.Hub.Unregister(client)
		_ = client.Close()
	}()

	conn.SetReadLimit(h.ws.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.ws.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.ws.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.ws.PongWait))

		var in domain.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			l.Debug().Err(err).Msg("Malformed frame")
			if err := client.Send(domain.NewErrorEvent("", fmt.Errorf("%w: %v", domain.ErrBadRequest, err))); err != nil {
				break
			}
			continue
		}

		if err := h.Dispatcher.Handle(ctx, c.ID, in); err != nil {
			l.Debug().Err(err).Str("event", string(in.Name)).Msg("Event rejected")
		}
	}
}
