package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/rs/zerolog"
)

// Hub keeps the live transport clients by connection id.
// implements port.Gateway
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ConnectionID]Client
	log     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[domain.ConnectionID]Client),
		log:     logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("conn_id", c.ID().String()).Int("count", count).Msg("Client registered")
}

// Unregister drops c if it is still the client stored under its id.
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	current, ok := h.clients[c.ID()]
	if ok && current == c {
		delete(h.clients, c.ID())
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.log.Info().Str("conn_id", c.ID().String()).Int("count", count).Msg("Client unregistered")
	}
}

// Send enqueues event for connID without blocking. A client that refuses the
// event is closed so its read loop ends.
func (h *Hub) Send(_ context.Context, connID domain.ConnectionID, event domain.Event) error {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, connID)
	}

	if err := client.Send(event); err != nil {
		h.log.Error().Err(err).Str("conn_id", connID.String()).Str("event", string(event.Name)).Msg("Error sending event")
		if cerr := client.Close(); cerr != nil {
			h.log.Debug().Err(cerr).Str("conn_id", connID.String()).Msg("Error closing client")
		}
		return err
	}
	return nil
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client. Their read loops then run the usual disconnect path.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.log.Info().Int("count", len(clients)).Msg("Stopping hub. Disconnecting all clients.")
	for _, c := range clients {
		if err := c.Close(); err != nil {
			h.log.Error().Err(err).Str("conn_id", c.ID().String()).Msg("Error closing client connection")
		}
	}
}
