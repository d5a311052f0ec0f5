package service

import (
	"context"
	"sync"

	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/Wyydra/callsig/internal/core/port"
	"github.com/rs/zerolog"
)

type memberSet map[domain.ConnectionID]struct{}

// RoomManager keeps the ephemeral rooms used for in-call broadcast. It holds
// connection ids only; the registry decides whether a connection is alive.
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomName]memberSet
	memberOf map[domain.ConnectionID]map[domain.RoomName]struct{}

	gateway port.Gateway
	log     zerolog.Logger
}

func NewRoomManager(gateway port.Gateway, logger zerolog.Logger) *RoomManager {
	return &RoomManager{
		rooms:    make(map[domain.RoomName]memberSet),
		memberOf: make(map[domain.ConnectionID]map[domain.RoomName]struct{}),
		gateway:  gateway,
		log:      logger.With().Str("component", "rooms").Logger(),
	}
}

// Join adds connID to room, creating the room on first join, and delivers
// notice to the members that were already there. It reports whether the
// connection was newly added and which members could not be written to.
func (m *RoomManager) Join(ctx context.Context, room domain.RoomName, connID domain.ConnectionID, notice domain.Event) (bool, []domain.ConnectionID) {
	m.mu.Lock()
	members, ok := m.rooms[room]
	if !ok {
		members = make(memberSet)
		m.rooms[room] = members
	}
	if _, already := members[connID]; already {
		m.mu.Unlock()
		return false, nil
	}
	others := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		others = append(others, id)
	}
	members[connID] = struct{}{}
	if m.memberOf[connID] == nil {
		m.memberOf[connID] = make(map[domain.RoomName]struct{})
	}
	m.memberOf[connID][room] = struct{}{}
	count := len(members)
	m.mu.Unlock()

	m.log.Debug().Str("room", room.String()).Str("conn_id", connID.String()).Int("count", count).Msg("Connection joined room")
	return true, m.deliver(ctx, others, notice)
}

// Leave removes connID from room and deletes the room once it is empty.
func (m *RoomManager) Leave(room domain.RoomName, connID domain.ConnectionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(room, connID)
}

// LeaveAll removes connID from every room it belongs to and returns those rooms.
func (m *RoomManager) LeaveAll(connID domain.ConnectionID) []domain.RoomName {
	m.mu.Lock()
	defer m.mu.Unlock()

	joined := m.memberOf[connID]
	left := make([]domain.RoomName, 0, len(joined))
	for room := range joined {
		if m.leaveLocked(room, connID) {
			left = append(left, room)
		}
	}
	return left
}

// Close removes every member of room and deletes it. It returns the members
// that were removed.
func (m *RoomManager) Close(room domain.RoomName) []domain.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[room]
	if !ok {
		return nil
	}
	removed := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		removed = append(removed, id)
		m.forgetLocked(room, id)
	}
	delete(m.rooms, room)
	m.log.Debug().Str("room", room.String()).Int("removed", len(removed)).Msg("Room closed")
	return removed
}

// Broadcast delivers event to every member except exclude. Members whose
// transport refused the write are returned.
func (m *RoomManager) Broadcast(ctx context.Context, room domain.RoomName, event domain.Event, exclude domain.ConnectionID) []domain.ConnectionID {
	members := m.Members(room)
	targets := members[:0]
	for _, id := range members {
		if id != exclude {
			targets = append(targets, id)
		}
	}
	return m.deliver(ctx, targets, event)
}

func (m *RoomManager) Members(room domain.RoomName) []domain.ConnectionID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.rooms[room]
	out := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (m *RoomManager) IsMember(room domain.RoomName, connID domain.ConnectionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room][connID]
	return ok
}

func (m *RoomManager) Exists(room domain.RoomName) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room]
	return ok
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) leaveLocked(room domain.RoomName, connID domain.ConnectionID) bool {
	members, ok := m.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	m.forgetLocked(room, connID)
	if len(members) == 0 {
		delete(m.rooms, room)
		m.log.Debug().Str("room", room.String()).Msg("Removed empty room")
	}
	return true
}

func (m *RoomManager) forgetLocked(room domain.RoomName, connID domain.ConnectionID) {
	delete(m.rooms[room], connID)
	if rooms, ok := m.memberOf[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(m.memberOf, connID)
		}
	}
}

func (m *RoomManager) deliver(ctx context.Context, targets []domain.ConnectionID, event domain.Event) []domain.ConnectionID {
	var failed []domain.ConnectionID
	for _, id := range targets {
		if err := m.gateway.Send(ctx, id, event); err != nil {
			m.log.Warn().Err(err).Str("conn_id", id.String()).Str("event", string(event.Name)).Msg("Error broadcasting event")
			failed = append(failed, id)
		}
	}
	return failed
}
