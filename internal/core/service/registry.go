package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/callsig/internal/core/domain"
)

// ConnectionRegistry is the single source of truth for which connections are
// alive and which identity each one announced.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[domain.ConnectionID]*domain.Connection
	now   func() time.Time
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[domain.ConnectionID]*domain.Connection),
		now:   time.Now,
	}
}

func (r *ConnectionRegistry) Register() domain.Connection {
	conn := &domain.Connection{
		ID:          domain.NewConnectionID(),
		ConnectedAt: r.now().UTC(),
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	return *conn
}

// BindIdentity associates identity with the connection. Repeating the same
// identity is a no-op; a different one fails with ErrAlreadyBound.
func (r *ConnectionRegistry) BindIdentity(id domain.ConnectionID, identity domain.Identity, role domain.Role) (domain.Connection, error) {
	if identity == "" {
		return domain.Connection{}, domain.ErrIdentityRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	if conn.Bound() && conn.Identity != identity {
		return *conn, fmt.Errorf("%w: bound to %q", domain.ErrAlreadyBound, conn.Identity)
	}

	conn.Identity = identity
	if role != "" {
		conn.Role = role
	}
	return *conn, nil
}

// Unregister removes the connection and returns its last state. The second
// call for the same id reports false.
func (r *ConnectionRegistry) Unregister(id domain.ConnectionID) (domain.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return domain.Connection{}, false
	}
	delete(r.conns, id)
	return *conn, true
}

func (r *ConnectionRegistry) Get(id domain.ConnectionID) (domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	return *conn, nil
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
