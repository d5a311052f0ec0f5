package service

import (
	"sync"

	"github.com/Wyydra/callsig/internal/core/domain"
)

// PresenceIndex maps an identity to the connection currently representing it.
type PresenceIndex struct {
	mu     sync.RWMutex
	byUser map[domain.Identity]domain.ConnectionID
}

func NewPresenceIndex() *PresenceIndex {
	return &PresenceIndex{
		byUser: make(map[domain.Identity]domain.ConnectionID),
	}
}

// Set overwrites the mapping. The superseded connection stays open but is no
// longer addressable by identity.
func (p *PresenceIndex) Set(identity domain.Identity, connID domain.ConnectionID) (domain.ConnectionID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.byUser[identity]
	p.byUser[identity] = connID
	return prev, ok && prev != connID
}

func (p *PresenceIndex) Get(identity domain.Identity) (domain.ConnectionID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	connID, ok := p.byUser[identity]
	if !ok {
		return domain.ConnectionID{}, domain.ErrNotPresent
	}
	return connID, nil
}

// RemoveIfMatches deletes the entry only while it still points at connID, so a
// late disconnect cannot evict a newer mapping.
func (p *PresenceIndex) RemoveIfMatches(identity domain.Identity, connID domain.ConnectionID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.byUser[identity]; !ok || current != connID {
		return false
	}
	delete(p.byUser, identity)
	return true
}

func (p *PresenceIndex) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}
