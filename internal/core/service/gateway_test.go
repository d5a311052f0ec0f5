package service_test

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/callsig/internal/core/domain"
)

var errRefused = errors.New("refused")

// fakeGateway records every event per connection. Connections marked with
// refuse fail every write.
type fakeGateway struct {
	mu     sync.Mutex
	events map[domain.ConnectionID][]domain.Event
	refuse map[domain.ConnectionID]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		events: make(map[domain.ConnectionID][]domain.Event),
		refuse: make(map[domain.ConnectionID]bool),
	}
}

func (g *fakeGateway) Send(_ context.Context, connID domain.ConnectionID, event domain.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refuse[connID] {
		return errRefused
	}
	g.events[connID] = append(g.events[connID], event)
	return nil
}

func (g *fakeGateway) Refuse(connID domain.ConnectionID) {
	g.mu.Lock()
	g.refuse[connID] = true
	g.mu.Unlock()
}

func (g *fakeGateway) Events(connID domain.ConnectionID) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Event(nil), g.events[connID]...)
}

func (g *fakeGateway) Named(connID domain.ConnectionID, name domain.EventName) []domain.Event {
	var out []domain.Event
	for _, ev := range g.Events(connID) {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (g *fakeGateway) Names(connID domain.ConnectionID) []domain.EventName {
	var out []domain.EventName
	for _, ev := range g.Events(connID) {
		out = append(out, ev.Name)
	}
	return out
}
