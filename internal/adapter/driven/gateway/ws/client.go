package ws

import (
	"errors"

	"github.com/Wyydra/callsig/internal/core/domain"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrClientClosed   = errors.New("client closed")
	ErrSendQueueFull  = errors.New("send queue full")
)

// Client is a transport connection the hub can write to. Send must only
// enqueue; a client that cannot take more returns ErrSendQueueFull.
type Client interface {
	ID() domain.ConnectionID
	Send(event domain.Event) error
	Close() error
}
