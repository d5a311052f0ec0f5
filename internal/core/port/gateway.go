package port

import (
	"context"

	"github.com/Wyydra/callsig/internal/core/domain"
)

// Gateway pushes outbound events to live connections. Send must not block:
// a connection that cannot take the event returns an error and is treated by
// the caller as disconnected.
type Gateway interface {
	Send(ctx context.Context, connID domain.ConnectionID, event domain.Event) error
}
