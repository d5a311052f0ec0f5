package port

import "github.com/Wyydra/callsig/internal/core/domain"

type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EventHandled(event domain.EventName, code string)
	CallTransition(state domain.CallState)
	CallEnded(reason domain.EndReason)
	DeliveryFailed(event domain.EventName)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ConnectionOpened()                     {}
func (NopMetrics) ConnectionClosed()                     {}
func (NopMetrics) EventHandled(domain.EventName, string) {}
func (NopMetrics) CallTransition(domain.CallState)       {}
func (NopMetrics) CallEnded(domain.EndReason)            {}
func (NopMetrics) DeliveryFailed(domain.EventName)       {}
