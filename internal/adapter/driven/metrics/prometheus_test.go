package metrics_test

import (
	"strings"
	"testing"

	"github.com/Wyydra/callsig/internal/adapter/driven/metrics"
	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/Wyydra/callsig/internal/core/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ port.Metrics = (*metrics.Prometheus)(nil)

func TestPrometheus_Series(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.EventHandled(domain.EventCallInitiate, "ok")
	m.EventHandled(domain.EventCallInitiate, domain.CodeReceiverUnreachable)
	m.EventHandled(domain.EventCallInitiate, "ok")
	m.CallTransition(domain.StateRinging)
	m.CallEnded(domain.ReasonTimeout)
	m.DeliveryFailed(domain.EventCallEnded)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	expected := `
# HELP callsig_connections_active Number of live signaling connections
# TYPE callsig_connections_active gauge
callsig_connections_active 1
# HELP callsig_events_total Inbound signaling events by event name and outcome code
# TYPE callsig_events_total counter
callsig_events_total{code="ReceiverUnreachable",event="call-initiate"} 1
callsig_events_total{code="ok",event="call-initiate"} 2
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected), "callsig_connections_active", "callsig_events_total")
	assert.NoError(t, err)
}
