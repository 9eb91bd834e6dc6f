package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge instrumentation.
type Metrics struct {
	ConnectedSessions     prometheus.Gauge
	DeviceState           *prometheus.GaugeVec
	EntityEventsForwarded prometheus.Counter
	ReconnectAttempts     prometheus.Counter
	ServiceCalls          prometheus.Counter
	AssistSessionsStarted prometheus.Counter
}

// New registers the bridge collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_remote_sessions",
			Help: "Number of connected Remote sessions.",
		}),
		DeviceState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_device_state",
			Help: "Current Home Assistant device state (1 = active).",
		}, []string{"state"}),
		EntityEventsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_entity_events_forwarded_total",
			Help: "Entity change events forwarded to Remote sessions.",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_ha_reconnect_attempts_total",
			Help: "Failed Home Assistant connection attempts.",
		}),
		ServiceCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_ha_service_calls_total",
			Help: "Service calls forwarded to Home Assistant.",
		}),
		AssistSessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_assist_sessions_total",
			Help: "Assist pipeline sessions started.",
		}),
	}
}

// SetDeviceState sets the device state gauge to the given state.
func (m *Metrics) SetDeviceState(state string) {
	m.DeviceState.Reset()
	m.DeviceState.WithLabelValues(state).Set(1)
}
