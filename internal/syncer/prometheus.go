package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Apply results counted per received message.
const (
	msgApplied   = "applied"
	msgDuplicate = "duplicate"
	msgFailed    = "failed"
)

var (
	// stateGauge and the counters are singletons for the process.
	stateGauge   *prometheus.GaugeVec   //nolint:gochecknoglobals
	dialFailures prometheus.Counter     //nolint:gochecknoglobals
	messages     *prometheus.CounterVec //nolint:gochecknoglobals

	// clientStates drives the gauge reset on every transition.
	clientStates = []State{ //nolint:gochecknoglobals
		StateDisconnected, StateConnecting, StateConnected, StateReconnecting,
	}
)

func init() {
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settings_sync_client_state",
			Help: "Sync client connection state, 1 on the active state's series.",
		},
		[]string{"state"},
	)

	dialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settings_sync_dial_failures_total",
		Help: "Feed dial attempts that failed.",
	})

	messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_sync_messages_total",
			Help: "Received sync messages, differentiated by apply result.",
		},
		[]string{"result"},
	)
}

func observeState(active State) {
	for _, s := range clientStates {
		v := 0.0
		if s == active {
			v = 1.0
		}
		stateGauge.WithLabelValues(s.String()).Set(v)
	}
}

func observeDialFailure() {
	dialFailures.Inc()
}

func observeMessage(result string) {
	messages.WithLabelValues(result).Inc()
}
