package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// depth is a singleton for the queue depth gauge.
	depth prometheus.Gauge //nolint:gochecknoglobals
)

func init() {
	depth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settings_offline_queue_depth",
		Help: "Number of mutations waiting in the offline queue.",
	})
}

func observeDepth(count int64) {
	depth.Set(float64(count))
}
