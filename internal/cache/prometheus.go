package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requests is a singleton for the counter vec.
	requests *prometheus.CounterVec //nolint:gochecknoglobals
)

func init() {
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_cache_requests_total",
			Help: "Number of settings cache lookups, differentiated by result.",
		},
		[]string{"result"},
	)
}

func observeHit() {
	requests.WithLabelValues("hit").Inc()
}

func observeMiss() {
	requests.WithLabelValues("miss").Inc()
}
