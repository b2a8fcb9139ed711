package settings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/resolve"
)

const (
	outcomeCommitted = "committed"
	outcomeQueued    = "queued"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

var (
	// resolutions is a singleton for the counter vec.
	resolutions *prometheus.CounterVec //nolint:gochecknoglobals
	// mutations is a singleton for the counter vec.
	mutations *prometheus.CounterVec //nolint:gochecknoglobals
	// conflicts is a singleton for the counter vec.
	conflicts *prometheus.CounterVec //nolint:gochecknoglobals
)

func init() {
	resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_resolutions_total",
			Help: "Number of setting reads, differentiated by the level that supplied the value.",
		},
		[]string{"level"},
	)
	mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_mutations_total",
			Help: "Number of setting writes, differentiated by outcome.",
		},
		[]string{"outcome"},
	)
	conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_conflicts_total",
			Help: "Number of replay conflicts, differentiated by the winning side.",
		},
		[]string{"winner"},
	)
}

func observeResolution(level resolve.Level) {
	resolutions.WithLabelValues(string(level)).Inc()
}

func observeMutation(outcome string) {
	mutations.WithLabelValues(outcome).Inc()
}

func observeConflict(source conflict.Source) {
	conflicts.WithLabelValues(string(source)).Inc()
}
