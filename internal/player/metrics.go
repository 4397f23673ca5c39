package player

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	recordings *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// newMetrics builds the player's collectors on reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		recordings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_recordings_total",
			Help: "Total number of recordings processed by the player, by method and result status",
		}, []string{"method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playback_replay_duration_seconds",
			Help:    "Time spent replaying one recording and comparing its output",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}
