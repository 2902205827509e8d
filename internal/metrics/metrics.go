package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fix results.
const (
	FixAccepted             = "accepted"
	FixRejectedAccuracy     = "rejected_accuracy"
	FixRejectedDisplacement = "rejected_displacement"
)

var (
	// FixesTotal counts raw location fixes by gate outcome.
	FixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_fixes_total",
			Help: "Raw location fixes evaluated by the acceptance gates",
		},
		[]string{"result"},
	)

	// StreamFaultsTotal counts interruptions reported by the location stream.
	StreamFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_stream_faults_total",
			Help: "Location stream faults by reason",
		},
		[]string{"reason"},
	)

	// SessionsTotal counts session lifecycle transitions.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_sessions_total",
			Help: "Tracking session transitions",
		},
		[]string{"event"},
	)

	// SessionActive is 1 while a session is tracking.
	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_session_active",
			Help: "Whether a tracking session is currently running",
		},
	)

	// SessionDistance observes the final distance of stopped sessions.
	SessionDistance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracking_session_distance_meters",
			Help:    "Distance of finished sessions in meters",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 21097, 42195, 100000},
		},
	)

	// SavesTotal counts persistence attempts of finished sessions.
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_saves_total",
			Help: "Activity persistence attempts by status",
		},
		[]string{"status"},
	)
)

func ObserveFix(result string) {
	FixesTotal.WithLabelValues(result).Inc()
}

func ObserveFault(reason string) {
	StreamFaultsTotal.WithLabelValues(reason).Inc()
}

func SessionStarted() {
	SessionsTotal.WithLabelValues("started").Inc()
	SessionActive.Set(1)
}

func SessionStopped(distanceM float64) {
	SessionsTotal.WithLabelValues("stopped").Inc()
	SessionActive.Set(0)
	SessionDistance.Observe(distanceM)
}

func ObserveSave(ok bool) {
	status := "failed"
	if ok {
		status = "persisted"
	}
	SavesTotal.WithLabelValues(status).Inc()
}
