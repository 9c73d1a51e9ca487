package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sessions by kind (job/practice) and lifecycle event.
	Sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_sessions_total",
			Help: "Interview sessions by kind and lifecycle event",
		},
		[]string{"kind", "event"}, // event: created/started/completed/cancelled
	)

	MediaRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_media_requests_total",
			Help: "Avatar media generation requests by result",
		},
		[]string{"result"}, // ok/failed
	)

	MediaPrepareDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interview_media_prepare_seconds",
			Help:    "Wall time to prepare media for a whole session",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	Responses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_responses_total",
			Help: "Recorded responses by transcript source",
		},
		[]string{"source"},
	)

	ActiveTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "interview_active_controllers",
			Help: "Turn controllers currently running",
		},
	)
)

func Handler() http.Handler { return promhttp.Handler() }
