package watchdog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checksTotal counts page probes by result (healthy, unhealthy).
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinner_checks_total",
			Help: "Total page probes by result",
		},
		[]string{"result"},
	)

	// decisionsTotal counts restart decisions by outcome.
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinner_decisions_total",
			Help: "Total restart decisions by outcome",
		},
		[]string{"decision"},
	)

	// restartsTotal counts restart attempts by result.
	restartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinner_restarts_total",
			Help: "Total restart attempts by result",
		},
		[]string{"result"},
	)

	// guardHeld is 1 while this process holds the restart guard.
	guardHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spinner_guard_held",
			Help: "Whether this process currently holds the restart guard",
		},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spinner_fetch_duration_seconds",
			Help:    "Time taken to fetch the monitored page",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func recordCheck(healthy bool) {
	if healthy {
		checksTotal.WithLabelValues("healthy").Inc()
		return
	}
	checksTotal.WithLabelValues("unhealthy").Inc()
}

func recordDecision(label string) {
	decisionsTotal.WithLabelValues(label).Inc()
}

func recordRestart(label string) {
	restartsTotal.WithLabelValues(label).Inc()
}
