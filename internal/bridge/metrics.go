package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twizzy_bridge_connected",
		Help: "Whether the bridge is connected to the agent daemon (1 or 0)",
	})
	connectAttemptsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twizzy_bridge_connect_attempts_total",
		Help: "Total number of connection attempts",
	})
	disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twizzy_bridge_disconnects_total",
		Help: "Total number of lost or closed connections",
	})
	callsInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twizzy_bridge_calls_in_flight",
		Help: "Number of calls currently awaiting a response",
	})
	callsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "twizzy_bridge_calls_total",
		Help: "Total number of calls by outcome",
	}, []string{"outcome"})
	callDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "twizzy_bridge_call_duration_seconds",
		Help:    "Duration of completed calls in seconds",
		Buckets: prometheus.DefBuckets,
	})
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "twizzy_bridge_events_total",
		Help: "Total number of pushed events by type",
	}, []string{"type"})
	framingDiscardsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twizzy_bridge_framing_discards_total",
		Help: "Total number of inbound frames discarded as malformed",
	})
)

// MetricsRegistry returns a registry with the bridge collectors registered,
// for exposing on a /metrics listener.
func MetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		connectedGauge,
		connectAttemptsCounter,
		disconnectsCounter,
		callsInFlightGauge,
		callsCounter,
		callDurationHist,
		eventsCounter,
		framingDiscardsCounter,
	)
	return reg
}

func setConnectedMetric(v bool) {
	if v {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
}

func callCompleted(outcome string, d time.Duration) {
	callsCounter.WithLabelValues(outcome).Inc()
	callDurationHist.Observe(d.Seconds())
}
