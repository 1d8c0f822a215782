package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	PanelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "priceintel",
			Subsystem: "dashboard",
			Name:      "panel_latency_seconds",
			Help:      "Latency of each dashboard panel build",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"panel"},
	)

	PanelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "priceintel",
			Subsystem: "dashboard",
			Name:      "panel_errors_total",
			Help:      "Dashboard panels that failed to build",
		},
		[]string{"panel"},
	)

	CacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "priceintel",
			Subsystem: "dashboard",
			Name:      "cache_results_total",
			Help:      "Dashboard cache lookups by result",
		},
		[]string{"result"},
	)

	DispatchedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "priceintel",
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Pipeline events handed to sinks by kind and result",
		},
		[]string{"sink", "kind", "result"},
	)

	DispatchBufferDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "priceintel",
			Subsystem: "events",
			Name:      "retry_buffer_depth",
			Help:      "Events waiting for redelivery",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(PanelLatency, PanelErrors, CacheResults, DispatchedEvents, DispatchBufferDepth)
	})
}

// ObservePanel records one panel build.
func ObservePanel(panel string, started time.Time, err error) {
	PanelLatency.WithLabelValues(panel).Observe(time.Since(started).Seconds())
	if err != nil {
		PanelErrors.WithLabelValues(panel).Inc()
	}
}

// ObserveDispatch records one delivery attempt. result is delivered, buffered,
// dropped, throttled or invalid.
func ObserveDispatch(sink, kind, result string) {
	DispatchedEvents.WithLabelValues(sink, kind, result).Inc()
}
