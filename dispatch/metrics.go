package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for dispatch execution. Install it
// with WithMetrics; every Dispatch of that dispatcher updates it.
//
// Metrics exposed (namespace "schedula"):
//
//   - dispatches_total (counter, label status): dispatch calls by outcome
//     (success, error, abort).
//   - dispatch_duration_seconds (histogram): wall time of Dispatch calls.
//   - node_visits_total (counter, label kind): node visits by node kind
//     (data, function, dispatcher).
//   - function_errors_total (counter): user-function failures recovered
//     with raises disabled.
//   - domain_rejections_total (counter): nodes suppressed by their input
//     domain.
//   - frontier_depth (gauge): pending entries in the priority frontier,
//     sampled each loop iteration.
//
// Expose the registry over HTTP with promhttp to scrape them:
//
//	registry := prometheus.NewRegistry()
//	metrics := dispatch.NewMetrics(registry)
//	dsp := dispatch.New(dispatch.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	dispatches       *prometheus.CounterVec
	duration         prometheus.Histogram
	visits           *prometheus.CounterVec
	functionErrors   prometheus.Counter
	domainRejections prometheus.Counter
	frontierDepth    prometheus.Gauge
}

// NewMetrics creates and registers the dispatch metrics with the given
// registry (the default registerer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedula",
			Name:      "dispatches_total",
			Help:      "Dispatch calls by outcome",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schedula",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of dispatch calls",
			Buckets:   prometheus.DefBuckets,
		}),
		visits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedula",
			Name:      "node_visits_total",
			Help:      "Node visits by node kind",
		}, []string{"kind"}),
		functionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schedula",
			Name:      "function_errors_total",
			Help:      "User-function failures recovered with raises disabled",
		}),
		domainRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schedula",
			Name:      "domain_rejections_total",
			Help:      "Nodes suppressed by their input domain",
		}),
		frontierDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedula",
			Name:      "frontier_depth",
			Help:      "Pending entries in the priority frontier",
		}),
	}
}
