// Package statsprom implements the scheduler's and ingress's metrics
// surfaces on top of github.com/prometheus/client_golang, following
// FeatureBase's idk/metrics.go idiom of package-level prometheus.New*
// constructors registered on a shared namespace.
package statsprom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "openset"

// Stats implements scheduler.Stats and ingress's request-side counters
// on a dedicated prometheus.Registry, so a process embedding OpenSet
// can mount it alongside its own metrics without colliding on the
// default global registry.
type Stats struct {
	registry *prometheus.Registry

	partitionSize  *prometheus.GaugeVec
	loopPanics     *prometheus.CounterVec
	queriesActive  prometheus.Gauge
	queriesTotal   *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// New constructs a Stats with its own registry and registers every
// collector.
func New() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		partitionSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_size",
			Help:      "Queued plus active open-loop count for a partition.",
		}, []string{"partition"}),
		loopPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_panics_total",
			Help:      "Open-Loop panics recovered by hook.",
		}, []string{"hook"}),
		queriesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queries_active",
			Help:      "Originator queries currently holding a concurrency slot.",
		}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Completed originator queries by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Ingress HTTP requests by route and status class.",
		}, []string{"route", "status_class"}),
	}
	s.registry.MustRegister(s.partitionSize, s.loopPanics, s.queriesActive, s.queriesTotal, s.httpRequests)
	return s
}

// Registry exposes the underlying prometheus.Registry, e.g. for
// mounting promhttp.HandlerFor(s.Registry(), ...) on /metrics.
func (s *Stats) Registry() *prometheus.Registry { return s.registry }

// PartitionSize implements scheduler.Stats.
func (s *Stats) PartitionSize(partitionID, size int) {
	s.partitionSize.WithLabelValues(strconv.Itoa(partitionID)).Set(float64(size))
}

// LoopPanic implements scheduler.Stats.
func (s *Stats) LoopPanic(hook string) {
	s.loopPanics.WithLabelValues(hook).Inc()
}

// QueryStarted increments the in-flight query gauge; the returned func
// decrements it and records the completed query's outcome.
func (s *Stats) QueryStarted(endpoint string) func(outcome string) {
	s.queriesActive.Inc()
	return func(outcome string) {
		s.queriesActive.Dec()
		s.queriesTotal.WithLabelValues(endpoint, outcome).Inc()
	}
}

// HTTPRequest records one ingress request's route and status class
// ("2xx", "4xx", "5xx").
func (s *Stats) HTTPRequest(route, statusClass string) {
	s.httpRequests.WithLabelValues(route, statusClass).Inc()
}
