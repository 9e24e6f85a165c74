// Package metrics holds the Prometheus collectors of the API and worker.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dividi"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	ledgerComputations *prometheus.CounterVec
	ledgerDuration     prometheus.Histogram
	settlements        prometheus.Counter
	conversionFallback prometheus.Counter
	cacheLookups       *prometheus.CounterVec
	eventsPublished    *prometheus.CounterVec
	eventsConsumed     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),
		ledgerComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "computations_total",
			Help:      "Ledger reports computed, by outcome.",
		}, []string{"outcome"}),
		ledgerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "computation_duration_seconds",
			Help:      "Time spent reading a snapshot and running the engine.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlements_planned_total",
			Help:      "Settlement transfers emitted by the planner.",
		}),
		conversionFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "conversion_fallbacks_total",
			Help:      "Reports returned in multiple currencies because a rate was missing.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Report cache lookups, by result.",
		}, []string{"cache", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Ledger events handed to the broker, by type and outcome.",
		}, []string{"type", "outcome"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Ledger events processed by the worker, by type and outcome.",
		}, []string{"type", "outcome"}),
	}

	m.Registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.ledgerComputations,
		m.ledgerDuration,
		m.settlements,
		m.conversionFallback,
		m.cacheLookups,
		m.eventsPublished,
		m.eventsConsumed,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request. route should be a template such
// as /api/groups/{id} to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveLedger records one engine run.
func (m *Metrics) ObserveLedger(err error, settlements int, fallback bool, elapsed time.Duration) {
	if err != nil {
		m.ledgerComputations.WithLabelValues("error").Inc()
		return
	}
	m.ledgerComputations.WithLabelValues("ok").Inc()
	m.ledgerDuration.Observe(elapsed.Seconds())
	m.settlements.Add(float64(settlements))
	if fallback {
		m.conversionFallback.Inc()
	}
}

// CacheObserver returns a callback for cache.WithObserver.
func (m *Metrics) CacheObserver(name string) func(hit bool) {
	hits := m.cacheLookups.WithLabelValues(name, "hit")
	misses := m.cacheLookups.WithLabelValues(name, "miss")
	return func(hit bool) {
		if hit {
			hits.Inc()
			return
		}
		misses.Inc()
	}
}

func (m *Metrics) EventPublished(eventType string, err error) {
	m.eventsPublished.WithLabelValues(eventType, outcome(err)).Inc()
}

func (m *Metrics) EventConsumed(eventType string, err error) {
	m.eventsConsumed.WithLabelValues(eventType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
