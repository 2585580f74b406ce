// Package metrics exposes Prometheus collectors for HTTP traffic and the
// LIMS lifecycle events: sample registration, assignment transitions,
// inventory postings and result reviews.
//
// All recording methods are safe on a nil *Metrics so services can run
// without instrumentation in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lims"

type Metrics struct {
	Registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	samplesRegistered     prometheus.Counter
	sampleIDRetries       prometheus.Counter
	assignmentTransitions *prometheus.CounterVec
	inventoryPostings     *prometheus.CounterVec
	resultReviews         *prometheus.CounterVec
	exportsArchived       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		samplesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_registered_total",
			Help: "Samples registered.",
		}),
		sampleIDRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sample_id_retries_total",
			Help: "Sample identifier collisions that triggered a retry.",
		}),
		assignmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "assignment_transitions_total",
			Help: "Test assignment status transitions.",
		}, []string{"from", "to"}),
		inventoryPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inventory_transactions_total",
			Help: "Inventory transactions posted by type.",
		}, []string{"type"}),
		resultReviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "result_reviews_total",
			Help: "Result review decisions.",
		}, []string{"decision"}),
		exportsArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "report_exports_archived_total",
			Help: "CSV report exports written to the blob store.",
		}, []string{"report"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.samplesRegistered, m.sampleIDRetries,
		m.assignmentTransitions, m.inventoryPostings,
		m.resultReviews, m.exportsArchived,
	)
	return m
}

// PoolStats is the subset of pgxpool.Stat exported as gauges.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// RegisterPool exports connection pool gauges read on every scrape.
func (m *Metrics) RegisterPool(stat func() PoolStats) {
	gauge := func(name, help string, f func(PoolStats) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db_pool", Name: name, Help: help,
		}, func() float64 { return float64(f(stat())) })
	}
	m.Registry.MustRegister(
		gauge("acquired_conns", "Connections currently in use.", PoolStats.AcquiredConns),
		gauge("idle_conns", "Idle connections.", PoolStats.IdleConns),
		gauge("total_conns", "Open connections.", PoolStats.TotalConns),
	)
}

// Middleware records request counts and latency keyed by the matched route
// template so path parameters do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) SampleRegistered() {
	if m == nil {
		return
	}
	m.samplesRegistered.Inc()
}

func (m *Metrics) SampleIDRetry() {
	if m == nil {
		return
	}
	m.sampleIDRetries.Inc()
}

func (m *Metrics) AssignmentTransition(from, to string) {
	if m == nil {
		return
	}
	m.assignmentTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) InventoryPosted(txType string) {
	if m == nil {
		return
	}
	m.inventoryPostings.WithLabelValues(txType).Inc()
}

func (m *Metrics) ResultReviewed(decision string) {
	if m == nil {
		return
	}
	m.resultReviews.WithLabelValues(decision).Inc()
}

func (m *Metrics) ExportArchived(report string) {
	if m == nil {
		return
	}
	m.exportsArchived.WithLabelValues(report).Inc()
}
