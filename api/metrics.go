package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/shipment-engine/shipping"
)

// Metrics holds the prometheus collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	workflows    *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	auditDrift   prometheus.Gauge
	auditRuns    prometheus.Counter

	ledgerMismatch prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry, so tests can build
// as many routers as they like.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipment",
			Name:      "workflow_total",
			Help:      "Mutation workflows by name and outcome.",
		}, []string{"workflow", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipment",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		auditDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shipment",
			Name:      "audit_drifted_shipments",
			Help:      "Shipments whose cost disagreed with their products on the last audit.",
		}),
		auditRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shipment",
			Name:      "audit_runs_total",
			Help:      "Completed ledger audits.",
		}),
		ledgerMismatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shipment",
			Name:      "audit_ledger_mismatches",
			Help:      "Users whose movement log did not replay to their balance on the last audit.",
		}),
	}
	m.registry.MustRegister(
		m.workflows,
		m.httpDuration,
		m.auditDrift,
		m.auditRuns,
		m.ledgerMismatch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWorkflow counts one workflow outcome: "ok" or the error code.
func (m *Metrics) ObserveWorkflow(workflow string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorCode(err)
	}
	m.workflows.WithLabelValues(workflow, outcome).Inc()
}

func (m *Metrics) observeAudit(report shipping.AuditReport) {
	if m == nil {
		return
	}
	m.auditRuns.Inc()
	m.auditDrift.Set(float64(len(report.Drifted)))
	m.ledgerMismatch.Set(float64(len(report.LedgerMismatches)))
}

// Middleware records request latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
