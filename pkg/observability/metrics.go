package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the billing backend.
type Metrics struct {
	registry *prometheus.Registry

	PeriodsCreated  *prometheus.CounterVec
	PaymentsApplied *prometheus.CounterVec
	PaymentCents    prometheus.Counter
	Suspensions     *prometheus.CounterVec
	SweepRuns       prometheus.Counter
	HTTPDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the billing metrics on a dedicated
// registry so tests can instantiate it repeatedly.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		PeriodsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fichas_billing_periods_created_total",
			Help: "Billing periods created, by origin (range, init, sweep, settlement).",
		}, []string{"origin"}),
		PaymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fichas_billing_payments_total",
			Help: "Payments applied to billing periods, by kind (full, partial).",
		}, []string{"kind"}),
		PaymentCents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fichas_billing_payment_cents_total",
			Help: "Total centavos collected across all payments.",
		}),
		Suspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fichas_billing_suspensions_total",
			Help: "Service suspension state changes, by action (suspend, reactivate).",
		}, []string{"action"}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fichas_billing_sweep_runs_total",
			Help: "Executions of the ensure-current-period sweep.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fichas_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	registry.MustRegister(
		m.PeriodsCreated,
		m.PaymentsApplied,
		m.PaymentCents,
		m.Suspensions,
		m.SweepRuns,
		m.HTTPDuration,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one completed HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.HTTPDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
