// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet"

// Outcome labels shared by the ledger counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeIgnored  = "ignored"
	OutcomeReplay   = "replay"
)

// Metrics holds Prometheus metrics for the wallet service.
type Metrics struct {
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	apiKeyCacheTotal   *prometheus.CounterVec
	transfersTotal     *prometheus.CounterVec
	transferAmount     prometheus.Counter
	depositsTotal      *prometheus.CounterVec
	webhookEventsTotal *prometheus.CounterVec
	gatewayCallsTotal  *prometheus.CounterVec
	gatewayDuration    *prometheus.HistogramVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	rateLimitedTotal   *prometheus.CounterVec
	revocationsTotal   prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// Get returns the singleton metrics instance.
func Get() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		apiKeyCacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "apikey_cache",
				Name:      "lookups_total",
				Help:      "API key validation cache lookups by result",
			},
			[]string{"result"},
		),
		transfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Wallet-to-wallet transfers by outcome",
			},
			[]string{"outcome"},
		),
		transferAmount: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "transferred_minor_units_total",
				Help:      "Sum of successfully transferred amounts in minor units",
			},
		),
		depositsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposit",
				Name:      "initiations_total",
				Help:      "Deposit initiations by outcome",
			},
			[]string{"outcome"},
		),
		webhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposit",
				Name:      "webhook_events_total",
				Help:      "Processed payment webhooks by outcome",
			},
			[]string{"outcome"},
		),
		gatewayCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Payment gateway calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		gatewayDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Payment gateway call latency",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		breakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		rateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "rejections_total",
				Help:      "Requests rejected by rate limiting, by rule",
			},
			[]string{"rule"},
		),
		revocationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "token_revocations_total",
				Help:      "Bearer tokens revoked",
			},
		),
	}
}

// RecordHTTPRequest records one served request. route is the gin route
// template, never the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordAPIKeyCacheHit() {
	m.apiKeyCacheTotal.WithLabelValues("hit").Inc()
}

func (m *Metrics) RecordAPIKeyCacheMiss() {
	m.apiKeyCacheTotal.WithLabelValues("miss").Inc()
}

// RecordTransfer counts a transfer attempt. amount is added only on success.
func (m *Metrics) RecordTransfer(outcome string, amount int64) {
	m.transfersTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess && amount > 0 {
		m.transferAmount.Add(float64(amount))
	}
}

func (m *Metrics) RecordDepositInitiation(outcome string) {
	m.depositsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWebhook(outcome string) {
	m.webhookEventsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordGatewayCall(operation, outcome string, d time.Duration) {
	m.gatewayCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.gatewayDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordBreakerTransition tracks a breaker state change. state follows
// gobreaker's numbering.
func (m *Metrics) RecordBreakerTransition(name, from, to string, state int) {
	m.breakerTransitions.WithLabelValues(name, from, to).Inc()
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) RecordRateLimited(rule string) {
	m.rateLimitedTotal.WithLabelValues(rule).Inc()
}

func (m *Metrics) RecordRevocation() {
	m.revocationsTotal.Inc()
}
