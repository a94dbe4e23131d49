// Package metrics provides the Prometheus collectors for modhub.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	gateTransitions      *prometheus.CounterVec
	notificationsCreated *prometheus.CounterVec
	unreadCache          *prometheus.CounterVec
	commentsListed       *prometheus.CounterVec
	rateLimited          prometheus.Counter
	reqTotal             *prometheus.CounterVec
	reqDur               *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		gateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modhub_gate_transitions_total",
			Help: "Pending update gate transitions by action and result",
		}, []string{"action", "result"}),
		notificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modhub_notifications_created_total",
			Help: "Notifications stored by kind",
		}, []string{"kind"}),
		unreadCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modhub_unread_cache_lookups_total",
			Help: "Unread count cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		commentsListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modhub_comment_pages_served_total",
			Help: "Comment pages served by ranking strategy",
		}, []string{"strategy"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modhub_rate_limited_total",
			Help: "Write requests rejected by the rate limiter",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.gateTransitions,
		m.notificationsCreated,
		m.unreadCache,
		m.commentsListed,
		m.rateLimited,
		m.reqTotal,
		m.reqDur,
	)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler { return m.handler }

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) GateTransition(action, result string) {
	if m == nil {
		return
	}
	m.gateTransitions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) NotificationCreated(kind string) {
	if m == nil {
		return
	}
	m.notificationsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) UnreadCacheLookup(result string) {
	if m == nil {
		return
	}
	m.unreadCache.WithLabelValues(result).Inc()
}

func (m *Metrics) CommentPageServed(strategy string) {
	if m == nil {
		return
	}
	m.commentsListed.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.reqTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.reqDur.WithLabelValues(method, route).Observe(took.Seconds())
}
