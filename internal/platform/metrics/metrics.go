// Package metrics exposes Prometheus counters for store mutations, audit
// logging and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	mutations        *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	auditEntries     *prometheus.CounterVec
	auditSkipped     prometheus.Counter
	auditPersistErrs prometheus.Counter
	notifications    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	wsClients        prometheus.Gauge
	panics           prometheus.Counter
	rateLimited      prometheus.Counter
}

// NewCollector registers every metric, plus the Go runtime and process
// collectors, on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emr_store_mutations_total",
				Help: "Total number of successful store mutations",
			},
			[]string{"store", "action"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emr_store_rejections_total",
				Help: "Total number of mutations refused by a precondition",
			},
			[]string{"store", "action"},
		),
		auditEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emr_audit_entries_total",
				Help: "Total number of audit entries recorded",
			},
			[]string{"module", "action"},
		),
		auditSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emr_audit_skipped_total",
			Help: "Audit entries dropped because no current user was set",
		}),
		auditPersistErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emr_audit_persist_failures_total",
			Help: "Failed writes of the audit log to durable storage",
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emr_notifications_total",
				Help: "Total number of notification records created",
			},
			[]string{"type", "module"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emr_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emr_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emr_websocket_clients",
			Help: "Number of connected change-feed clients",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emr_http_panics_total",
			Help: "Handler panics recovered by the server",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emr_http_rate_limited_total",
			Help: "Requests refused by the rate limiter",
		}),
	}

	c.registry.MustRegister(
		c.mutations,
		c.rejections,
		c.auditEntries,
		c.auditSkipped,
		c.auditPersistErrs,
		c.notifications,
		c.httpRequests,
		c.httpDuration,
		c.wsClients,
		c.panics,
		c.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RecordMutation(store, action string) {
	c.mutations.WithLabelValues(store, action).Inc()
}

func (c *Collector) RecordRejection(store, action string) {
	c.rejections.WithLabelValues(store, action).Inc()
}

func (c *Collector) RecordAuditEntry(module, action string) {
	c.auditEntries.WithLabelValues(module, action).Inc()
}

func (c *Collector) RecordAuditSkipped() { c.auditSkipped.Inc() }

func (c *Collector) RecordAuditPersistFailure() { c.auditPersistErrs.Inc() }

func (c *Collector) RecordNotification(typ, module string) {
	c.notifications.WithLabelValues(typ, module).Inc()
}

func (c *Collector) SetWebsocketClients(n int) { c.wsClients.Set(float64(n)) }

func (c *Collector) RecordPanic() { c.panics.Inc() }

func (c *Collector) RecordRateLimited() { c.rateLimited.Inc() }

// Middleware records request counts and latency per matched route.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			status := ctx.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = 500
				}
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ctx.Request().Method
			c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			c.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
}
