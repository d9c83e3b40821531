package metrics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/playlist/internal/core"
)

// Collector exposes queue and filter activity to prometheus. It implements
// core.Metrics.
type Collector struct {
	registry *prometheus.Registry

	jobsStarted      prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	linesSuppressed  prometheus.Counter
	clearScripts     prometheus.Counter
	triggersFired    *prometheus.CounterVec
	queueLength      prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpRequestTimes *prometheus.HistogramVec
}

// New registers the collectors on a private registry so several instances
// can coexist in tests.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playlist_jobs_started_total",
			Help: "Print jobs started by the engine",
		}),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playlist_jobs_finished_total",
				Help: "Print jobs finished, by outcome",
			},
			[]string{"outcome"},
		),
		linesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playlist_lines_suppressed_total",
			Help: "Instruction lines dropped by marker stripping",
		}),
		clearScripts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playlist_clear_scripts_inserted_total",
			Help: "Bed clear scripts inserted between jobs",
		}),
		triggersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playlist_triggers_fired_total",
				Help: "Scheduled triggers fired, by action",
			},
			[]string{"action"},
		),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playlist_queue_length",
			Help: "Jobs in the live queue, current job included",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playlist_http_requests_total",
				Help: "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestTimes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playlist_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	c.registry.MustRegister(
		c.jobsStarted,
		c.jobsFinished,
		c.linesSuppressed,
		c.clearScripts,
		c.triggersFired,
		c.queueLength,
		c.httpRequests,
		c.httpRequestTimes,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) JobStarted() {
	c.jobsStarted.Inc()
}

func (c *Collector) JobFinished(failed bool) {
	outcome := "completed"
	if failed {
		outcome = "failed"
	}
	c.jobsFinished.WithLabelValues(outcome).Inc()
}

func (c *Collector) LineSuppressed() {
	c.linesSuppressed.Inc()
}

func (c *Collector) ClearScriptInserted() {
	c.clearScripts.Inc()
}

func (c *Collector) TriggerFired(action core.TriggerAction) {
	c.triggersFired.WithLabelValues(action.String()).Inc()
}

func (c *Collector) QueueLength(n int) {
	c.queueLength.Set(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GinMiddleware counts requests by matched route.
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			c.httpRequestTimes.WithLabelValues(ctx.Request.Method, route(ctx)).Observe(v)
		}))
		ctx.Next()
		timer.ObserveDuration()
		c.httpRequests.WithLabelValues(ctx.Request.Method, route(ctx), strconv.Itoa(ctx.Writer.Status())).Inc()
	}
}

func route(ctx *gin.Context) string {
	if r := ctx.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}
