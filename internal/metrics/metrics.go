package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Latency         *prometheus.HistogramVec
	RecordsWritten  *prometheus.CounterVec
	FeedEvents      *prometheus.CounterVec
	RealtimeClients prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leveltwo",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leveltwo",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leveltwo",
			Name:      "records_written_total",
			Help:      "Attendance and visit rows upserted or deleted.",
		}, []string{"kind", "op"}),
		FeedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leveltwo",
			Name:      "changefeed_events_total",
			Help:      "Change events fanned out to realtime clients.",
		}, []string{"table", "type"}),
		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leveltwo",
			Name:      "realtime_clients",
			Help:      "Open websocket subscriptions.",
		}),
	}
	reg.MustRegister(m.Requests, m.Latency, m.RecordsWritten, m.FeedEvents, m.RealtimeClients)
	return m
}

// GinMiddleware records request counts and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.Latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
