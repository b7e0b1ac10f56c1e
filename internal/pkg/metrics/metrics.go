package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pathkeeper",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pathkeeper",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pathkeeper",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Tracking metrics
	FixesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pathkeeper",
		Subsystem: "tracking",
		Name:      "fixes_ingested_total",
		Help:      "Total fixes accepted and persisted",
	}, []string{"source_kind"})

	FixesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pathkeeper",
		Subsystem: "tracking",
		Name:      "fixes_rejected_total",
		Help:      "Total fixes rejected by classification",
	}, []string{"reason"})

	EnrichmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pathkeeper",
		Subsystem: "tracking",
		Name:      "enrichments_total",
		Help:      "Reverse geocoding outcomes",
	}, []string{"result"})

	GeocodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pathkeeper",
		Subsystem: "tracking",
		Name:      "geocode_duration_seconds",
		Help:      "Duration of reverse geocoding calls",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3},
	})

	SyncTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pathkeeper",
		Subsystem: "sync",
		Name:      "ticks_total",
		Help:      "Sync scheduler ticks by outcome",
	}, []string{"result"})

	ActiveObservations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pathkeeper",
		Subsystem: "sync",
		Name:      "active_observations",
		Help:      "Entities currently being observed",
	})

	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pathkeeper",
		Subsystem: "remote",
		Name:      "request_duration_seconds",
		Help:      "Latency of remote path store calls",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4},
	}, []string{"operation"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pathkeeper",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pathkeeper",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pathkeeper",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pathkeeper",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pathkeeper",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pathkeeper",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
func UpdateDBPoolMetrics(stat any) {
	// Accepts pgxpool.Stat without importing pgxpool here.
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
