package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "syncot").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for call duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "syncot",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Call statuses used as the "status" label.
const (
	StatusOK     = "ok"
	StatusError  = "error"
	StatusStream = "stream"
)

// metrics holds the Prometheus metrics for SyncOT connections.
type metrics struct {
	callsTotal        *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	callErrors        *prometheus.CounterVec
	activeStreams     *prometheus.GaugeVec
	connectsTotal     prometheus.Counter
	disconnectsTotal  prometheus.Counter
	connectionErrors  prometheus.Counter
	activeConnections prometheus.Gauge
}

// globalMetrics is the metrics instance shared by Prometheus and
// ObserveConnection. It is created on first use.
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "calls_total",
			Help:        "Total number of service calls handled",
			ConstLabels: config.ConstLabels,
		}, []string{"service", "request", "status"}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "call_duration_seconds",
			Help:        "Service call duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"service", "request"}),

		callErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "call_errors_total",
			Help:        "Total number of failed service calls by error kind",
			ConstLabels: config.ConstLabels,
		}, []string{"service", "request", "kind"}),

		activeStreams: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_streams",
			Help:        "Number of open streams returned by services",
			ConstLabels: config.ConstLabels,
		}, []string{"service"}),

		connectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connects_total",
			Help:        "Total number of channels attached to observed connections",
			ConstLabels: config.ConstLabels,
		}),

		disconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "disconnects_total",
			Help:        "Total number of disconnects of observed connections",
			ConstLabels: config.ConstLabels,
		}),

		connectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_errors_total",
			Help:        "Total number of errors reported by observed connections",
			ConstLabels: config.ConstLabels,
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of observed connections with an attached channel",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// sharedMetrics returns the global metrics, creating them with opts on first
// use. Later options are ignored.
func sharedMetrics(opts []MetricsOption) *metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	return globalMetrics
}

// Prometheus creates middleware that collects Prometheus metrics for
// service calls.
//
// Metrics collected:
//   - syncot_calls_total: Counter of calls by service, request and status
//   - syncot_call_duration_seconds: Histogram of call duration
//   - syncot_call_errors_total: Counter of failed calls by error kind
//   - syncot_active_streams: Gauge of open service streams
//
// Example:
//
//	conn := connection.New(
//	    connection.WithMiddleware(middleware.Prometheus()),
//	)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) connection.Middleware {
	m := sharedMetrics(opts)

	return func(next connection.Handler) connection.Handler {
		return func(ctx context.Context, call *connection.Call) (any, error) {
			start := time.Now()
			v, err := next(ctx, call)
			m.callDuration.WithLabelValues(call.Service, call.Request).Observe(time.Since(start).Seconds())

			status := StatusOK
			if s, ok := v.(*connection.Stream); ok && s != nil && err == nil {
				status = StatusStream
				gauge := m.activeStreams.WithLabelValues(call.Service)
				gauge.Inc()
				go func() {
					<-s.Done()
					gauge.Dec()
				}()
			}
			if err != nil {
				status = StatusError
				m.callErrors.WithLabelValues(call.Service, call.Request, categorizeError(err)).Inc()
			}
			m.callsTotal.WithLabelValues(call.Service, call.Request, status).Inc()
			return v, err
		}
	}
}

// categorizeError returns a low-cardinality kind for err.
func categorizeError(err error) string {
	var pe *connection.PanicError
	var re *connection.RemoteError
	switch {
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, connection.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, connection.ErrDisconnected):
		return "disconnected"
	case errors.Is(err, connection.ErrNoService):
		return "no_service"
	case errors.Is(err, protocol.ErrInvalidEntity):
		return "invalid_entity"
	case errors.As(err, &re):
		return "remote"
	default:
		return "internal"
	}
}

// ObserveConnection records connect, disconnect and error events of conn in
// the shared metrics. It returns a function that stops observing.
func ObserveConnection(conn *connection.Connection, opts ...MetricsOption) func() {
	m := sharedMetrics(opts)

	var mu sync.Mutex
	connected := false
	offs := []func(){
		conn.OnConnect(func() {
			mu.Lock()
			defer mu.Unlock()
			m.connectsTotal.Inc()
			if !connected {
				connected = true
				m.activeConnections.Inc()
			}
		}),
		conn.OnDisconnect(func() {
			mu.Lock()
			defer mu.Unlock()
			m.disconnectsTotal.Inc()
			if connected {
				connected = false
				m.activeConnections.Dec()
			}
		}),
		conn.OnError(func(error) {
			m.connectionErrors.Inc()
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
		mu.Lock()
		defer mu.Unlock()
		if connected {
			connected = false
			m.activeConnections.Dec()
		}
	}
}
