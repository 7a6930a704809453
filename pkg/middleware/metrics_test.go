package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
	"github.com/SyncOT/SyncOT-sub002/pkg/transport"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func newTestMetrics(t *testing.T) *metrics {
	t.Helper()
	resetGlobalMetricsForTest()
	t.Cleanup(resetGlobalMetricsForTest)
	return sharedMetrics([]MetricsOption{WithRegistry(prometheus.NewRegistry())})
}

func waitForValue(t *testing.T, what string, get func() float64, want float64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for get() != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s = %v, want %v", what, get(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPrometheusMiddleware_RecordsCalls(t *testing.T) {
	m := newTestMetrics(t)
	mw := Prometheus()
	call := &connection.Call{Service: "docs", Request: "get", ID: 1}

	t.Run("success", func(t *testing.T) {
		h := mw(func(context.Context, *connection.Call) (any, error) { return "ok", nil })
		if v, err := h(context.Background(), call); err != nil || v != "ok" {
			t.Fatalf("handler = %v, %v", v, err)
		}
		if got := metricCounterValue(t, m.callsTotal.WithLabelValues("docs", "get", StatusOK)); got != 1 {
			t.Fatalf("calls_total(ok) = %v, want 1", got)
		}
		if got := metricHistogramCount(t, m.callDuration.WithLabelValues("docs", "get")); got != 1 {
			t.Fatalf("call_duration count = %v, want 1", got)
		}
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		h := mw(func(context.Context, *connection.Call) (any, error) { return nil, boom })
		if _, err := h(context.Background(), call); err != boom {
			t.Fatalf("handler error = %v, want boom", err)
		}
		if got := metricCounterValue(t, m.callsTotal.WithLabelValues("docs", "get", StatusError)); got != 1 {
			t.Fatalf("calls_total(error) = %v, want 1", got)
		}
		if got := metricCounterValue(t, m.callErrors.WithLabelValues("docs", "get", "internal")); got != 1 {
			t.Fatalf("call_errors_total(internal) = %v, want 1", got)
		}
	})

	t.Run("stream", func(t *testing.T) {
		s := connection.NewStream()
		h := mw(func(context.Context, *connection.Call) (any, error) { return s, nil })
		if _, err := h(context.Background(), call); err != nil {
			t.Fatal(err)
		}
		if got := metricCounterValue(t, m.callsTotal.WithLabelValues("docs", "get", StatusStream)); got != 1 {
			t.Fatalf("calls_total(stream) = %v, want 1", got)
		}
		gauge := m.activeStreams.WithLabelValues("docs")
		if got := metricGaugeValue(t, gauge); got != 1 {
			t.Fatalf("active_streams = %v, want 1", got)
		}
		s.Destroy(nil)
		waitForValue(t, "active_streams", func() float64 { return metricGaugeValue(t, gauge) }, 0)
	})
}

func TestPrometheus_SharesMetrics(t *testing.T) {
	m := newTestMetrics(t)
	Prometheus(WithNamespace("ignored"))
	if sharedMetrics(nil) != m {
		t.Fatal("expected later calls to reuse the first metrics instance")
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, "canceled"},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "timeout"},
		{connection.ErrInvalidArgument, "invalid_argument"},
		{connection.ErrDisconnected, "disconnected"},
		{connection.ErrNoService, "no_service"},
		{&connection.PanicError{}, "panic"},
		{&connection.RemoteError{Name: "Oops"}, "remote"},
		{errors.New("plain"), "internal"},
	}
	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.want {
			t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestObserveConnection(t *testing.T) {
	m := newTestMetrics(t)
	conn := connection.New()
	t.Cleanup(conn.Destroy)
	stop := ObserveConnection(conn)

	a, b := transport.Pipe()
	t.Cleanup(func() { b.Close() })
	if err := conn.Connect(a); err != nil {
		t.Fatal(err)
	}
	conn.Flush()
	if got := metricCounterValue(t, m.connectsTotal); got != 1 {
		t.Fatalf("connects_total = %v, want 1", got)
	}
	if got := metricGaugeValue(t, m.activeConnections); got != 1 {
		t.Fatalf("active_connections = %v, want 1", got)
	}

	conn.Disconnect()
	conn.Flush()
	if got := metricCounterValue(t, m.disconnectsTotal); got != 1 {
		t.Fatalf("disconnects_total = %v, want 1", got)
	}
	if got := metricGaugeValue(t, m.activeConnections); got != 0 {
		t.Fatalf("active_connections = %v, want 0", got)
	}

	stop()
	a, b = transport.Pipe()
	t.Cleanup(func() { b.Close() })
	if err := conn.Connect(a); err != nil {
		t.Fatal(err)
	}
	conn.Flush()
	if got := metricCounterValue(t, m.connectsTotal); got != 1 {
		t.Fatalf("connects_total after stop = %v, want 1", got)
	}
}
