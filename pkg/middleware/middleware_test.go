package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
	"github.com/SyncOT/SyncOT-sub002/pkg/transport"
)

// newTracedPair connects a server running the "text" service behind mw to a
// client holding a proxy for it.
func newTracedPair(t *testing.T, mw ...connection.Middleware) (server, client *connection.Connection, p *connection.Proxy) {
	t.Helper()
	server = connection.New(connection.WithMiddleware(mw...))
	client = connection.New()
	t.Cleanup(func() {
		server.Destroy()
		client.Destroy()
	})

	err := server.RegisterService(connection.Service{
		Name:     "text",
		Requests: []string{"upper"},
		Instance: connection.Handlers{
			"upper": func(_ context.Context, args []any) (any, error) {
				s, _ := args[0].(string)
				return strings.ToUpper(s), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("RegisterService() error = %v", err)
	}
	p, err = client.RegisterProxy(connection.ProxyDescriptor{Name: "text", Requests: []string{"upper"}})
	if err != nil {
		t.Fatalf("RegisterProxy() error = %v", err)
	}

	a, b := transport.Pipe()
	if err := server.Connect(a); err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(b); err != nil {
		t.Fatal(err)
	}
	return server, client, p
}

func TestMiddlewareStack(t *testing.T) {
	m := newTestMetrics(t)
	tp := newRecordingProvider()
	_, _, p := newTracedPair(t, OpenTelemetry(WithTracerProvider(tp)), Prometheus())

	for i := 0; i < 3; i++ {
		if _, err := p.Call(context.Background(), "upper", "x"); err != nil {
			t.Fatal(err)
		}
	}
	if got := metricCounterValue(t, m.callsTotal.WithLabelValues("text", "upper", StatusOK)); got != 3 {
		t.Fatalf("calls_total = %v, want 3", got)
	}
	tp.tracer.mu.Lock()
	defer tp.tracer.mu.Unlock()
	if len(tp.tracer.spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(tp.tracer.spans))
	}
}
