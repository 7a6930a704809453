package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
)

type recordedSpan struct {
	noop.Span

	mu    sync.Mutex
	name  string
	kind  trace.SpanKind
	attrs []attribute.KeyValue
	code  codes.Code
	errs  []error
	ended bool
}

func (s *recordedSpan) SetStatus(code codes.Code, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
}

func (s *recordedSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = append(s.attrs, kv...)
}

func (s *recordedSpan) RecordError(err error, _ ...trace.EventOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordedSpan) End(...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *recordedSpan) attr(key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

type recordingTracer struct {
	noop.Tracer

	mu    sync.Mutex
	spans []*recordedSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordedSpan{name: name, kind: cfg.SpanKind(), attrs: cfg.Attributes()}
	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

type recordingProvider struct {
	noop.TracerProvider
	tracer *recordingTracer
	name   string
}

func (p *recordingProvider) Tracer(name string, _ ...trace.TracerOption) trace.Tracer {
	p.name = name
	return p.tracer
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{tracer: &recordingTracer{}}
}

func TestOpenTelemetryMiddleware_Success(t *testing.T) {
	tp := newRecordingProvider()
	mw := OpenTelemetry(
		WithTracerProvider(tp),
		WithAttributeExtractor(func(*connection.Call) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("test.attr", "ok")}
		}),
	)

	var active trace.Span
	h := mw(func(ctx context.Context, call *connection.Call) (any, error) {
		active = trace.SpanFromContext(ctx)
		return "done", nil
	})
	v, err := h(context.Background(), &connection.Call{Service: "docs", Request: "get", ID: 7, Args: []any{"a", "b"}})
	if err != nil || v != "done" {
		t.Fatalf("handler = %v, %v", v, err)
	}

	if tp.name != defaultTracerName {
		t.Fatalf("tracer name = %q, want %q", tp.name, defaultTracerName)
	}
	if len(tp.tracer.spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(tp.tracer.spans))
	}
	span := tp.tracer.spans[0]
	if active != trace.Span(span) {
		t.Fatal("expected the call span to be active in the handler context")
	}
	if span.name != "syncot.docs.get" {
		t.Fatalf("span name = %q", span.name)
	}
	if span.kind != trace.SpanKindServer {
		t.Fatalf("span kind = %v, want server", span.kind)
	}
	if !span.ended || span.code != codes.Ok {
		t.Fatalf("ended = %v, code = %v", span.ended, span.code)
	}

	wants := map[attribute.Key]attribute.Value{
		AttrService:   attribute.StringValue("docs"),
		AttrRequest:   attribute.StringValue("get"),
		AttrRequestID: attribute.Int64Value(7),
		AttrArgCount:  attribute.IntValue(2),
		AttrResult:    attribute.StringValue("value"),
		"test.attr":   attribute.StringValue("ok"),
	}
	for key, want := range wants {
		got, ok := span.attr(key)
		if !ok || got != want {
			t.Errorf("attribute %s = %v (present %v), want %v", key, got.Emit(), ok, want.Emit())
		}
	}
}

func TestOpenTelemetryMiddleware_Error(t *testing.T) {
	tp := newRecordingProvider()
	mw := OpenTelemetry(WithTracerProvider(tp), WithTracerName("custom"))

	boom := errors.New("boom")
	h := mw(func(context.Context, *connection.Call) (any, error) { return nil, boom })
	if _, err := h(context.Background(), &connection.Call{Service: "docs", Request: "put"}); err != boom {
		t.Fatalf("handler error = %v, want boom", err)
	}

	if tp.name != "custom" {
		t.Fatalf("tracer name = %q, want custom", tp.name)
	}
	span := tp.tracer.spans[0]
	if span.code != codes.Error || len(span.errs) != 1 || span.errs[0] != boom {
		t.Fatalf("code = %v, errs = %v", span.code, span.errs)
	}
	if _, ok := span.attr(AttrResult); ok {
		t.Fatal("failed call should not carry a result attribute")
	}
}

func TestOpenTelemetryMiddleware_StreamResult(t *testing.T) {
	tp := newRecordingProvider()
	h := OpenTelemetry(WithTracerProvider(tp))(func(context.Context, *connection.Call) (any, error) {
		return connection.NewStream(), nil
	})
	if _, err := h(context.Background(), &connection.Call{Service: "docs", Request: "watch"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := tp.tracer.spans[0].attr(AttrResult); got.AsString() != "stream" {
		t.Fatalf("result attribute = %q, want stream", got.AsString())
	}
}

func TestOpenTelemetryMiddleware_Filter(t *testing.T) {
	tp := newRecordingProvider()
	mw := OpenTelemetry(
		WithTracerProvider(tp),
		WithCallFilter(func(call *connection.Call) bool { return call.Request != "ping" }),
	)
	h := mw(func(context.Context, *connection.Call) (any, error) { return nil, nil })

	h(context.Background(), &connection.Call{Service: "echo", Request: "ping"})
	if len(tp.tracer.spans) != 0 {
		t.Fatalf("filtered call produced %d spans", len(tp.tracer.spans))
	}
	h(context.Background(), &connection.Call{Service: "echo", Request: "echo"})
	if len(tp.tracer.spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(tp.tracer.spans))
	}
}

func TestOpenTelemetryMiddleware_OverConnection(t *testing.T) {
	tp := newRecordingProvider()
	_, _, p := newTracedPair(t, OpenTelemetry(WithTracerProvider(tp)))

	v, err := p.Call(context.Background(), "upper", "abc")
	if err != nil || v != "ABC" {
		t.Fatalf("upper() = %v, %v", v, err)
	}
	tp.tracer.mu.Lock()
	defer tp.tracer.mu.Unlock()
	if len(tp.tracer.spans) != 1 || tp.tracer.spans[0].name != "syncot.text.upper" {
		t.Fatalf("spans = %+v", tp.tracer.spans)
	}
	if id, _ := tp.tracer.spans[0].attr(AttrRequestID); id.AsInt64() != 1 {
		t.Fatalf("request id = %v, want 1", id.AsInt64())
	}
}
