package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
)

// Default tracer name for SyncOT services.
const defaultTracerName = "syncot"

// Span attribute keys.
const (
	AttrService   = attribute.Key("syncot.service")
	AttrRequest   = attribute.Key("syncot.request")
	AttrRequestID = attribute.Key("syncot.request_id")
	AttrArgCount  = attribute.Key("syncot.arg_count")
	AttrResult    = attribute.Key("syncot.result")
)

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "syncot").
	TracerName string

	// TracerProvider supplies the tracer. If nil, the global provider is
	// used.
	TracerProvider trace.TracerProvider

	// Filter determines which calls to trace.
	// Return true to trace the call, false to skip.
	// If nil, all calls are traced.
	Filter func(call *connection.Call) bool

	// AttributeExtractor extracts custom attributes from a call.
	AttributeExtractor func(call *connection.Call) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithCallFilter sets a filter function for calls.
func WithCallFilter(filter func(call *connection.Call) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(call *connection.Call) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{TracerName: defaultTracerName}
}

// OpenTelemetry creates middleware that traces every service call.
//
// Each call gets a server span named "syncot.<service>.<request>" carrying
// the service, request, request id and argument count. The span is the
// active span of the context passed to the handler, so work the handler
// starts with that context joins the trace. Errors are recorded and set the
// span status.
//
// The tracer comes from the global OpenTelemetry provider unless
// WithTracerProvider is given:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) connection.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next connection.Handler) connection.Handler {
		return func(ctx context.Context, call *connection.Call) (any, error) {
			if config.Filter != nil && !config.Filter(call) {
				return next(ctx, call)
			}

			attrs := []attribute.KeyValue{
				AttrService.String(call.Service),
				AttrRequest.String(call.Request),
				AttrRequestID.Int64(int64(call.ID)),
				AttrArgCount.Int(len(call.Args)),
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(call)...)
			}

			ctx, span := tracer.Start(ctx, spanName(call),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			v, err := next(ctx, call)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return v, err
			}

			result := "value"
			if _, ok := v.(*connection.Stream); ok {
				result = "stream"
			}
			span.SetAttributes(AttrResult.String(result))
			span.SetStatus(codes.Ok, "")
			return v, nil
		}
	}
}

func spanName(call *connection.Call) string {
	return fmt.Sprintf("syncot.%s.%s", call.Service, call.Request)
}
