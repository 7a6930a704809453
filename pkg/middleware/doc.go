// Package middleware provides observability middleware for SyncOT
// connections.
//
// This package includes:
//   - OpenTelemetry tracing of service calls
//   - Prometheus metrics for service calls and connection lifecycles
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware opens a server span for every service call.
// The span is active in the context the service method receives.
//
//	conn := connection.New(
//	    connection.WithMiddleware(
//	        middleware.OpenTelemetry(),
//	    ),
//	)
//
// Configure with options:
//
//	middleware.OpenTelemetry(
//	    middleware.WithTracerName("my-app"),
//	    middleware.WithCallFilter(func(call *connection.Call) bool {
//	        return call.Request != "ping"
//	    }),
//	)
//
// # Prometheus Metrics
//
// The Prometheus middleware collects:
//   - syncot_calls_total: Service calls by service, request and status
//   - syncot_call_duration_seconds: Call duration histogram
//   - syncot_call_errors_total: Failed calls by error kind
//   - syncot_active_streams: Open service streams
//
// ObserveConnection adds connection lifecycle metrics:
//   - syncot_connects_total, syncot_disconnects_total
//   - syncot_connection_errors_total
//   - syncot_active_connections
//
// Then expose metrics:
//
//	http.Handle("/metrics", promhttp.Handler())
package middleware
