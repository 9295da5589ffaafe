package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "highgarden/auditreport"

// DBOperation is the kind of database call a span covers.
type DBOperation string

const (
	DBOperationQuery DBOperation = "query"
	DBOperationPing  DBOperation = "ping"
)

// StartDBSpan opens a client span for a database call against table.
// The returned func ends the span, recording err when non-nil.
//
//	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_trail_company_map_vw", tracing.DBOperationQuery)
//	defer func() { endSpan(err) }()
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation)
	if table != "" {
		name += " " + table
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", string(operation)),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}
	return start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// StartClientSpan opens a client span for a call to an external service,
// such as "s3" or "cloudwatchlogs".
func StartClientSpan(ctx context.Context, system, operation string) (context.Context, func(error)) {
	return start(ctx, system+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", system),
			attribute.String("rpc.method", operation),
		),
	)
}

// StartSpan opens an internal span.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	return start(ctx, name)
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

func start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, opts...)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
