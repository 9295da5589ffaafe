package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func attr(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query with table", "audit_trail_company_map_vw", DBOperationQuery, "query audit_trail_company_map_vw"},
		{"ping without table", "", DBOperationPing, "ping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}
			if got := attr(span.Attributes(), "db.system"); got != "postgresql" {
				t.Errorf("db.system = %q, want postgresql", got)
			}
			if got := attr(span.Attributes(), "db.sql.table"); got != tt.table {
				t.Errorf("db.sql.table = %q, want %q", got, tt.table)
			}
		})
	}
}

func TestStartClientSpan_RecordsError(t *testing.T) {
	recorder := newRecorder(t)

	_, endSpan := StartClientSpan(context.Background(), "s3", "PutObject")
	endSpan(errors.New("access denied"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "s3.PutObject" {
		t.Errorf("span name = %q, want s3.PutObject", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status().Code)
	}
	if len(span.Events()) == 0 {
		t.Error("expected error event on span")
	}
}

func TestStartSpan_Nesting(t *testing.T) {
	recorder := newRecorder(t)

	ctx, endParent := StartSpan(context.Background(), "report.run")
	SetAttributes(ctx, attribute.String("report.date", "2024-03-02"))
	_, endChild := StartSpan(ctx, "report.assemble")
	endChild(nil)
	endParent(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("child span is not parented to report.run")
	}
	if got := attr(parent.Attributes(), "report.date"); got != "2024-03-02" {
		t.Errorf("report.date = %q, want 2024-03-02", got)
	}
}
