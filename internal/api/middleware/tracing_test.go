package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return exporter
}

func TestTracingNamesSpanAfterRoute(t *testing.T) {
	exporter := newTestTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	handler := CorrelationID(zerolog.Nop())(Tracing(CaptureRoute(mux)))

	req := httptest.NewRequest(http.MethodGet, "/events/42", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "GET /events/{id}" {
		t.Errorf("expected span name %q, got %q", "GET /events/{id}", span.Name)
	}

	found := map[string]bool{}
	for _, attr := range span.Attributes {
		switch attr.Key {
		case "http.route":
			found["route"] = attr.Value.AsString() == "GET /events/{id}"
		case "http.status_code":
			found["status"] = attr.Value.AsInt64() == 200
		case "request_id":
			found["request_id"] = attr.Value.AsString() == rec.Header().Get(RequestIDHeader)
		}
	}
	for _, key := range []string{"route", "status", "request_id"} {
		if !found[key] {
			t.Errorf("attribute %s missing or wrong", key)
		}
	}
}

func TestTracingMarksServerErrors(t *testing.T) {
	exporter := newTestTracer(t)

	tests := []struct {
		status int
		want   codes.Code
	}{
		{http.StatusNotFound, codes.Unset},
		{http.StatusInternalServerError, codes.Error},
	}

	for _, tt := range tests {
		exporter.Reset()
		handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
		if spans[0].Status.Code != tt.want {
			t.Errorf("status %d: span status = %v, want %v", tt.status, spans[0].Status.Code, tt.want)
		}
	}
}

func TestTracingContinuesIncomingTrace(t *testing.T) {
	exporter := newTestTracer(t)
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s, want the incoming one", got)
	}
}
