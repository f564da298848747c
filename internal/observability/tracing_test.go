package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/araim-monitor/core"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestTracingConfigValidate(t *testing.T) {
	for name, cfg := range map[string]TracingConfig{
		"exporter": {Exporter: "zipkin-over-fax", SampleRatio: 1},
		"ratio":    {Exporter: "otlp", SampleRatio: -0.1},
	} {
		if err := cfg.Validate(); !errors.Is(err, core.ErrConfig) {
			t.Fatalf("%s: err = %v, want ErrConfig", name, err)
		}
	}
	if err := (TracingConfig{Exporter: "stdout", SampleRatio: 0.25}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdoutExportsEpochSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		SampleRatio: 1,
		RunID:       "run-7",
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartEpochSpan(context.Background(), "run-7", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	EndEpochSpan(span, nil)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("araim.runner.epoch")) || !bytes.Contains(buf.Bytes(), []byte("run-7")) {
		t.Fatalf("exported spans missing epoch span: %s", buf.String())
	}
}

func TestEndEpochSpanStatus(t *testing.T) {
	rec := withRecorder(t)
	epoch := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, err := range []error{nil, core.ErrStaleEpoch, errors.New("redis down")} {
		_, span := StartEpochSpan(context.Background(), "run", epoch)
		EndEpochSpan(span, err)
	}

	ended := rec.Ended()
	if len(ended) != 3 {
		t.Fatalf("ended spans = %d, want 3", len(ended))
	}
	want := []codes.Code{codes.Ok, codes.Unset, codes.Error}
	for i, s := range ended {
		if s.Status().Code != want[i] {
			t.Fatalf("span %d status = %v, want %v", i, s.Status().Code, want[i])
		}
	}
	if len(ended[2].Events()) == 0 {
		t.Fatal("failed epoch should record the error event")
	}
}
