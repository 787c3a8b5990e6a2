package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/notion-clipper/internal/observability/middleware"
)

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInstrument_JSON(t *testing.T) {
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	shutdown, err := Instrument(context.Background(), slog.LevelInfo, "json", WithOutput(&buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	slog.Debug("hidden")
	slog.Info("shown", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestInstrument_Errors(t *testing.T) {
	restoreDefaultLogger(t)

	_, err := Instrument(context.Background(), slog.LevelInfo, "xml")
	assert.Error(t, err)

	_, err = Instrument(context.Background(), slog.LevelInfo, "text", WithExporter("kafka"))
	assert.ErrorIs(t, err, errUnknownExporter)
}

func TestInstrument_StdoutExporter(t *testing.T) {
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	shutdown, err := Instrument(context.Background(), slog.LevelInfo, "text",
		WithOutput(&buf), WithExporter("stdout"))
	require.NoError(t, err)

	slog.Info("exported")
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "exported")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestTraceContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTraceContextHandler(slog.NewJSONHandler(&buf, nil)))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = context.WithValue(ctx, middleware.RequestIDContextKey{}, "req-1")

	logger.InfoContext(ctx, "correlated")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", rec["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", rec["span_id"])
	assert.Equal(t, "req-1", rec["request_id"])
}

func TestFanoutHandler(t *testing.T) {
	var info, debug bytes.Buffer
	h := newFanoutHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("component", "test")

	logger.Debug("low")
	logger.Info("high")

	assert.NotContains(t, info.String(), "low")
	assert.Contains(t, info.String(), "high")
	assert.Contains(t, debug.String(), "low")
	assert.Contains(t, debug.String(), "component=test")
}

func TestTraceContextExtraction(t *testing.T) {
	restoreDefaultLogger(t)
	_, err := Instrument(context.Background(), slog.LevelInfo, "text", WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	var got trace.SpanContext
	h := middleware.TraceContextExtraction(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, got.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
}
