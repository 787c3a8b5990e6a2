package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Option configures Instrument.
type Option func(*options)

type options struct {
	output   io.Writer
	exporter string
}

// WithOutput sets where human-readable logs are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithExporter enables OpenTelemetry log export: "otlp-http", "otlp-grpc"
// or "stdout". Empty or "none" disables it.
func WithExporter(name string) Option {
	return func(o *options) { o.exporter = name }
}

// Instrument installs the default logger and W3C trace context propagation.
// The returned function flushes and stops log export.
func Instrument(ctx context.Context, level slog.Level, logFormat string, opts ...Option) (func(context.Context) error, error) {
	o := options{output: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	handler, err := newStdoutHandler(o.output, level, logFormat)
	if err != nil {
		return nil, err
	}

	shutdown := func(context.Context) error { return nil }

	exp, err := newLogExport(ctx, o.exporter, level)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		handler = newFanoutHandler(handler, exp.handler)
		shutdown = exp.shutdown
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.SetDefault(slog.New(newTraceContextHandler(handler)))

	return shutdown, nil
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unsupported log level %q (expected: debug, info, warn, error)", s)
	}
	return level, nil
}

// newStdoutHandler creates a handler for human-readable logs.
func newStdoutHandler(w io.Writer, level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}

	return handler, nil
}

var errUnknownExporter = errors.New("unsupported log exporter")
