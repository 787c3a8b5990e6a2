package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/florianilch/notion-clipper"

type logExport struct {
	handler  slog.Handler
	shutdown func(context.Context) error
}

// newLogExport builds an OpenTelemetry log pipeline for the named exporter.
// Endpoints and headers come from the standard OTEL_EXPORTER_OTLP_*
// environment variables. It returns nil when export is disabled.
func newLogExport(ctx context.Context, name string, level slog.Level) (*logExport, error) {
	var (
		exporter sdklog.Exporter
		err      error
	)

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "otlp-http":
		exporter, err = otlploghttp.New(ctx)
	case "otlp-grpc":
		exporter, err = otlploggrpc.New(ctx)
	case "stdout":
		exporter, err = stdoutlog.New()
	default:
		return nil, fmt.Errorf("%w %q (expected: otlp-http, otlp-grpc, stdout, none)", errUnknownExporter, name)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", name, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
	global.SetLoggerProvider(provider)

	return &logExport{
		handler:  otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)),
		shutdown: provider.Shutdown,
	}, nil
}

func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}
