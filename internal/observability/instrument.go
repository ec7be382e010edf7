// Package observability wires the process-wide slog logger, optionally
// exporting records through the OpenTelemetry log pipeline, and enriches
// records with trace correlation attributes.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/awenger/anthropic-oauth-proxy"

// Instrument installs the process-wide default logger. Stderr always
// receives text or json records; when OTEL_EXPORTER_OTLP_ENDPOINT is set,
// records are additionally exported via OTLP (protocol selected by
// OTEL_EXPORTER_OTLP_PROTOCOL: http, grpc, or stdout for debugging).
//
// The returned shutdown function flushes any export pipeline.
func Instrument(ctx context.Context, level slog.Level, logFormat string) (func(context.Context) error, error) {
	stderr, err := newStderrHandler(level, logFormat)
	if err != nil {
		return nil, err
	}

	handler := stderr
	shutdown := func(context.Context) error { return nil }

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		provider, err := newLoggerProvider(ctx, level)
		if err != nil {
			return nil, fmt.Errorf("setting up OTLP log export: %w", err)
		}
		handler = newFanoutHandler(
			stderr,
			otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)),
		)
		shutdown = provider.Shutdown
	}

	slog.SetDefault(slog.New(newTraceContextHandler(handler)))
	return shutdown, nil
}

// newStderrHandler creates a handler for human-readable logs.
func newStderrHandler(level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(logFormat) {
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts), nil
	case "text":
		return slog.NewTextHandler(os.Stderr, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}
}

// newLoggerProvider builds the OTLP export pipeline with a severity filter
// matching the configured level.
func newLoggerProvider(ctx context.Context, level slog.Level) (*sdklog.LoggerProvider, error) {
	var (
		exporter sdklog.Exporter
		err      error
	)
	switch strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")) {
	case "grpc":
		exporter, err = otlploggrpc.New(ctx)
	case "stdout":
		exporter, err = stdoutlog.New()
	default:
		exporter, err = otlploghttp.New(ctx)
	}
	if err != nil {
		return nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), toMinsevSeverity(level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

// toMinsevSeverity maps slog levels onto the OTel severity scale.
func toMinsevSeverity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanoutHandler duplicates records to multiple handlers.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{handlers: handlers}
}

// Enabled reports whether any downstream handler accepts the level.
func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every enabled handler, returning the first
// failure.
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs returns a new fanout over the derived handlers.
func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		derived[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: derived}
}

// WithGroup returns a new fanout over the derived handlers.
func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		derived[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: derived}
}
