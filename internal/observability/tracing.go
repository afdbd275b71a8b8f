// Package observability wires OpenTelemetry trace export into Genkit.
//
// Genkit instruments every model call and flow with spans on its own
// TracerProvider. This package attaches an OTLP/HTTP exporter to that
// provider so the spans reach a local collector or agent.
//
// Verify the collector endpoint:
//
//	curl -v http://localhost:4318/v1/traces
//
// Tracing is off by default. Enable it in the config file:
//
//	tracing:
//	  enabled: true
//	  endpoint: "localhost:4318"
//	  environment: "dev"
//	  service_name: "quill"
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/log"
)

// DefaultEndpoint is the default OTLP/HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Setup registers an OTLP/HTTP exporter with Genkit's TracerProvider.
//
// Returns a shutdown function that flushes pending spans. When tracing is
// disabled, or the exporter cannot be created, the returned shutdown is a
// no-op and the error is nil: the service runs fine without trace export.
func Setup(ctx context.Context, cfg config.TracingConfig, logger log.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads service metadata from the standard
	// OTEL environment variables at span creation time.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// The collector handles authentication and forwarding, so the
	// exporter only needs plain HTTP to localhost.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
