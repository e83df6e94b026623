package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"github.com/rowforge/extractqueue/internal/config"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// Module wires a real TracerProvider when tracing is enabled, registers its
// shutdown on the fx lifecycle, and attaches the Echo middleware that opens
// one span per inbound request.
var Module = fx.Module("tracing",
	fx.Provide(NewTracerProvider),
	fx.Invoke(RegisterTracingLifecycle),
	fx.Invoke(RegisterEchoMiddleware),
)

type tracerProviderResult struct {
	fx.Out
	SDKProvider *sdktrace.TracerProvider `name:"otelSDKProvider" optional:"true"`
}

// NewTracerProvider builds and globally registers the process's
// TracerProvider. When tracing is disabled it registers a no-op provider so
// every tracing.Start call elsewhere in the tree stays inert instead of
// panicking on a nil global.
func NewTracerProvider(cfg *config.Config, log *slog.Logger) (tracerProviderResult, error) {
	tc := cfg.Tracing
	log = log.With(logger.Scope("tracing"))

	if !tc.Enabled {
		log.Info("OTel tracing disabled (TRACING_ENABLED=false)")
		otel.SetTracerProvider(noop.NewTracerProvider())
		return tracerProviderResult{}, nil
	}

	exp, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(tc.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return tracerProviderResult{}, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(tc.ServiceName)),
	)
	if err != nil {
		return tracerProviderResult{}, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(tc.SampleFraction)),
	)
	otel.SetTracerProvider(tp)

	log.Info("OTel tracing enabled",
		slog.String("endpoint", tc.OTLPEndpoint),
		slog.Float64("sample_fraction", tc.SampleFraction))

	return tracerProviderResult{SDKProvider: tp}, nil
}

type sdkProviderParam struct {
	fx.In
	SDKProvider *sdktrace.TracerProvider `name:"otelSDKProvider" optional:"true"`
}

// RegisterTracingLifecycle shuts the SDK provider down on OnStop, flushing
// any batched spans. A no-op provider has nothing registered under the
// named output, so this is skipped when tracing is disabled.
func RegisterTracingLifecycle(lc fx.Lifecycle, p sdkProviderParam, log *slog.Logger) {
	if p.SDKProvider == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down OTel TracerProvider")
			return p.SDKProvider.Shutdown(ctx)
		},
	})
}

// RegisterEchoMiddleware attaches one span per inbound HTTP request,
// skipping the unauthenticated health/liveness routes.
func RegisterEchoMiddleware(e *echo.Echo, cfg *config.Config) {
	if !cfg.Tracing.Enabled {
		return
	}
	e.Use(otelecho.Middleware(
		cfg.Tracing.ServiceName,
		otelecho.WithSkipper(func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/health" || p == "/healthz" || p == "/ready"
		}),
	))
}
