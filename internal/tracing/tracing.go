// Пакет tracing — инициализация OpenTelemetry.
// При пустом endpoint трейсинг отключён: глобальный провайдер остаётся no-op.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Init настраивает глобальный TracerProvider с OTLP/HTTP экспортёром.
// Возвращает функцию остановки, сбрасывающую накопленные спаны.
func Init(ctx context.Context, serviceName, version, endpoint string, insecure bool, logger *slog.Logger) (func(context.Context) error, error) {
	// Propagator нужен и без экспортёра: traceparent пробрасывается в Airtable и Identity Toolkit
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if endpoint == "" {
		logger.Info("Трейсинг отключён (FP_OTEL_ENDPOINT не задан)")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание OTLP-экспортёра: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("создание resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("Трейсинг OpenTelemetry инициализирован",
		slog.String("endpoint", endpoint),
		slog.Bool("insecure", insecure),
	)
	return tp.Shutdown, nil
}
