package tracing

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "github.com/joelkehle/adoption-trajectory"

	defaultSampleRatio = 0.1
)

var (
	initOnce sync.Once
	shutdown = func(context.Context) error { return nil }
)

// Init installs a tracer provider when OTEL_ENABLED is set. The returned
// function flushes and stops it; with tracing off it is a no-op.
func Init(ctx context.Context, serviceName string) func(context.Context) error {
	initOnce.Do(func() {
		if !Enabled() {
			return
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("deployment.environment", os.Getenv("DEPLOY_ENV")),
		))
		if err != nil {
			log.Printf("tracing resource_init_failed err=%v", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(SampleRatio()))),
			sdktrace.WithResource(res),
		}
		if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
			expOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
			if truthy(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")) {
				expOpts = append(expOpts, otlptracehttp.WithInsecure())
			}
			exp, err := otlptracehttp.New(ctx, expOpts...)
			if err != nil {
				log.Printf("tracing exporter_init_failed endpoint=%s err=%v", endpoint, err)
			} else {
				opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
			}
		}

		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdown = tp.Shutdown
		log.Printf("tracing initialized service=%s ratio=%.2f", serviceName, SampleRatio())
	})
	return shutdown
}

// Tracer returns the module tracer from the global provider, which is a
// no-op until Init installs one.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func Enabled() bool {
	return truthy(os.Getenv("OTEL_ENABLED"))
}

// SampleRatio reads OTEL_SAMPLER_RATIO clamped to [0,1].
func SampleRatio() float64 {
	v := strings.TrimSpace(os.Getenv("OTEL_SAMPLER_RATIO"))
	if v == "" {
		return defaultSampleRatio
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultSampleRatio
	}
	return min(max(f, 0), 1)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
