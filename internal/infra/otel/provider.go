// Package otel 初始化 OpenTelemetry tracing，默认关闭。
package otel

import (
	"context"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config 描述 tracing 导出配置。
type Config struct {
	ServiceName string
	// Endpoint 为空时不启用 tracing。
	Endpoint string
	Disabled bool
	// SampleRatio 取值 (0,1]，其他值按全采样处理。
	SampleRatio float64
}

// ConfigFromEnv 读取 WALLETBRIDGE_OTEL_ENDPOINT / _ENABLED / _SAMPLE_RATIO。
func ConfigFromEnv(serviceName string) Config {
	cfg := Config{
		ServiceName: serviceName,
		Endpoint:    os.Getenv("WALLETBRIDGE_OTEL_ENDPOINT"),
		Disabled:    strings.EqualFold(os.Getenv("WALLETBRIDGE_OTEL_ENABLED"), "false"),
	}
	if v, err := strconv.ParseFloat(os.Getenv("WALLETBRIDGE_OTEL_SAMPLE_RATIO"), 64); err == nil {
		cfg.SampleRatio = v
	}
	return cfg
}

// Setup 按配置注册全局 TracerProvider，返回的 shutdown 负责刷新未导出的 span。
// 未启用时返回空操作的 shutdown。
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if cfg.Disabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return noop, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}
