// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbinitiative/zenflow/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const attributeStorageDriver = "zenflow.storage.driver"

// engineResource describes one engine node. Traces and metrics of the node share it.
func engineResource(ctx context.Context, conf config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(conf.Tracing.Name),
			semconv.ServiceInstanceID(conf.Name),
			attribute.String(attributeStorageDriver, conf.Storage.Driver),
			attribute.String("library.language", "go"),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to describe engine %s: %w", conf.Name, err)
	}
	return res, nil
}

// exporterOptions turns the configured endpoint into OTLP client options.
// An endpoint without the https scheme is exported to without TLS.
func exporterOptions(endpoint string) []otlptracehttp.Option {
	if host, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
	}
	return []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(strings.TrimPrefix(endpoint, "http://")),
		otlptracehttp.WithInsecure(),
	}
}

func sampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}

func newTracerProvider(ctx context.Context, conf config.Tracing, res *resource.Resource) (*trace.TracerProvider, error) {
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(exporterOptions(conf.Endpoint)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter for %s: %w", conf.Endpoint, err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(conf.SampleRatio)),
	), nil
}
