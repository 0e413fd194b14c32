// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenflow/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	metrics "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	RequestTotal    metrics.Int64Counter
	RequestDuration metrics.Float64Histogram

	requestMeter string = "request-meter"
)

type Otel struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *trace.TracerProvider
}

// SetupOtel installs the global meter provider backed by the prometheus exporter
// and, when tracing is enabled, an OTLP tracer provider.
func SetupOtel(ctx context.Context, conf config.Config) (*Otel, error) {
	res, err := engineResource(ctx, conf)
	if err != nil {
		return nil, err
	}

	o := Otel{}
	o.meterProvider, err = newMeterProvider(res)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(o.meterProvider)
	if err := setupRequestInstruments(); err != nil {
		return nil, err
	}
	if conf.Tracing.Enabled {
		o.tracerProvider, err = newTracerProvider(ctx, conf.Tracing, res)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracer: %w", err)
		}
		otel.SetTracerProvider(o.tracerProvider)
	}

	return &o, nil
}

// Stop flushes pending spans and shuts both providers down.
func (o *Otel) Stop(ctx context.Context) error {
	var errJoin error
	if o.tracerProvider != nil {
		errJoin = errors.Join(errJoin, o.tracerProvider.ForceFlush(ctx), o.tracerProvider.Shutdown(ctx))
		o.tracerProvider = nil
	}
	if o.meterProvider != nil {
		errJoin = errors.Join(errJoin, o.meterProvider.Shutdown(ctx))
		o.meterProvider = nil
	}
	return errJoin
}

func newMeterProvider(res *resource.Resource) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to set up prometheus exporter: %w", err)
	}
	return metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	), nil
}

func setupRequestInstruments() error {
	var errJoin error
	var err error
	RequestTotal, err = otel.Meter(requestMeter).Int64Counter("request_total", metrics.WithDescription("Total requests to the server"))
	errJoin = errors.Join(errJoin, err)
	RequestDuration, err = otel.Meter(requestMeter).Float64Histogram("request_duration", metrics.WithUnit("ms"), metrics.WithDescription("Time the server took to handle the request, milliseconds"))
	errJoin = errors.Join(errJoin, err)
	if errJoin != nil {
		return fmt.Errorf("failed to create otel instruments: %w", errJoin)
	}
	return nil
}
