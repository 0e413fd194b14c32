// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	metrics "go.opentelemetry.io/otel/metric"
)

// RequestMetrics records request count and duration per method and status.
// It is a no-op until SetupOtel created the instruments.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestTotal == nil || RequestDuration == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := metrics.WithAttributes(
			attribute.String("method", r.Method),
			attribute.Int("status", ww.Status()),
		)
		RequestTotal.Add(r.Context(), 1, attrs)
		RequestDuration.Record(r.Context(), float64(time.Since(start).Milliseconds()), attrs)
	})
}
