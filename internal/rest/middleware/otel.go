// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	otelint "github.com/pbinitiative/zenflow/internal/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Opentelemetry returns middleware that will trace and meter incoming requests.
// Spans are named after the matched chi route pattern.
func Opentelemetry(serviceName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(otelint.RequestMetrics(next), serviceName,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						return r.Method + " " + pattern
					}
				}
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
