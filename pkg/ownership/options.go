// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithTracer sets the OpenTelemetry tracer used for resolution spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) {
		r.tracer = t
	}
}

// WithFetchLimiter bounds the rate of live object reads issued while walking
// owner chains. A nil limiter disables rate limiting.
func WithFetchLimiter(l *rate.Limiter) Option {
	return func(r *Resolver) {
		r.limiter = l
	}
}
