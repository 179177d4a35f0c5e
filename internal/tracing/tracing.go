// Copyright 2026 The Ratchet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing configures the global OpenTelemetry tracer provider.
//
// Tracing is opt-in. When disabled the OpenTelemetry global stays at its
// no-op default, so instrumented code pays nothing. When enabled, spans are
// exported as JSON lines via the stdout exporter.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config controls span export.
type Config struct {
	// Enabled activates the stdout span exporter.
	Enabled bool

	// ServiceName identifies this service in exported spans.
	ServiceName string
}

// Provider owns the tracer provider lifecycle. A disabled Provider is valid
// and all its methods are no-ops.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New creates a Provider and, when enabled, installs it as the global
// OpenTelemetry tracer provider.
func New(cfg Config) (*Provider, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit span destination.
func NewWithWriter(cfg Config, w io.Writer) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	// Empty schema URL avoids conflicts when merging with the default resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	// Set as global tracer provider (for code that uses otel.Tracer)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes any pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
