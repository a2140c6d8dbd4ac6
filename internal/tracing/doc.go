// Copyright 2025 Tom Barlow
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

/*
Package tracing provides distributed tracing and observability for the
orchestration control plane.

This package implements OpenTelemetry-based tracing for the orchestrator
loop, runner daemon, and wakeup controller. It also provides Prometheus
metrics collection and correlation ID propagation across the daemon and
CLI processes.

# Overview

The tracing package supports:

  - Distributed tracing via OpenTelemetry
  - Prometheus metrics export
  - Correlation ID propagation across runner/wakeup processes
  - Coder/reviewer invocation span creation

# Quick Start

Create an OTel provider:

	cfg := tracing.Config{
	    Enabled:        true,
	    ServiceName:    "steroids",
	    ServiceVersion: "1.0.0",
	    Sampling: tracing.SamplingConfig{
	        Rate: 0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewOTelProviderWithConfig(cfg)

Get a tracer and create spans:

	tracer := provider.Tracer("orchestrator")

	ctx, span := tracer.Start(ctx, "invoke-coder",
	    trace.WithAttributes(
	        attribute.String("task.id", taskID),
	    ),
	)
	defer span.End()

# Correlation IDs

Correlation IDs link requests across the runner daemon and wakeup controller:

	// In HTTP middleware
	correlationID := tracing.FromContext(ctx)

	// Add to outbound requests
	req.Header.Set("X-Correlation-ID", string(correlationID))

	// Middleware extracts and injects
	handler = tracing.CorrelationMiddleware(handler)

# Metrics Collection

Prometheus metrics are collected:

	// Get metrics collector
	collector := provider.MetricsCollector()

	// Record events
	collector.RecordRunnerStart(project)
	collector.RecordPhaseComplete(ctx, project, "coder", "approved", duration)

Metrics exposed at /metrics:

  - runners_active{}
  - tasks_pending{}
  - credit_incidents_open{}
  - wakeup_duration_seconds{}
  - phase_duration_seconds{project,phase,status}
  - tasks_advanced_total{project,phase,status}

# Configuration

Full configuration options:

	daemon:
	  observability:
	    enabled: true
	    service_name: steroids
	    sampling:
	      type: ratio
	      rate: 0.1
	      always_sample_errors: true
	    exporters:
	      - type: otlp
	        endpoint: localhost:4317
	    redaction:
	      level: standard
	      patterns:
	        - name: api_key
	          regex: "sk-[a-zA-Z0-9]+"
	          replacement: "[REDACTED]"

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper
  - MetricsCollector: Prometheus metrics recording
  - CorrelationID: Request correlation across services
  - Sampler: Configurable trace sampling
  - Exporter: Trace export to backends (OTLP, etc.)

# Subpackages

  - export: console/OTLP/TLS-configured trace exporters
*/
package tracing
