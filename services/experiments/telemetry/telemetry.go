// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the experiments service.
package telemetry

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Metrics holds the engine's Prometheus instrumentation. All methods are
// nil-receiver safe so the engine can run uninstrumented in tests.
type Metrics struct {
	assignments  *prometheus.CounterVec
	results      *prometheus.CounterVec
	analysisTime *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiments",
			Name:      "assignments_total",
			Help:      "Participant assignments by allocation method.",
		}, []string{"method"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiments",
			Name:      "results_total",
			Help:      "Recorded results by outcome and quality flagging.",
		}, []string{"outcome", "flagged"}),
		analysisTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "experiments",
			Name:      "analysis_duration_seconds",
			Help:      "Statistical analysis wall time by test.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"test"}),
	}
	reg.MustRegister(m.assignments, m.results, m.analysisTime)
	return m
}

// ObserveAssignment counts one new participant assignment.
func (m *Metrics) ObserveAssignment(method string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(method).Inc()
}

// ObserveResult counts one recorded result.
func (m *Metrics) ObserveResult(success, flagged bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	flag := "clean"
	if flagged {
		flag = "flagged"
	}
	m.results.WithLabelValues(outcome, flag).Inc()
}

// ObserveAnalysis records one analysis run.
func (m *Metrics) ObserveAnalysis(test string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.analysisTime.WithLabelValues(test).Observe(elapsed.Seconds())
}

// InitTracer configures the global OTLP tracer provider.
//
// Description:
//
//	Connects to the OTLP collector named by OTEL_EXPORTER_OTLP_ENDPOINT
//	(default localhost:4317) and installs a batching tracer provider.
//	The returned function flushes and shuts the provider down; call it
//	during graceful shutdown.
func InitTracer(serviceName string) (func(context.Context), error) {
	ctx := context.Background()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		_ = provider.Shutdown(ctx)
	}, nil
}
