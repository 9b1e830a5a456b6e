// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package telemetry traces phase runs with OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"gateflow/pkg/types"
)

// TracerName is the instrumentation scope of engine spans.
const TracerName = "gateflow/coordinator"

// Span attribute keys.
const (
	AttrInstanceID = attribute.Key("gateflow.instance_id")
	AttrPhase      = attribute.Key("gateflow.phase")
	AttrFromPhase  = attribute.Key("gateflow.from_phase")
	AttrTriggers   = attribute.Key("gateflow.triggers")
	AttrRoles      = attribute.Key("gateflow.roles")
	AttrGate       = attribute.Key("gateflow.gate")
	AttrFailing    = attribute.Key("gateflow.failing_tests")
	AttrErrorKind  = attribute.Key("gateflow.error_kind")
	AttrDurationMs = attribute.Key("gateflow.work_ms")
)

// TracerProvider owns the SDK provider installed by Setup.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// Setup installs an OTLP/HTTP tracer provider when enabled. When disabled
// it returns a provider whose Shutdown does nothing, and spans stay no-ops.
func Setup(ctx context.Context, enabled bool, collectorURL string, samplingRate float64) (*TracerProvider, error) {
	if !enabled {
		return &TracerProvider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("gateflow")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// collectorURL is host:port without a scheme.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(collectorURL),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return tp.provider.Shutdown(shutdownCtx)
}

// PhaseSpan records the steps of one phase run.
type PhaseSpan struct {
	span trace.Span
}

// StartPhase opens the span of a run moving instanceID from one phase to
// another.
func StartPhase(ctx context.Context, instanceID string, from, to types.Phase, triggers []string) (context.Context, *PhaseSpan) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "phase.run",
		trace.WithAttributes(
			AttrInstanceID.String(instanceID),
			AttrFromPhase.String(string(from)),
			AttrPhase.String(string(to)),
			AttrTriggers.StringSlice(triggers),
		))
	return ctx, &PhaseSpan{span: span}
}

// Blocked notes a refusal by an entry gate.
func (s *PhaseSpan) Blocked(gate string, failing int) {
	s.span.AddEvent("gate.blocked", trace.WithAttributes(
		AttrGate.String(gate),
		AttrFailing.Int(failing),
	))
}

// Activated records the roles running the phase.
func (s *PhaseSpan) Activated(roles []types.AgentRole) {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	s.span.SetAttributes(AttrRoles.String(strings.Join(names, ",")))
}

// Failed marks the run as failed with the error's kind.
func (s *PhaseSpan) Failed(kind string, err error) {
	s.span.RecordError(err, trace.WithAttributes(AttrErrorKind.String(kind)))
	s.span.SetStatus(codes.Error, kind)
}

// Succeeded marks the run as done.
func (s *PhaseSpan) Succeeded(work time.Duration, failing int) {
	s.span.SetAttributes(
		AttrDurationMs.Int64(work.Milliseconds()),
		AttrFailing.Int(failing),
	)
	s.span.SetStatus(codes.Ok, "")
}

// SaveFailed records a snapshot write error after a successful run.
func (s *PhaseSpan) SaveFailed(err error) {
	s.span.AddEvent("snapshot.save_failed", trace.WithAttributes(
		attribute.String("error", err.Error()),
	))
}

// End closes the span.
func (s *PhaseSpan) End() {
	s.span.End()
}
