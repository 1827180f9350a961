package build

import (
	"context"
	"sync"
	"time"

	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("trellis.build")
	meter  = otel.Meter("trellis.build")
)

var (
	phaseLatency   metric.Float64Histogram
	phaseDocuments metric.Int64Counter
	cancellations  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		phaseLatency, err = meter.Float64Histogram(
			"build_phase_duration_seconds",
			metric.WithDescription("Duration of one build phase across a batch"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		phaseDocuments, err = meter.Int64Counter(
			"build_phase_documents_total",
			metric.WithDescription("Documents that reached a build phase"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cancellations, err = meter.Int64Counter(
			"build_cancellations_total",
			metric.WithDescription("Builds abandoned because of cancellation"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func startPhaseSpan(ctx context.Context, phase document.State, pending int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Builder."+phase.String(),
		trace.WithAttributes(
			attribute.String("build.phase", phase.String()),
			attribute.Int("build.pending", pending),
		),
	)
}

// finishPhase ends span and records how many documents reached phase.
func finishPhase(ctx context.Context, span trace.Span, phase document.State, start time.Time, reached int, err error) {
	span.SetAttributes(attribute.Int("build.reached", reached))
	if err != nil {
		span.RecordError(err)
		if !cancel.IsCancelled(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("phase", phase.String()))
	phaseLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	phaseDocuments.Add(ctx, int64(reached), attrs)
}

func recordCancellation(ctx context.Context, operation string) {
	if initMetrics() != nil {
		return
	}
	cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
