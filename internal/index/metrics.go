package index

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jward/trellis/internal/cancel"
)

var (
	tracer = otel.Tracer("trellis.index")
	meter  = otel.Meter("trellis.index")
)

var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	symbolCount      metric.Int64Gauge
	cacheMisses      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call repeatedly.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"index_operation_duration_seconds",
			metric.WithDescription("Duration of index operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"index_operation_total",
			metric.WithDescription("Total number of index operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		symbolCount, err = meter.Int64Gauge(
			"index_symbols",
			metric.WithDescription("Exported symbols currently indexed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"index_symbol_cache_misses_total",
			metric.WithDescription("All-symbols cache misses"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func startOperationSpan(ctx context.Context, operation, uri string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Index."+operation,
		trace.WithAttributes(
			attribute.String("index.operation", operation),
			attribute.String("index.uri", uri),
		),
	)
}

// finishOperation ends span and records latency for one index operation.
func finishOperation(ctx context.Context, span trace.Span, operation string, start time.Time, count int, err error) {
	span.SetAttributes(attribute.Int("index.result_count", count))
	if err != nil {
		span.RecordError(err)
		if !cancel.IsCancelled(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
	)
	operationLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)
}

func recordSymbolCount(ctx context.Context, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	symbolCount.Record(ctx, int64(n))
}

func recordCacheMiss(ctx context.Context, filter string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("filter", filter)))
}
