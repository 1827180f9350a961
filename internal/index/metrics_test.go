package index

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/lang/domainmodel"
)

var (
	spanRecorder  = tracetest.NewSpanRecorder()
	metricsReader = sdkmetric.NewManualReader()
)

func TestMain(m *testing.M) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricsReader))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	code := m.Run()
	_ = tp.Shutdown(context.Background())
	_ = mp.Shutdown(context.Background())
	os.Exit(code)
}

func collectMetricNames(t *testing.T) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, metricsReader.Collect(context.Background(), &rm))
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != "trellis.index" {
			continue
		}
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestTelemetry_OperationsRecorded(t *testing.T) {
	ti := newTestIndex(t)
	ti.load(t, "file:///metrics-a.dmodel", "entity Foo {}")
	b := ti.load(t, "file:///metrics-b.dmodel", "entity Bar extends Foo {}")
	ti.link(t, b)
	ti.AllSymbols("Entity")

	spans := map[string]bool{}
	for _, s := range spanRecorder.Ended() {
		spans[s.Name()] = true
	}
	assert.True(t, spans["Index.UpdateContent"])
	assert.True(t, spans["Index.UpdateReferences"])

	names := collectMetricNames(t)
	assert.True(t, names["index_operation_duration_seconds"])
	assert.True(t, names["index_operation_total"])
	assert.True(t, names["index_symbols"])
	assert.True(t, names["index_symbol_cache_misses_total"])
}

func TestTelemetry_FailedExportRecordsError(t *testing.T) {
	const uri = "file:///metrics-failing.dmodel"
	m := NewManager(domainmodel.Reflection, failingExporter{})
	doc := document.NewFromText(uri, domainmodel.LanguageID, "entity Foo {}")
	_, err := m.UpdateContent(context.Background(), doc)
	require.Error(t, err)

	var found bool
	for _, s := range spanRecorder.Ended() {
		if s.Name() != "Index.UpdateContent" {
			continue
		}
		var forDoc bool
		for _, a := range s.Attributes() {
			if a.Key == attribute.Key("index.uri") && a.Value.AsString() == uri {
				forDoc = true
			}
		}
		if !forDoc {
			continue
		}
		found = true
		assert.Equal(t, codes.Error, s.Status().Code)
		require.NotEmpty(t, s.Events())
		assert.Equal(t, "exception", s.Events()[0].Name)
	}
	assert.True(t, found, "span for the failed export")
}
