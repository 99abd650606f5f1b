package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

func finishedBatch(op *model.Operation, cause error) *model.Batch {
	b := model.NewBatch(op, model.IntCursor(1), model.IntCursor(100), test.Epoch)
	_ = b.MarkRunning(test.Epoch)
	if cause != nil {
		_ = b.MarkFailed(test.Epoch.Add(3*time.Second), cause)
	} else {
		_ = b.MarkSucceeded(test.Epoch.Add(3 * time.Second))
	}
	return b
}

func TestPrometheusRecorder(t *testing.T) {
	ctx := context.Background()
	r := metrics.NewPrometheusRecorder()
	op := test.NewTestOperation(1, 1, 1000, test.Epoch)

	op.Status = model.OperationActive
	r.RecordOperationTransition(ctx, op, model.OperationQueued)
	r.RecordBatchEnd(ctx, op, finishedBatch(op, nil))
	r.RecordBatchEnd(ctx, op, finishedBatch(op, nil))
	r.RecordBatchEnd(ctx, op, finishedBatch(op, errors.New("boom")))
	op.BatchSize = 250
	r.RecordPacing(ctx, op)
	r.RecordHealthSignal(ctx, op, "autovacuum", true)
	r.RecordPartitionOpened(ctx, "main", 4)
	r.RecordPartitionDetached(ctx, "main", 2)

	reg := r.GetRegistry()
	n, err := testutil.GatherAndCount(reg, "backfill_operation_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testutil.GatherAndCount(reg, "backfill_batches_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per status")

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["backfill_batches_total"])
	assert.Equal(t, 250.0, values["backfill_operation_batch_size"])
	assert.Equal(t, 4.0, values["backfill_active_partition"])
	assert.Equal(t, 1.0, values["backfill_partitions_detached_total"])
	assert.Equal(t, 1.0, values["backfill_health_signals_total"])
}

func TestOpenTelemetryRecorder(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r, err := metrics.NewOpenTelemetryRecorder(mp)
	require.NoError(t, err)
	op := test.NewTestOperation(1, 1, 1000, test.Epoch)
	r.RecordBatchEnd(ctx, op, finishedBatch(op, nil))
	r.RecordPacing(ctx, op)
	r.RecordPartitionOpened(ctx, "main", 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{"backfill.batches", "backfill.batch.duration", "backfill.operation.batch_size", "backfill.partition.active"} {
		assert.True(t, names[want], want)
	}
}

func TestOpenTelemetryTracer(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := metrics.NewOpenTelemetryTracer(tp)

	op := test.NewTestOperation(1, 1, 1000, test.Epoch)
	tickCtx, endTick := tracer.StartTickSpan(ctx, op)
	b := finishedBatch(op, errors.New("lock timeout"))
	batchCtx, endBatch := tracer.StartBatchSpan(tickCtx, op, b)
	tracer.RecordEvent(batchCtx, "sub_batch", map[string]interface{}{"min": int64(1), "ok": true})
	endBatch()
	tracer.RecordError(tickCtx, "scheduler", errors.New("boom"))
	endTick()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "backfill.batch", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "backfill.tick", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestNewTelemetry_Disabled(t *testing.T) {
	tel, err := metrics.NewTelemetry(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.False(t, tel.Enabled)
	assert.NoError(t, tel.Shutdown(context.Background()))

	_, err = metrics.NewTelemetry(context.Background(), config.TelemetryConfig{Enabled: true, Protocol: "udp"})
	assert.ErrorContains(t, err, "unsupported telemetry protocol")
}

func TestHandler_ServesRecordedMetrics(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	op := test.NewTestOperation(1, 1, 1000, test.Epoch)
	r.RecordBatchEnd(context.Background(), op, finishedBatch(op, nil))

	srv := httptest.NewServer(metrics.NewHandler(r))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "backfill_batches_total")
	assert.Contains(t, string(body), "go_goroutines")
}
