// Package metrics provides the Prometheus and OpenTelemetry backends of the scheduler's
// MetricRecorder and Tracer ports.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/backfill/pkg/batch/core/metrics"
	logger "github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Operation metrics
	transitions  *prometheus.CounterVec
	batchSize    *prometheus.GaugeVec
	subBatchSize *prometheus.GaugeVec
	pauseMS      *prometheus.GaugeVec

	// Batch metrics
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec

	healthSignals *prometheus.CounterVec

	// Partition metrics
	activePartition    *prometheus.GaugeVec
	partitionsOpened   *prometheus.CounterVec
	partitionsDetached *prometheus.CounterVec

	durations *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opLabels := []string{"connection", "table_name", "job_type"}
	r := &PrometheusRecorder{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_operation_transitions_total",
			Help: "Total Operation status transitions.",
		}, []string{"connection", "job_type", "from", "to"}),
		batchSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backfill_operation_batch_size",
			Help: "Current batch size of an Operation.",
		}, opLabels),
		subBatchSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backfill_operation_sub_batch_size",
			Help: "Current sub-batch size of an Operation.",
		}, opLabels),
		pauseMS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backfill_operation_pause_ms",
			Help: "Current pause between sub-batches of an Operation.",
		}, opLabels),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_batches_total",
			Help: "Total finished Batches by status.",
		}, []string{"connection", "job_type", "status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backfill_batch_duration_seconds",
			Help:    "Duration of Batch executions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"connection", "job_type", "status"}),
		healthSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_health_signals_total",
			Help: "Total health indicator readings by outcome.",
		}, []string{"connection", "indicator", "stop"}),
		activePartition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backfill_active_partition",
			Help: "Number of the active partition.",
		}, []string{"connection"}),
		partitionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_partitions_opened_total",
			Help: "Total partitions opened.",
		}, []string{"connection"}),
		partitionsDetached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_partitions_detached_total",
			Help: "Total partitions archived and dropped.",
		}, []string{"connection"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backfill_section_duration_seconds",
			Help:    "Duration of named scheduler sections.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(
		r.transitions, r.batchSize, r.subBatchSize, r.pauseMS,
		r.batches, r.batchDuration, r.healthSignals,
		r.activePartition, r.partitionsOpened, r.partitionsDetached,
		r.durations,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	r.transitions.WithLabelValues(op.Connection, op.JobType, string(from), string(op.Status)).Inc()
}

func (r *PrometheusRecorder) RecordBatchEnd(ctx context.Context, op *model.Operation, b *model.Batch) {
	status := string(b.Status)
	r.batches.WithLabelValues(op.Connection, op.JobType, status).Inc()
	if b.StartedAt != nil && b.FinishedAt != nil {
		r.batchDuration.WithLabelValues(op.Connection, op.JobType, status).Observe(b.Duration().Seconds())
	}
}

func (r *PrometheusRecorder) RecordPacing(ctx context.Context, op *model.Operation) {
	r.batchSize.WithLabelValues(op.Connection, op.TableName, op.JobType).Set(float64(op.BatchSize))
	r.subBatchSize.WithLabelValues(op.Connection, op.TableName, op.JobType).Set(float64(op.SubBatchSize))
	r.pauseMS.WithLabelValues(op.Connection, op.TableName, op.JobType).Set(float64(op.PauseMS))
}

func (r *PrometheusRecorder) RecordHealthSignal(ctx context.Context, op *model.Operation, indicator string, stop bool) {
	r.healthSignals.WithLabelValues(op.Connection, indicator, strconv.FormatBool(stop)).Inc()
}

func (r *PrometheusRecorder) RecordPartitionOpened(ctx context.Context, connection string, number int64) {
	r.partitionsOpened.WithLabelValues(connection).Inc()
	r.activePartition.WithLabelValues(connection).Set(float64(number))
	logger.Debugf("Metrics: partition %d opened on '%s'.", number, connection)
}

func (r *PrometheusRecorder) RecordPartitionDetached(ctx context.Context, connection string, number int64) {
	r.partitionsDetached.WithLabelValues(connection).Inc()
}

func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durations.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
