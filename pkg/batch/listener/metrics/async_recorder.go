// Package metrics records Operation lifecycle events through the MetricRecorder port.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// DefaultAsyncBufferSize is the event queue size used when none is configured.
const DefaultAsyncBufferSize = 256

type eventType int

const (
	eventTransition eventType = iota
	eventBatchEnd
	eventPacing
	eventHealthSignal
	eventPartitionOpened
	eventPartitionDetached
	eventDuration
)

// metricEvent carries copies of the Operation and Batch so later mutations by the
// scheduler do not leak into queued events.
type metricEvent struct {
	typ        eventType
	op         model.Operation
	batch      model.Batch
	from       model.OperationStatus
	indicator  string
	stop       bool
	connection string
	number     int64
	name       string
	duration   time.Duration
	tags       map[string]string
}

// AsyncMetricRecorder queues events and records them on a worker goroutine, so a slow
// backend never delays a scheduler step. Events are dropped when the queue is full.
type AsyncMetricRecorder struct {
	eventQueue   chan metricEvent
	stopCh       chan struct{}
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
	closeOnce    sync.Once
}

// NewAsyncMetricRecorder starts the worker goroutine.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultAsyncBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan metricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: stopped after draining %d events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(e metricEvent) {
	ctx := context.Background()
	switch e.typ {
	case eventTransition:
		r.syncRecorder.RecordOperationTransition(ctx, &e.op, e.from)
	case eventBatchEnd:
		r.syncRecorder.RecordBatchEnd(ctx, &e.op, &e.batch)
	case eventPacing:
		r.syncRecorder.RecordPacing(ctx, &e.op)
	case eventHealthSignal:
		r.syncRecorder.RecordHealthSignal(ctx, &e.op, e.indicator, e.stop)
	case eventPartitionOpened:
		r.syncRecorder.RecordPartitionOpened(ctx, e.connection, e.number)
	case eventPartitionDetached:
		r.syncRecorder.RecordPartitionDetached(ctx, e.connection, e.number)
	case eventDuration:
		r.syncRecorder.RecordDuration(ctx, e.name, e.duration, e.tags)
	}
}

// Close stops the worker after recording every queued event.
func (r *AsyncMetricRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *AsyncMetricRecorder) send(e metricEvent) {
	select {
	case r.eventQueue <- e:
	default:
		logger.Warnf("AsyncMetricRecorder: event queue is full, dropping event (type: %d).", e.typ)
	}
}

func (r *AsyncMetricRecorder) RecordOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	r.send(metricEvent{typ: eventTransition, op: *op, from: from})
}

func (r *AsyncMetricRecorder) RecordBatchEnd(ctx context.Context, op *model.Operation, b *model.Batch) {
	r.send(metricEvent{typ: eventBatchEnd, op: *op, batch: *b})
}

func (r *AsyncMetricRecorder) RecordPacing(ctx context.Context, op *model.Operation) {
	r.send(metricEvent{typ: eventPacing, op: *op})
}

func (r *AsyncMetricRecorder) RecordHealthSignal(ctx context.Context, op *model.Operation, indicator string, stop bool) {
	r.send(metricEvent{typ: eventHealthSignal, op: *op, indicator: indicator, stop: stop})
}

func (r *AsyncMetricRecorder) RecordPartitionOpened(ctx context.Context, connection string, number int64) {
	r.send(metricEvent{typ: eventPartitionOpened, connection: connection, number: number})
}

func (r *AsyncMetricRecorder) RecordPartitionDetached(ctx context.Context, connection string, number int64) {
	r.send(metricEvent{typ: eventPartitionDetached, connection: connection, number: number})
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.send(metricEvent{typ: eventDuration, name: name, duration: duration, tags: tags})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper wraps the configured recorder for use with fx.Decorate and
// drains it on shutdown.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	asyncRecorder := NewAsyncMetricRecorder(cfg.Backfill.Metrics.AsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	return asyncRecorder
}
