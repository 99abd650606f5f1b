package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// Maintenance opens and detaches partitions on a cron schedule.
type Maintenance struct {
	managers ManagerSource
	tracer   metrics.Tracer
	recorder metrics.MetricRecorder
	schedule string
	cron     *cron.Cron
}

// NewMaintenance creates a Maintenance loop. schedule is a standard cron spec or a
// descriptor such as "@every 5m".
func NewMaintenance(managers ManagerSource, schedule string, tracer metrics.Tracer, recorder metrics.MetricRecorder) (*Maintenance, error) {
	const opName = "daemon.NewMaintenance"
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("invalid maintenance schedule '%s'", schedule), err, false)
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Maintenance{
		managers: managers,
		tracer:   tracer,
		recorder: recorder,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

// RunOnce maintains every connection. A failing connection does not stop the others.
func (m *Maintenance) RunOnce(ctx context.Context) error {
	var result *multierror.Error
	for _, name := range m.managers.Names() {
		if err := m.maintain(ctx, name); err != nil {
			result = multierror.Append(result, fmt.Errorf("connection '%s': %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func (m *Maintenance) maintain(ctx context.Context, name string) error {
	ctx, end := m.tracer.StartMaintenanceSpan(ctx, name)
	defer end()

	start := time.Now()
	mgr, err := m.managers.Manager(name)
	if err == nil {
		err = mgr.Maintain(ctx)
	}
	m.recorder.RecordDuration(ctx, "partition_maintenance", time.Since(start), map[string]string{"connection": name})
	if err != nil {
		m.tracer.RecordError(ctx, module, err)
	}
	return err
}

// Start schedules RunOnce. Runs that are still going when the next one is due are skipped.
func (m *Maintenance) Start(ctx context.Context) error {
	const opName = "Maintenance.Start"
	_, err := m.cron.AddFunc(m.schedule, func() {
		if err := m.RunOnce(ctx); err != nil {
			logger.Errorf("Partition maintenance failed: %v", err)
		}
	})
	if err != nil {
		return exception.NewBackfillError(opName, "failed to schedule partition maintenance", err, false)
	}
	m.cron.Start()
	logger.Infof("Partition maintenance scheduled (%s).", m.schedule)
	return nil
}

// Stop stops the schedule and waits for a running maintenance pass, or for ctx.
func (m *Maintenance) Stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
