// Package logging reports Operation lifecycle events to the application log.
package logging

import (
	"context"
	"strings"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	logger "github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// LoggingListener logs transitions, finished Batches, stop signals and pacing changes.
type LoggingListener struct{}

// NewLoggingListener creates a new LoggingListener.
func NewLoggingListener() *LoggingListener {
	return &LoggingListener{}
}

func (l *LoggingListener) OnOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	switch op.Status {
	case model.OperationFailed:
		logger.Warnf("Operation %s (%s on %s.%s) failed after %s (was %s).",
			op.ID, op.JobType, op.TableName, op.ColumnName, op.NextCursor, from)
	case model.OperationPaused:
		until := "-"
		if op.OnHoldUntil != nil {
			until = op.OnHoldUntil.Format("15:04:05")
		}
		logger.Infof("Operation %s paused until %s.", op.ID, until)
	default:
		logger.Infof("Operation %s (%s on %s.%s): %s -> %s.", op.ID, op.JobType, op.TableName, op.ColumnName, from, op.Status)
	}
}

func (l *LoggingListener) OnBatchFinished(ctx context.Context, op *model.Operation, b *model.Batch) {
	if b.Status == model.BatchFailed {
		logger.Warnf("Batch %s of Operation %s failed on attempt %d [%s, %s]: %s",
			b.ID, op.ID, b.Attempts, b.MinCursor, b.MaxCursor, b.ErrorMessage)
		return
	}
	logger.Debugf("Batch %s of Operation %s %s [%s, %s] in %s.",
		b.ID, op.ID, b.Status, b.MinCursor, b.MaxCursor, b.Duration())
}

func (l *LoggingListener) OnHealthEvaluated(ctx context.Context, op *model.Operation, signals []scheduler.Signal) {
	var stops, unavailable []string
	for _, s := range signals {
		switch {
		case s.Stop:
			stops = append(stops, s.Indicator+": "+s.Reason)
		case s.Unavailable:
			unavailable = append(unavailable, s.Indicator)
		}
	}
	if len(stops) > 0 {
		logger.Warnf("Operation %s: stop signal (%s).", op.ID, strings.Join(stops, "; "))
	}
	if len(unavailable) > 0 {
		logger.Debugf("Operation %s: indicators unavailable: %s.", op.ID, strings.Join(unavailable, ", "))
	}
}

func (l *LoggingListener) OnPacingAdjusted(ctx context.Context, op *model.Operation, previousBatchSize int64) {
	logger.Infof("Operation %s: batch size %d -> %d.", op.ID, previousBatchSize, op.BatchSize)
}

var _ scheduler.OperationListener = (*LoggingListener)(nil)
