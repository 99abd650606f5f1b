// Package notification announces Operations that reached a terminal status.
package notification

import (
	"context"
	"fmt"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// Notifier delivers the outcome of an Operation.
type Notifier interface {
	NotifyOperationEnded(ctx context.Context, op *model.Operation)
}

// LogNotifier writes the outcome to the application log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyOperationEnded(ctx context.Context, op *model.Operation) {
	duration := "-"
	if op.StartedAt != nil && op.FinishedAt != nil {
		duration = op.FinishedAt.Sub(*op.StartedAt).String()
	}
	message := fmt.Sprintf("Operation %s (%s on %s.%s, requested by %s) ended with status %s. Duration: %s",
		op.ID, op.JobType, op.TableName, op.ColumnName, op.RequestedBy, op.Status, duration)
	if op.Status == model.OperationFinished {
		logger.Infof("%s", message)
	} else {
		logger.Warnf("%s", message)
	}
}

// NotificationListener calls a Notifier when an Operation finishes or fails.
type NotificationListener struct {
	notifier Notifier
}

func NewNotificationListener(notifier Notifier) *NotificationListener {
	return &NotificationListener{notifier: notifier}
}

func (l *NotificationListener) OnOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	if op.Status.IsTerminal() && !from.IsTerminal() {
		l.notifier.NotifyOperationEnded(ctx, op)
	}
}

func (l *NotificationListener) OnBatchFinished(ctx context.Context, op *model.Operation, b *model.Batch) {
}

func (l *NotificationListener) OnHealthEvaluated(ctx context.Context, op *model.Operation, signals []scheduler.Signal) {
}

func (l *NotificationListener) OnPacingAdjusted(ctx context.Context, op *model.Operation, previousBatchSize int64) {
}

var _ scheduler.OperationListener = (*NotificationListener)(nil)
