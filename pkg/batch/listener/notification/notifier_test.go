package notification_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/listener/notification"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

type recordingNotifier struct {
	ended []model.OperationStatus
}

func (n *recordingNotifier) NotifyOperationEnded(ctx context.Context, op *model.Operation) {
	n.ended = append(n.ended, op.Status)
}

func TestNotificationListener_OnlyTerminalTransitions(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	l := notification.NewNotificationListener(n)
	op := test.NewTestOperation(1, 1, 100, test.Epoch)

	op.Status = model.OperationActive
	l.OnOperationTransition(ctx, op, model.OperationQueued)
	op.Status = model.OperationPaused
	l.OnOperationTransition(ctx, op, model.OperationActive)
	op.Status = model.OperationFinished
	l.OnOperationTransition(ctx, op, model.OperationPaused)

	assert.Equal(t, []model.OperationStatus{model.OperationFinished}, n.ended)
}

func TestLogNotifier(t *testing.T) {
	op := test.NewTestOperation(1, 1, 100, test.Epoch)
	op.Status = model.OperationFailed
	assert.NotPanics(t, func() { notification.NewLogNotifier().NotifyOperationEnded(context.Background(), op) })
}
