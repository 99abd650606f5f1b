package metrics

import (
	"context"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// Tracer opens spans around scheduler work.
// Every Start method returns the derived context and the function that ends the span.
type Tracer interface {
	// StartTickSpan starts a span for one RunStep of op.
	StartTickSpan(ctx context.Context, op *model.Operation) (context.Context, func())

	// StartBatchSpan starts a span for the execution of b.
	StartBatchSpan(ctx context.Context, op *model.Operation, b *model.Batch) (context.Context, func())

	// StartMaintenanceSpan starts a span for one partition maintenance pass of a connection.
	StartMaintenanceSpan(ctx context.Context, connection string) (context.Context, func())

	// RecordError records err on the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent adds an event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
