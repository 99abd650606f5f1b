package strategy

import (
	"context"
	"math"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// IntegerRangeName is the registry name of IntegerRangeStrategy.
const IntegerRangeName = "integer-range"

// IntegerRangeStrategy splits an integer key space arithmetically into [from, from+size-1]
// without reading the table. Gaps in the keys make Batches cover fewer rows.
type IntegerRangeStrategy struct{}

// NewIntegerRangeStrategy creates an IntegerRangeStrategy.
func NewIntegerRangeStrategy() *IntegerRangeStrategy {
	return &IntegerRangeStrategy{}
}

func (s *IntegerRangeStrategy) NextBatch(ctx context.Context, req scheduler.BatchRequest) (*model.CursorRange, error) {
	const opName = "IntegerRangeStrategy.NextBatch"
	if req.From.IsEmpty() {
		return nil, nil
	}
	from, ok := req.From.Int64At(0)
	if !ok || len(req.From) != 1 {
		return nil, exception.NewBackfillErrorf(opName, "cursor %s of %s.%s is not a single integer", req.From, req.TableName, req.ColumnName)
	}
	if !req.Max.IsEmpty() {
		if last, ok := req.Max.Int64At(0); ok && from > last {
			return nil, nil
		}
	}
	size := req.BatchSize
	if size < 1 {
		size = 1
	}
	to := int64(math.MaxInt64)
	if from <= math.MaxInt64-(size-1) {
		to = from + size - 1
	}
	return &model.CursorRange{Min: model.IntCursor(from), Max: model.IntCursor(to)}, nil
}

var _ scheduler.BatchingStrategy = (*IntegerRangeStrategy)(nil)
