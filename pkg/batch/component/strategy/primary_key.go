// Package strategy provides the batching strategies Operations select by name.
package strategy

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// PrimaryKeyName is the registry name of PrimaryKeyStrategy.
const PrimaryKeyName = model.DefaultBatchingStrategy

// PrimaryKeyStrategy walks the live table in key order so every Batch covers BatchSize
// existing rows regardless of gaps in the key space.
type PrimaryKeyStrategy struct {
	resolver adapter.DBConnectionResolver
}

// NewPrimaryKeyStrategy creates a PrimaryKeyStrategy reading through resolver.
func NewPrimaryKeyStrategy(resolver adapter.DBConnectionResolver) *PrimaryKeyStrategy {
	return &PrimaryKeyStrategy{resolver: resolver}
}

// NextBatch returns [first key >= From, key BatchSize-1 rows further]. When fewer rows are
// left the range extends to Max.
func (s *PrimaryKeyStrategy) NextBatch(ctx context.Context, req scheduler.BatchRequest) (*model.CursorRange, error) {
	const opName = "PrimaryKeyStrategy.NextBatch"
	if req.From.IsEmpty() {
		return nil, nil
	}
	conn, err := s.resolver.ResolveDBConnection(ctx, req.Connection)
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to resolve connection '%s'", req.Connection), err, true)
	}
	db := tx.ExecutorFrom(ctx, conn).Session(ctx)

	lo, err := keyAt(db, req, req.From, 0)
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to read first key of %s", req.TableName), err, true)
	}
	if lo.IsEmpty() {
		return nil, nil
	}

	size := req.BatchSize
	if size < 1 {
		size = 1
	}
	hi, err := keyAt(db, req, lo, size-1)
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to read last key of %s", req.TableName), err, true)
	}
	if hi.IsEmpty() {
		hi = req.Max
	}
	if hi.IsEmpty() {
		hi = lo
	}
	return &model.CursorRange{Min: lo, Max: hi}, nil
}

// keyAt returns the key offset rows after the first key >= from, bounded by req.Max.
func keyAt(db *gorm.DB, req scheduler.BatchRequest, from model.Cursor, offset int64) (model.Cursor, error) {
	col := clause.Column{Name: req.ColumnName}
	q := db.Table(req.TableName).
		Select("?", col).
		Where("? >= ?", col, from[0])
	if !req.Max.IsEmpty() {
		q = q.Where("? <= ?", col, req.Max[0])
	}
	rows, err := q.Order(clause.OrderByColumn{Column: col}).
		Limit(1).
		Offset(int(offset)).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	var v interface{}
	if err := rows.Scan(&v); err != nil {
		return nil, err
	}
	return model.CursorFromColumn(v, types[0].DatabaseTypeName())
}

var _ scheduler.BatchingStrategy = (*PrimaryKeyStrategy)(nil)
