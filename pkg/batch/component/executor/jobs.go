package executor

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// Built-in job types.
const (
	// CopyColumnJob copies Arguments[0] into Arguments[1] for every row of the range.
	CopyColumnJob = "copy_column"
	// FillNullJob sets Arguments[0] to Arguments[1] where it is NULL.
	FillNullJob = "fill_null"
)

func stringArg(op *model.Operation, i int) (string, error) {
	if i >= len(op.Arguments) {
		return "", fmt.Errorf("%s requires argument %d", op.JobType, i)
	}
	s, ok := op.Arguments[i].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s argument %d must be a column name, got %v", op.JobType, i, op.Arguments[i])
	}
	return s, nil
}

// inRange scopes a statement to the keys of sub.
func inRange(db *gorm.DB, op *model.Operation, sub model.CursorRange) *gorm.DB {
	key := clause.Column{Name: op.ColumnName}
	return db.Table(op.TableName).
		Where("? >= ?", key, sub.Min[0]).
		Where("? <= ?", key, sub.Max[0])
}

// CopyColumn implements CopyColumnJob.
func CopyColumn(ctx context.Context, exec adapter.DBExecutor, op *model.Operation, sub model.CursorRange) error {
	src, err := stringArg(op, 0)
	if err != nil {
		return err
	}
	dst, err := stringArg(op, 1)
	if err != nil {
		return err
	}
	return inRange(exec.Session(ctx), op, sub).
		Update(dst, gorm.Expr("?", clause.Column{Name: src})).Error
}

// FillNull implements FillNullJob.
func FillNull(ctx context.Context, exec adapter.DBExecutor, op *model.Operation, sub model.CursorRange) error {
	column, err := stringArg(op, 0)
	if err != nil {
		return err
	}
	if len(op.Arguments) < 2 {
		return fmt.Errorf("%s requires a fill value", op.JobType)
	}
	return inRange(exec.Session(ctx), op, sub).
		Where("? IS NULL", clause.Column{Name: column}).
		Update(column, op.Arguments[1]).Error
}
