package intake

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// keyBounds reads MIN(column) and MAX(column) of the live table in one statement.
// An empty table yields two empty cursors.
func keyBounds(ctx context.Context, exec adapter.DBExecutor, table, column string) (model.Cursor, model.Cursor, error) {
	rows, err := exec.Session(ctx).
		Table(table).
		Select("MIN(?), MAX(?)", clause.Column{Name: column}, clause.Column{Name: column}).
		Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, sql.ErrNoRows
	}
	var lo, hi interface{}
	if err := rows.Scan(&lo, &hi); err != nil {
		return nil, nil, err
	}

	first, err := boundCursor(lo, types[0])
	if err != nil {
		return nil, nil, fmt.Errorf("MIN(%s): %w", column, err)
	}
	last, err := boundCursor(hi, types[1])
	if err != nil {
		return nil, nil, fmt.Errorf("MAX(%s): %w", column, err)
	}
	if first.IsEmpty() || last.IsEmpty() {
		return nil, nil, nil
	}
	return first, last, nil
}

// boundCursor converts a scanned aggregate into a single-column cursor.
func boundCursor(v interface{}, ct *sql.ColumnType) (model.Cursor, error) {
	typeName := ""
	if ct != nil {
		typeName = ct.DatabaseTypeName()
	}
	return model.CursorFromColumn(v, typeName)
}
