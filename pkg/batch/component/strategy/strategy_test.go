package strategy_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/component/strategy"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

func seededConnection(t *testing.T, keys ...int64) (*gormadapter.GormDBAdapter, *test.MockDBConnectionResolver) {
	t.Helper()
	conn := test.OpenSQLite(t, "main")
	db := conn.Session(context.Background())
	require.NoError(t, db.Exec("CREATE TABLE events (id INTEGER PRIMARY KEY, payload TEXT)").Error)
	for _, k := range keys {
		require.NoError(t, db.Exec("INSERT INTO events (id, payload) VALUES (?, ?)", k, "x").Error)
	}
	resolver := &test.MockDBConnectionResolver{}
	resolver.On("ResolveDBConnection", mock.Anything, "main").Return(conn, nil)
	return conn, resolver
}

func request(from, max, size int64) scheduler.BatchRequest {
	return scheduler.BatchRequest{
		Connection: "main",
		TableName:  "events",
		ColumnName: "id",
		From:       model.IntCursor(from),
		Max:        model.IntCursor(max),
		BatchSize:  size,
	}
}

func TestPrimaryKeyStrategy_FollowsExistingKeys(t *testing.T) {
	ctx := context.Background()
	_, resolver := seededConnection(t, 1, 2, 3, 5, 8, 13, 21)
	s := strategy.NewPrimaryKeyStrategy(resolver)

	cases := []struct {
		name   string
		from   int64
		lo, hi int64
	}{
		{name: "first batch", from: 1, lo: 1, hi: 3},
		{name: "skips a gap", from: 4, lo: 5, hi: 13},
		{name: "tail extends to max", from: 14, lo: 21, hi: 21},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng, err := s.NextBatch(ctx, request(tc.from, 21, 3))
			require.NoError(t, err)
			require.NotNil(t, rng)
			assert.True(t, rng.Min.Equal(model.IntCursor(tc.lo)), "min %s", rng.Min)
			assert.True(t, rng.Max.Equal(model.IntCursor(tc.hi)), "max %s", rng.Max)
		})
	}

	rng, err := s.NextBatch(ctx, request(22, 21, 3))
	require.NoError(t, err)
	assert.Nil(t, rng)
}

func TestPrimaryKeyStrategy_RespectsMax(t *testing.T) {
	_, resolver := seededConnection(t, 1, 2, 3, 50, 60)
	s := strategy.NewPrimaryKeyStrategy(resolver)

	rng, err := s.NextBatch(context.Background(), request(2, 10, 5))
	require.NoError(t, err)
	require.NotNil(t, rng)
	assert.True(t, rng.Min.Equal(model.IntCursor(2)))
	assert.True(t, rng.Max.Equal(model.IntCursor(10)))

	rng, err = s.NextBatch(context.Background(), request(4, 10, 5))
	require.NoError(t, err)
	assert.Nil(t, rng)
}

func TestPrimaryKeyStrategy_ReadsThroughTransaction(t *testing.T) {
	ctx := context.Background()
	conn, resolver := seededConnection(t, 1, 2, 3)
	s := strategy.NewPrimaryKeyStrategy(resolver)

	// the pool holds a single connection, so reading outside the transaction would block
	err := tx.RunInTx(ctx, gormadapter.NewGormTransactionManager(conn), func(ctx context.Context) error {
		if err := tx.ExecutorFrom(ctx, conn).Session(ctx).Exec("INSERT INTO events (id, payload) VALUES (4, 'y')").Error; err != nil {
			return err
		}
		rng, err := s.NextBatch(ctx, request(1, 10, 10))
		if err != nil {
			return err
		}
		assert.True(t, rng.Max.Equal(model.IntCursor(10)))
		assert.True(t, rng.Min.Equal(model.IntCursor(1)))
		return nil
	})
	require.NoError(t, err)
}

func TestPrimaryKeyStrategy_PropagatesQueryErrors(t *testing.T) {
	sqlDB, sm, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gormDB, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{})
	require.NoError(t, err)
	conn, err := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "mysql"}, "main")
	require.NoError(t, err)

	sm.ExpectQuery("SELECT `id` FROM `events` WHERE `id` >= ?").
		WillReturnError(errors.New("Lock wait timeout exceeded"))

	resolver := &test.MockDBConnectionResolver{}
	resolver.On("ResolveDBConnection", mock.Anything, "main").Return(adapter.DBConnection(conn), nil)

	_, err = strategy.NewPrimaryKeyStrategy(resolver).NextBatch(context.Background(), request(1, 100, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Lock wait timeout")
	assert.NoError(t, sm.ExpectationsWereMet())
}

func TestIntegerRangeStrategy(t *testing.T) {
	s := strategy.NewIntegerRangeStrategy()
	ctx := context.Background()

	rng, err := s.NextBatch(ctx, request(101, 1000, 100))
	require.NoError(t, err)
	assert.True(t, rng.Min.Equal(model.IntCursor(101)))
	assert.True(t, rng.Max.Equal(model.IntCursor(200)))

	rng, err = s.NextBatch(ctx, request(1001, 1000, 100))
	require.NoError(t, err)
	assert.Nil(t, rng)

	rng, err = s.NextBatch(ctx, request(math.MaxInt64-1, math.MaxInt64, 100))
	require.NoError(t, err)
	assert.True(t, rng.Min.Equal(model.IntCursor(math.MaxInt64-1)))
	assert.True(t, rng.Max.Equal(model.IntCursor(math.MaxInt64)), "upper bound saturates instead of wrapping")

	req := request(1, 10, 5)
	req.From = model.MustCursor("abc")
	_, err = s.NextBatch(ctx, req)
	assert.Error(t, err)
}
