package health_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/component/health"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

type stubIndicator struct {
	name   string
	signal scheduler.Signal
	err    error
}

func (s stubIndicator) Name() string { return s.name }

func (s stubIndicator) Evaluate(ctx context.Context, hc scheduler.HealthContext) (scheduler.Signal, error) {
	return s.signal, s.err
}

func TestEvaluator_UnavailableIndicatorNeverStops(t *testing.T) {
	e := health.NewEvaluator(
		stubIndicator{name: "wal", signal: scheduler.Signal{Stop: true, Reason: "wal rate"}},
		stubIndicator{name: "replica", err: errors.New("connection refused")},
		nil,
	)
	signals, err := e.Evaluate(context.Background(), scheduler.HealthContext{Connection: "main", Tables: []string{"events"}})
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, "wal", signals[0].Indicator)
	assert.True(t, signals[0].Stop)

	assert.Equal(t, "replica", signals[1].Indicator)
	assert.False(t, signals[1].Stop)
	assert.True(t, signals[1].Unavailable)
	assert.Contains(t, signals[1].Reason, "connection refused")
}

func postgresMock(t *testing.T) (sqlmock.Sqlmock, *test.MockDBConnectionResolver) {
	t.Helper()
	sqlDB, sm, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	conn, err := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "postgres"}, "main")
	require.NoError(t, err)

	resolver := &test.MockDBConnectionResolver{}
	resolver.On("ResolveDBConnection", mock.Anything, "main").Return(conn, nil)
	return sm, resolver
}

func TestAutovacuumIndicator(t *testing.T) {
	hc := scheduler.HealthContext{Connection: "main", Tables: []string{"events"}}
	query := regexp.QuoteMeta("FROM pg_stat_progress_vacuum")

	t.Run("stops while the table is vacuumed", func(t *testing.T) {
		sm, resolver := postgresMock(t)
		sm.ExpectQuery(query).WithArgs("events").
			WillReturnRows(sqlmock.NewRows([]string{"relname"}).AddRow("events"))

		s, err := health.NewAutovacuumIndicator(resolver).Evaluate(context.Background(), hc)
		require.NoError(t, err)
		assert.True(t, s.Stop)
		assert.Equal(t, "autovacuum running on events", s.Reason)
		assert.NoError(t, sm.ExpectationsWereMet())
	})

	t.Run("healthy when nothing is vacuumed", func(t *testing.T) {
		sm, resolver := postgresMock(t)
		sm.ExpectQuery(query).WithArgs("events").WillReturnRows(sqlmock.NewRows([]string{"relname"}))

		s, err := health.NewAutovacuumIndicator(resolver).Evaluate(context.Background(), hc)
		require.NoError(t, err)
		assert.False(t, s.Stop)
		assert.NoError(t, sm.ExpectationsWereMet())
	})

	t.Run("query errors surface", func(t *testing.T) {
		sm, resolver := postgresMock(t)
		sm.ExpectQuery(query).WillReturnError(errors.New("permission denied for pg_stat_activity"))

		_, err := health.NewAutovacuumIndicator(resolver).Evaluate(context.Background(), hc)
		assert.ErrorContains(t, err, "permission denied")
	})

	t.Run("not applicable to sqlite", func(t *testing.T) {
		conn := test.OpenSQLite(t, "main")
		resolver := &test.MockDBConnectionResolver{}
		resolver.On("ResolveDBConnection", mock.Anything, "main").Return(conn, nil)

		s, err := health.NewAutovacuumIndicator(resolver).Evaluate(context.Background(), hc)
		require.NoError(t, err)
		assert.False(t, s.Stop)
	})
}

func prometheusServer(t *testing.T, values map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		q := r.Form.Get("query")
		value, ok := values[q]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"status":"error","errorType":"bad_data","error":"unknown query %q"}`, q)
			return
		}
		result := "[]"
		if value != "" {
			result = fmt.Sprintf(`[{"metric":{"relname":"events"},"value":[1704067200,"%s"]}]`, value)
		}
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":%s}}`, result)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPrometheusIndicator(t *testing.T) {
	srv := prometheusServer(t, map[string]string{
		`pg_dead_tuple_ratio{relname="events"}`:  "0.31",
		`replication_lag_seconds{db="main"}`:     "",
		`pg_dead_tuple_ratio{relname="unknown"}`: "0.01",
	})
	cfg := config.PrometheusHealthConfig{
		Address: srv.URL,
		Timeout: time.Second,
		Queries: []config.PrometheusQueryConfig{
			{Name: "replication lag", Query: `replication_lag_seconds{db="$connection"}`, Threshold: 30},
			{Name: "dead tuples", Query: `pg_dead_tuple_ratio{relname="$table"}`, Threshold: 0.2},
		},
	}
	ind, err := health.NewPrometheusIndicator(cfg, clock.NewManual(test.Epoch))
	require.NoError(t, err)

	s, err := ind.Evaluate(context.Background(), scheduler.HealthContext{Connection: "main", Tables: []string{"events"}})
	require.NoError(t, err)
	assert.True(t, s.Stop)
	assert.True(t, strings.HasPrefix(s.Reason, "dead tuples is 0.31 for events"), s.Reason)

	s, err = ind.Evaluate(context.Background(), scheduler.HealthContext{Connection: "main", Tables: []string{"unknown"}})
	require.NoError(t, err)
	assert.False(t, s.Stop)

	_, err = ind.Evaluate(context.Background(), scheduler.HealthContext{Connection: "ci", Tables: []string{"events"}})
	assert.Error(t, err)
}
