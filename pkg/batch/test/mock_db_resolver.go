package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
)

// MockDBConnectionResolver is a testify mock of adapter.DBConnectionResolver.
type MockDBConnectionResolver struct {
	mock.Mock
}

// ResolveDBConnection records the call and returns the predefined values.
func (m *MockDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (adapter.DBConnection, error) {
	args := m.Called(ctx, name)
	conn, _ := args.Get(0).(adapter.DBConnection)
	return conn, args.Error(1)
}

var _ adapter.DBConnectionResolver = (*MockDBConnectionResolver)(nil)
