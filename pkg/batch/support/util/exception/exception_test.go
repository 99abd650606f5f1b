package exception_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

type customError struct {
	Msg string
}

func (e *customError) Error() string {
	return fmt.Sprintf("customError: %s", e.Msg)
}

func TestNewBackfillError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	be := exception.NewBackfillError("db", "failed to connect", originalErr, true)

	assert.Equal(t, "db", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Equal(t, originalErr, be.Unwrap())
	assert.True(t, be.IsRetryable())
	assert.Equal(t, "[db] failed to connect: db connection refused", be.Error())
}

func TestNewBackfillErrorf(t *testing.T) {
	be := exception.NewBackfillErrorf("intake", "table %s not found", "events")
	assert.Nil(t, be.Unwrap())
	assert.False(t, be.IsRetryable())
	assert.Equal(t, "[intake] table events not found", be.Error())

	be = exception.NewBackfillErrorf("intake", "table %s has no column %s", "events", "id", sql.ErrNoRows)
	assert.ErrorIs(t, be, sql.ErrNoRows)
	assert.Equal(t, "table events has no column id", be.Message)
}

func TestValidationAndLocking(t *testing.T) {
	v := exception.NewValidationError("intake", "batch_size must be positive, got %d", 0)
	assert.True(t, exception.IsValidation(v))
	assert.False(t, exception.IsRetryable(v))

	wrapped := fmt.Errorf("enqueue: %w", exception.NewOptimisticLockingFailure("repo", "version 3 not found"))
	assert.True(t, exception.IsOptimisticLockingFailure(wrapped))
	assert.True(t, exception.IsRetryable(wrapped))
	assert.False(t, exception.IsValidation(wrapped))
}

func TestClassifyTimeout(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{"sentinel", fmt.Errorf("exec: %w", exception.ErrLockWaitTimeout), exception.TimeoutLockWait},
		{"deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), exception.TimeoutAdapter},
		{"canceled", context.Canceled, exception.TimeoutQueryCanceled},
		{"bad conn", driver.ErrBadConn, exception.TimeoutConnection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, ok := exception.ClassifyTimeout(tc.err)
			assert.True(t, ok)
			assert.Equal(t, tc.kind, kind)
			assert.True(t, exception.IsRetryable(tc.err))
		})
	}

	_, ok := exception.ClassifyTimeout(errors.New("syntax error"))
	assert.False(t, ok)
	_, ok = exception.ClassifyTimeout(nil)
	assert.False(t, ok)
}

var errDialectTimeout = errors.New("dialect: canceling statement due to statement timeout")

func TestRegisterTimeoutClassifier(t *testing.T) {
	exception.RegisterTimeoutClassifier(func(err error) (string, bool) {
		if errors.Is(err, errDialectTimeout) {
			return exception.TimeoutStatement, true
		}
		return "", false
	})

	wrapped := exception.WrapTimeout(errDialectTimeout)
	assert.ErrorIs(t, wrapped, exception.ErrStatementTimeout)
	assert.ErrorIs(t, wrapped, errDialectTimeout)

	plain := errors.New("duplicate key")
	assert.Same(t, plain, exception.WrapTimeout(plain))
}

func TestIsErrorOfType(t *testing.T) {
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("read: %w", sql.ErrNoRows), "sql.ErrNoRows"))
	assert.True(t, exception.IsErrorOfType(&customError{Msg: "x"}, "exception_test.customError"))
	assert.True(t, exception.IsErrorOfType(errors.New("a LockWaitTimeout happened"), exception.TimeoutLockWait))
	assert.False(t, exception.IsErrorOfType(errors.New("boom"), "sql.ErrNoRows"))
	assert.False(t, exception.IsErrorOfType(nil, "sql.ErrNoRows"))

	exception.RegisterErrorType("test.Custom", &customError{Msg: "proto"})
	assert.True(t, exception.IsErrorTypeRegistered("test.Custom"))
	assert.Panics(t, func() { exception.RegisterErrorType("", errors.New("x")) })
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
	assert.Equal(t, "save failed: disk full",
		exception.ExtractErrorMessage(exception.NewBackfillError("repo", "save failed", errors.New("disk full"), false)))
}
