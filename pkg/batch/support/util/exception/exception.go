// Package exception provides the error types shared by the backfill scheduler.
// Errors carry the module they originated in and whether the failed unit may be retried,
// and well-known sentinels are kept in a registry so they can be referenced by name.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a named sentinel so IsErrorOfType can match it with errors.Is.
// It panics on an empty name or a nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is present in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BackfillError is the error type returned by scheduler components.
type BackfillError struct {
	// Module is the component that produced the error (e.g., "intake", "scheduler", "partition").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	retryable   bool
}

// NewBackfillError creates a new BackfillError.
func NewBackfillError(module, message string, originalErr error, retryable bool) *BackfillError {
	return &BackfillError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		retryable:   retryable,
	}
}

// NewBackfillErrorf creates a BackfillError with a formatted message.
// A trailing error argument is taken as the wrapped cause and is not passed to fmt.Sprintf.
//
// Example:
//
//	NewBackfillErrorf("intake", "table %s has no column %s", table, column, sql.ErrNoRows)
func NewBackfillErrorf(module, format string, a ...interface{}) *BackfillError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return NewBackfillError(module, fmt.Sprintf(format, args...), originalErr, false)
}

// Error implements the error interface.
func (e *BackfillError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Is / errors.As.
func (e *BackfillError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the failed unit may be attempted again.
func (e *BackfillError) IsRetryable() bool {
	return e.retryable
}

// ErrValidation marks intake requests rejected before anything is persisted.
var ErrValidation = errors.New("ValidationError")

// ErrOptimisticLockingFailure marks an update that lost a version check.
var ErrOptimisticLockingFailure = errors.New("OptimisticLockingFailure")

// NewValidationError creates a BackfillError wrapping ErrValidation.
func NewValidationError(module, format string, a ...interface{}) *BackfillError {
	return NewBackfillError(module, fmt.Sprintf(format, a...), ErrValidation, false)
}

// NewOptimisticLockingFailure creates a BackfillError wrapping ErrOptimisticLockingFailure.
// The caller's tick is abandoned; the next tick re-reads the row.
func NewOptimisticLockingFailure(module, message string) *BackfillError {
	return NewBackfillError(module, message, ErrOptimisticLockingFailure, true)
}

// IsValidation reports whether err was raised by input validation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsOptimisticLockingFailure reports whether err is an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// IsRetryable reports whether err is retryable. BackfillError flags take precedence,
// otherwise transient storage timeouts are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var be *BackfillError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}
	return IsTransientTimeout(err)
}

// IsErrorOfType checks err against a registered sentinel name, then against the message
// and the type name of every error in the chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if strings.Contains(cur.Error(), errorTypeName) {
			return true
		}
		t := reflect.TypeOf(cur)
		if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
			return true
		}
	}
	return false
}

// ExtractErrorMessage returns the Message of a BackfillError or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BackfillError
	if errors.As(err, &be) {
		if be.OriginalErr != nil {
			return fmt.Sprintf("%s: %v", be.Message, be.OriginalErr)
		}
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType("ValidationError", ErrValidation)
	RegisterErrorType("OptimisticLockingFailure", ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType(TimeoutStatement, ErrStatementTimeout)
	RegisterErrorType(TimeoutLockWait, ErrLockWaitTimeout)
	RegisterErrorType(TimeoutConnection, ErrConnectionTimeout)
	RegisterErrorType(TimeoutAdapter, ErrAdapterTimeout)
	RegisterErrorType(TimeoutQueryCanceled, ErrQueryCanceled)
}
