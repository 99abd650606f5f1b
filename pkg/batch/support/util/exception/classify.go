package exception

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"sync"
)

// Names of the transient timeout conditions a storage layer can report.
// Each of them turns a Batch into an ordinary failure rather than a scheduler error.
const (
	TimeoutStatement     = "StatementTimeout"
	TimeoutLockWait      = "LockWaitTimeout"
	TimeoutConnection    = "ConnectionTimeout"
	TimeoutAdapter       = "AdapterTimeout"
	TimeoutQueryCanceled = "QueryCanceled"
)

var (
	ErrStatementTimeout  = errors.New(TimeoutStatement)
	ErrLockWaitTimeout   = errors.New(TimeoutLockWait)
	ErrConnectionTimeout = errors.New(TimeoutConnection)
	ErrAdapterTimeout    = errors.New(TimeoutAdapter)
	ErrQueryCanceled     = errors.New(TimeoutQueryCanceled)
)

var timeoutSentinels = map[string]error{
	TimeoutStatement:     ErrStatementTimeout,
	TimeoutLockWait:      ErrLockWaitTimeout,
	TimeoutConnection:    ErrConnectionTimeout,
	TimeoutAdapter:       ErrAdapterTimeout,
	TimeoutQueryCanceled: ErrQueryCanceled,
}

// TimeoutClassifier maps a driver specific error to one of the Timeout* names.
type TimeoutClassifier func(err error) (kind string, ok bool)

var (
	classifiers   []TimeoutClassifier
	classifiersMu sync.RWMutex
)

// RegisterTimeoutClassifier adds a driver specific classifier.
// Dialect packages call it from init().
func RegisterTimeoutClassifier(c TimeoutClassifier) {
	classifiersMu.Lock()
	defer classifiersMu.Unlock()
	classifiers = append(classifiers, c)
}

// ClassifyTimeout returns the transient timeout kind of err, if any.
func ClassifyTimeout(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	for kind, sentinel := range timeoutSentinels {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}

	classifiersMu.RLock()
	registered := classifiers
	classifiersMu.RUnlock()
	for _, c := range registered {
		if kind, ok := c(err); ok {
			return kind, true
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutAdapter, true
	case errors.Is(err, context.Canceled):
		return TimeoutQueryCanceled, true
	case errors.Is(err, driver.ErrBadConn):
		return TimeoutConnection, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutConnection, true
	}
	return "", false
}

// IsTransientTimeout reports whether err is one of the transient timeout conditions.
func IsTransientTimeout(err error) bool {
	_, ok := ClassifyTimeout(err)
	return ok
}

// WrapTimeout annotates err with the sentinel of its timeout kind so callers can use errors.Is.
// Errors that are not transient timeouts are returned unchanged.
func WrapTimeout(err error) error {
	kind, ok := ClassifyTimeout(err)
	if !ok {
		return err
	}
	sentinel := timeoutSentinels[kind]
	if errors.Is(err, sentinel) {
		return err
	}
	return errors.Join(sentinel, err)
}
