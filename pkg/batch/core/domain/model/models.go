// Package model defines the domain records of the backfill scheduler: the long-lived
// Operation, its short-lived Batches, the key-space Cursor and the history Partitions.
package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID generates a unique identifier for Operations and Batches.
func NewID() string {
	return uuid.New().String()
}

// Pacing floors and intake defaults.
const (
	MinPauseMS  int64 = 100
	MinInterval       = 2 * time.Minute

	DefaultBatchSize        int64 = 1000
	DefaultSubBatchSize     int64 = 100
	DefaultInterval               = MinInterval
	DefaultPauseMS                = MinPauseMS
	DefaultBatchingStrategy       = "primary-key"
)

// Arguments are the job arguments of an Operation. They are part of its identity and are
// stored as a JSON array.
type Arguments []interface{}

// Canonical returns the JSON encoding used for identity comparison.
// encoding/json sorts map keys, so equal argument lists always encode identically.
func (a Arguments) Canonical() string {
	if len(a) == 0 {
		return "[]"
	}
	b, err := json.Marshal([]interface{}(a))
	if err != nil {
		return fmt.Sprintf("%v", []interface{}(a))
	}
	return string(b)
}

// Value implements driver.Valuer.
func (a Arguments) Value() (driver.Value, error) {
	return a.Canonical(), nil
}

// Scan implements sql.Scanner.
func (a *Arguments) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*a = Arguments{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for Arguments: %T", value)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		*a = Arguments{}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to unmarshal Arguments JSON: %w", err)
	}
	*a = Arguments(raw)
	return nil
}

// Identity is the tuple an unfinished Operation is unique on.
type Identity struct {
	JobType    string
	TableName  string
	ColumnName string
	Arguments  string // canonical JSON
}

func (i Identity) String() string {
	return fmt.Sprintf("%s(%s.%s, %s)", i.JobType, i.TableName, i.ColumnName, i.Arguments)
}
