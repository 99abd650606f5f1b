// Package storage defines the object storage ports that detached partitions are archived
// through. Backends (local file system, GCS) are selected per named connection.
package storage

import (
	"context"
	"io"

	coreAdapter "github.com/tigerroll/backfill/pkg/batch/core/adapter"
)

// StorageProviderGroup is the Fx value group all StorageProvider implementations are collected in.
const StorageProviderGroup = "storage_providers"

// StorageExecutor defines generic object operations.
type StorageExecutor interface {
	// Upload writes data to objectName in bucket.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens objectName in bucket. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object of bucket under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes objectName from bucket. A missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is a named object storage connection.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
}

// StorageProvider opens and caches connections of one storage type.
type StorageProvider interface {
	GetConnection(name string) (StorageConnection, error)
	CloseAll() error
	Type() string
}

// StorageConnectionResolver resolves a storage connection by name across all providers.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
