// Package archive writes the rows of a detached partition to object storage as Parquet
// files before the partition tables are dropped.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/backfill/pkg/batch/adapter/storage"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/partition"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

const contentType = "application/vnd.apache.parquet"

// ParquetArchiver uploads operations.parquet and batches.parquet of a partition to
// <baseDir>/<connection>/partition=<n>/ on the configured storage connection.
type ParquetArchiver struct {
	resolver   storage.StorageConnectionResolver
	storageRef string
	baseDir    string
	codec      parquet.CompressionCodec
}

// NewParquetArchiver creates a ParquetArchiver. compression is one of SNAPPY, GZIP,
// UNCOMPRESSED or NONE; empty means SNAPPY.
func NewParquetArchiver(resolver storage.StorageConnectionResolver, storageRef, baseDir, compression string) (*ParquetArchiver, error) {
	codec, err := compressionCodec(compression)
	if err != nil {
		return nil, err
	}
	if storageRef == "" {
		return nil, fmt.Errorf("archive: storage ref must be set")
	}
	return &ParquetArchiver{resolver: resolver, storageRef: storageRef, baseDir: baseDir, codec: codec}, nil
}

// ObjectPrefix returns the directory the files of partition n on connection are written to.
func (a *ParquetArchiver) ObjectPrefix(connection string, n int64) string {
	return path.Join(a.baseDir, connection, fmt.Sprintf("partition=%d", n))
}

func (a *ParquetArchiver) Archive(ctx context.Context, connection string, n int64, ops []*model.Operation, batches []*model.Batch) error {
	const opName = "archive.ParquetArchiver.Archive"
	conn, err := a.resolver.ResolveStorageConnection(ctx, a.storageRef)
	if err != nil {
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to resolve storage '%s'", a.storageRef), err, true)
	}

	opRows := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		opRows = append(opRows, toOperationRow(op))
	}
	batchRows := make([]interface{}, 0, len(batches))
	for _, b := range batches {
		batchRows = append(batchRows, toBatchRow(b))
	}

	prefix := a.ObjectPrefix(connection, n)
	var result *multierror.Error
	if err := a.upload(ctx, conn, path.Join(prefix, "operations.parquet"), new(OperationRow), opRows); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.upload(ctx, conn, path.Join(prefix, "batches.parquet"), new(BatchRow), batchRows); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to archive partition %d of '%s'", n, connection), err, true)
	}
	logger.Infof("Archived partition %d of '%s' to %s/%s (%d operations, %d batches).",
		n, connection, a.storageRef, prefix, len(ops), len(batches))
	return nil
}

// upload encodes rows with the schema of prototype and stores them as objectName.
// An empty row set still produces a file so every archived partition has both objects.
func (a *ParquetArchiver) upload(ctx context.Context, conn storage.StorageConnection, objectName string, prototype interface{}, rows []interface{}) (err error) {
	buf := new(bytes.Buffer)
	rowGroup := int64(len(rows))
	if rowGroup == 0 {
		rowGroup = 1
	}
	pw, err := writer.NewParquetWriterFromWriter(buf, prototype, rowGroup)
	if err != nil {
		return fmt.Errorf("%s: failed to create parquet writer: %w", objectName, err)
	}
	pw.CompressionType = a.codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("%s: failed to write row: %w", objectName, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: parquet writer panicked: %v", objectName, r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("%s: failed to finalize parquet file: %w", objectName, err)
	}

	if err := conn.Upload(ctx, "", objectName, buf, contentType); err != nil {
		return fmt.Errorf("%s: upload failed: %w", objectName, err)
	}
	return nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "UNCOMPRESSED", "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported archive compression: %s", name)
	}
}

var _ partition.Archiver = (*ParquetArchiver)(nil)

// NewFromConfig builds the archiver from backfill.partition. It returns nil when no
// archive storage is configured, in which case detached partitions are dropped unarchived.
func NewFromConfig(cfg *config.Config, resolver storage.StorageConnectionResolver) (partition.Archiver, error) {
	pc := cfg.Backfill.Partition
	if pc.ArchiveStorageRef == "" {
		logger.Warnf("backfill.partition.archive_storage_ref is not set; detached partitions will not be archived.")
		return nil, nil
	}
	a, err := NewParquetArchiver(resolver, pc.ArchiveStorageRef, pc.ArchiveBaseDir, pc.ArchiveCompression)
	if err != nil {
		return nil, err
	}
	return a, nil
}
