package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/backfill/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/backfill/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/backfill/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/backfill/pkg/batch/component/archive"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

type staticResolver struct {
	conn storage.StorageConnection
	err  error
}

func (r staticResolver) ResolveStorageConnection(ctx context.Context, name string) (storage.StorageConnection, error) {
	return r.conn, r.err
}

func assertParquetFile(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))
}

func TestParquetArchiver_Archive(t *testing.T) {
	dir := t.TempDir()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: "local", BaseDir: dir}, "archive")
	require.NoError(t, err)

	for _, codec := range []string{"SNAPPY", "GZIP", "NONE"} {
		t.Run(codec, func(t *testing.T) {
			a, err := archive.NewParquetArchiver(staticResolver{conn: conn}, "archive", "backfill/"+codec, codec)
			require.NoError(t, err)

			now := test.Epoch
			op := test.NewTestOperation(3, 1, 100, now)
			done := model.NewBatch(op, model.IntCursor(1), model.IntCursor(50), now)
			test.FinishBatch(done, now.Add(time.Second), nil)
			failed := model.NewBatch(op, model.IntCursor(51), model.IntCursor(100), now)
			test.FinishBatch(failed, now.Add(time.Second), errors.New("deadlock"))

			require.NoError(t, a.Archive(context.Background(), "main", 3, []*model.Operation{op}, []*model.Batch{done, failed}))

			prefix := filepath.Join(dir, a.ObjectPrefix("main", 3))
			assert.Equal(t, filepath.Join(dir, "backfill", codec, "main", "partition=3"), prefix)
			assertParquetFile(t, filepath.Join(prefix, "operations.parquet"))
			assertParquetFile(t, filepath.Join(prefix, "batches.parquet"))
		})
	}
}

func TestParquetArchiver_EmptyPartition(t *testing.T) {
	dir := t.TempDir()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: "local", BaseDir: dir}, "archive")
	require.NoError(t, err)
	a, err := archive.NewParquetArchiver(staticResolver{conn: conn}, "archive", "", "")
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), "ci", 1, nil, nil))
	assertParquetFile(t, filepath.Join(dir, "ci", "partition=1", "operations.parquet"))
	assertParquetFile(t, filepath.Join(dir, "ci", "partition=1", "batches.parquet"))
}

func TestParquetArchiver_StorageUnavailable(t *testing.T) {
	a, err := archive.NewParquetArchiver(staticResolver{err: errors.New("bucket unavailable")}, "archive", "", "")
	require.NoError(t, err)
	err = a.Archive(context.Background(), "main", 1, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestNewParquetArchiver_Validation(t *testing.T) {
	_, err := archive.NewParquetArchiver(staticResolver{}, "archive", "", "LZ4")
	assert.ErrorContains(t, err, "unsupported archive compression")
	_, err = archive.NewParquetArchiver(staticResolver{}, "", "", "")
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	a, err := archive.NewFromConfig(cfg, staticResolver{})
	require.NoError(t, err)
	assert.Nil(t, a)

	cfg.Backfill.Partition.ArchiveStorageRef = "archive"
	a, err = archive.NewFromConfig(cfg, staticResolver{})
	require.NoError(t, err)
	assert.NotNil(t, a)
}
