package local_test

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/backfill/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/backfill/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/backfill/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
)

func newConn(t *testing.T) (string, storage.StorageConnection) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "archive")
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: "local", BaseDir: dir, BucketName: "default"}, "archive")
	require.NoError(t, err)
	return dir, conn
}

func TestLocalAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, conn := newConn(t)

	require.NoError(t, conn.Upload(ctx, "", "main/partition_1/operations.parquet", strings.NewReader("ops"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "main/partition_1/batches.parquet", strings.NewReader("batches"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "ci/partition_1/batches.parquet", strings.NewReader("x"), "application/octet-stream"))

	r, err := conn.Download(ctx, "", "main/partition_1/operations.parquet")
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "ops", string(body))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "main/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.ElementsMatch(t, []string{"main/partition_1/operations.parquet", "main/partition_1/batches.parquet"}, names)

	require.NoError(t, conn.DeleteObject(ctx, "", "main/partition_1/operations.parquet"))
	require.NoError(t, conn.DeleteObject(ctx, "", "main/partition_1/operations.parquet"), "deleting a missing object is not an error")
	_, err = conn.Download(ctx, "", "main/partition_1/operations.parquet")
	assert.Error(t, err)
}

func TestLocalAdapter_RejectsEscapingPaths(t *testing.T) {
	_, conn := newConn(t)
	err := conn.Upload(context.Background(), "", "../../etc/passwd", strings.NewReader("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside of base_dir")
}

func TestLocalProvider_GetConnection(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Backfill.StorageConfigs = map[string]interface{}{
		"archive": map[string]interface{}{"type": "local", "base_dir": t.TempDir()},
		"cloud":   map[string]interface{}{"type": "gcs", "bucket_name": "b"},
	}
	p := local.NewLocalProvider(cfg)

	conn, err := p.GetConnection("archive")
	require.NoError(t, err)
	assert.Equal(t, "archive", conn.Name())
	again, err := p.GetConnection("archive")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = p.GetConnection("cloud")
	assert.ErrorContains(t, err, "expected 'local'")
	_, err = p.GetConnection("missing")
	assert.ErrorContains(t, err, "not found")

	assert.NoError(t, p.CloseAll())
}
