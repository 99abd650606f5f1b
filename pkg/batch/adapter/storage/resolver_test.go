package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/backfill/pkg/batch/adapter/storage"
	"github.com/tigerroll/backfill/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
)

func TestProviderResolver(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Backfill.StorageConfigs = map[string]interface{}{
		"archive": map[string]interface{}{"type": "local", "base_dir": t.TempDir()},
		"cloud":   map[string]interface{}{"type": "gcs", "bucket_name": "b"},
	}
	r := storage.NewProviderResolver(storage.ResolverParams{
		Providers: []storage.StorageProvider{local.NewLocalProvider(cfg)},
		Cfg:       cfg,
	})

	conn, err := r.ResolveStorageConnection(context.Background(), "archive")
	require.NoError(t, err)
	assert.Equal(t, local.ProviderType, conn.Type())

	_, err = r.ResolveStorageConnection(context.Background(), "cloud")
	assert.ErrorContains(t, err, "no storage provider registered for type 'gcs'")
}
