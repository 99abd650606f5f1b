package config

import (
	coreConfig "github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/support/util/configbinder"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // Type of storage ("local", "gcs").
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Path to a service account key for GCS.
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
}

// Lookup finds and decodes the configuration of the named storage connection.
func Lookup(cfg *coreConfig.Config, name string) (StorageConfig, error) {
	var sc StorageConfig
	err := configbinder.BindEntry(cfg.Backfill.StorageConfigs, "storage", name, &sc)
	return sc, err
}
