package internal

import (
	"log/slog"

	"github.com/DukeRupert/custodybuddy/internal/storage"
)

// NewStorage builds the evidence blob store named by StorageProvider.
func NewStorage(cfg *Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.StorageProvider == storage.ProviderR2 {
		return storage.NewR2Storage(cfg.R2StorageConfig(), logger)
	}
	return storage.NewLocalStorage(storage.LocalConfig{
		BasePath: cfg.LocalStoragePath,
		BaseURL:  cfg.LocalStorageURL,
	}, logger)
}

// R2StorageConfig maps the R2 settings onto the storage client config.
func (c *Config) R2StorageConfig() storage.R2Config {
	return storage.R2Config{
		AccountID:       c.R2AccountID,
		AccessKeyID:     c.R2AccessKeyID,
		SecretAccessKey: c.R2SecretAccessKey,
		BucketName:      c.R2BucketName,
		PublicURL:       c.R2PublicURL,
		Region:          c.R2Region,
		Endpoint:        c.R2Endpoint,
	}
}
