package agent

import (
	"context"
	"fmt"

	config "github.com/mwantia/opsreg/internal/config/server"
	"github.com/mwantia/opsreg/pkg/db/store"
	"github.com/mwantia/opsreg/pkg/log"
	"github.com/mwantia/opsreg/pkg/storage"
	"github.com/mwantia/opsreg/pkg/storage/upload"

	// Storage backends register themselves with the facade.
	_ "github.com/mwantia/opsreg/pkg/storage/aws"
	_ "github.com/mwantia/opsreg/pkg/storage/azure"
	_ "github.com/mwantia/opsreg/pkg/storage/client"
	_ "github.com/mwantia/opsreg/pkg/storage/google"
	_ "github.com/mwantia/opsreg/pkg/storage/local"
)

// NewStorage builds the storage facade described by cfg.
func NewStorage(ctx context.Context, cfg config.StorageServerConfig, logger log.LoggerService) (*storage.FileSystem, error) {
	settings := storage.Settings{
		URI:         cfg.URI,
		UsingClient: cfg.UsingClient,
		Options:     cfg.Options,
	}
	if cfg.Type != "" {
		t, err := storage.ParseStorageType(cfg.Type)
		if err != nil {
			return nil, err
		}
		settings.Type = t
	}

	fs, err := storage.NewFileSystem(ctx, settings,
		storage.WithLogger(logger),
		storage.WithConcurrency(cfg.Concurrency))
	if err != nil {
		return nil, err
	}

	logger.Info("Using %s storage at '%s'", fs.Type(), fs.Bucket())
	return fs, nil
}

// NewRegistry opens the card registry and applies pending migrations.
func NewRegistry(ctx context.Context, cfg config.RegistryServerConfig, logger log.LoggerService) (*store.SQLStore, error) {
	s, err := store.NewSQLStore(store.Config{
		URI:          cfg.ConnectionURI,
		MaxOpenConns: cfg.MaxOpenConns,
		LogLevel:     store.ParseLogLevel(cfg.LogLevel),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	if err := s.Connect(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to %s registry: %w", s.Dialect().Name(), err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate registry: %w", err)
	}

	logger.Info("Connected to %s registry", s.Dialect().Name())
	return s, nil
}

// NewUploadManager tracks resumable uploads into fs.
func NewUploadManager(fs *storage.FileSystem, cfg config.UploadServerConfig, logger log.LoggerService) *upload.Manager {
	return upload.NewManager(fs, cfg.Timeout(),
		upload.WithLogger(logger),
		upload.WithDefaultChunkSize(cfg.ChunkSize))
}
