package client

import (
	"context"
	"fmt"
	"os"

	"github.com/mwantia/opsreg/internal/agent"
	config "github.com/mwantia/opsreg/internal/config/server"
	"github.com/mwantia/opsreg/pkg/db/store"
	"github.com/mwantia/opsreg/pkg/log"
	"github.com/mwantia/opsreg/pkg/storage"
)

// Client commands log to stderr so their output stays parseable.
func loadConfig() (*config.BaseServerConfig, log.LoggerService, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, log.NewWriterLogger("opsreg", cfg.Log.Level, os.Stderr), nil
}

func openStorage(ctx context.Context) (*storage.FileSystem, *config.BaseServerConfig, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	fs, err := agent.NewStorage(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, nil, err
	}
	return fs, cfg, nil
}

func openRegistry(ctx context.Context) (*store.SQLStore, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return agent.NewRegistry(ctx, cfg.Registry, logger.Named("registry"))
}
