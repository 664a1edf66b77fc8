package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/mwantia/fabric/pkg/container"

	config "github.com/mwantia/opsreg/internal/config/server"
	"github.com/mwantia/opsreg/pkg/db/store"
	"github.com/mwantia/opsreg/pkg/log"
	"github.com/mwantia/opsreg/pkg/storage"
	"github.com/mwantia/opsreg/pkg/storage/upload"
)

type OpsregAgent struct {
	mutex sync.RWMutex

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	storage  *storage.FileSystem
	registry *store.SQLStore
	uploads  *upload.Manager
}

func NewAgent(cfg *config.BaseServerConfig) *OpsregAgent {
	return newAgent(cfg, log.NewLoggerService("opsreg", cfg.Log))
}

func newAgent(cfg *config.BaseServerConfig, logger log.LoggerService) *OpsregAgent {
	return &OpsregAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: logger,
	}
}

// Setup builds the storage facade, the card registry and the upload
// manager and registers them in the service container.
func (oa *OpsregAgent) Setup(ctx context.Context) error {
	oa.mutex.Lock()
	defer oa.mutex.Unlock()

	oa.log.Debug("Registering 'LoggerService'...")
	if err := container.Register[log.LoggerServiceImpl](oa.sc,
		container.With[log.LoggerService](),
		container.WithInstance(oa.log)); err != nil {
		return err
	}

	storageLog, err := log.Resolve(ctx, oa.sc, "storage")
	if err != nil {
		return err
	}
	if oa.storage, err = NewStorage(ctx, oa.cfg.Storage, storageLog); err != nil {
		return fmt.Errorf("failed to set up storage: %w", err)
	}

	registryLog, err := log.Resolve(ctx, oa.sc, "registry")
	if err != nil {
		return err
	}
	if oa.registry, err = NewRegistry(ctx, oa.cfg.Registry, registryLog); err != nil {
		return fmt.Errorf("failed to set up registry: %w", err)
	}

	uploadLog, err := log.Resolve(ctx, oa.sc, "upload")
	if err != nil {
		return err
	}
	oa.uploads = NewUploadManager(oa.storage, oa.cfg.Upload, uploadLog)
	oa.uploads.Start()

	errs := container.Errors{}

	oa.log.Debug("Registering 'FileSystem'...")
	errs.Add(container.Register[storage.FileSystem](oa.sc,
		container.WithInstance(oa.storage)))

	oa.log.Debug("Registering 'CardStore'...")
	errs.Add(container.Register[store.SQLStore](oa.sc,
		container.With[store.CardStore](),
		container.WithInstance(oa.registry)))

	oa.log.Debug("Registering 'Manager'...")
	errs.Add(container.Register[upload.Manager](oa.sc,
		container.WithInstance(oa.uploads)))

	return errs.Errors()
}

func (oa *OpsregAgent) Storage() *storage.FileSystem {
	oa.mutex.RLock()
	defer oa.mutex.RUnlock()

	return oa.storage
}

func (oa *OpsregAgent) Registry() *store.SQLStore {
	oa.mutex.RLock()
	defer oa.mutex.RUnlock()

	return oa.registry
}

func (oa *OpsregAgent) Uploads() *upload.Manager {
	oa.mutex.RLock()
	defer oa.mutex.RUnlock()

	return oa.uploads
}

func (oa *OpsregAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	if err := oa.Setup(ctx); err != nil {
		return errors.Join(err, oa.Shutdown(context.Background()))
	}

	oa.log.Info("Agent started")
	<-ctx.Done()
	oa.log.Info("Shutting down agent...")

	timeout, err := time.ParseDuration(oa.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return oa.Shutdown(shutdown)
}

// Shutdown aborts open upload sessions and releases the registry and
// storage connections.
func (oa *OpsregAgent) Shutdown(ctx context.Context) error {
	oa.mutex.Lock()
	defer oa.mutex.Unlock()

	var failed []error
	if oa.uploads != nil {
		if err := oa.uploads.Stop(ctx); err != nil {
			failed = append(failed, fmt.Errorf("failed to stop upload manager: %w", err))
		}
		oa.uploads = nil
	}
	if oa.registry != nil {
		if err := oa.registry.Close(); err != nil {
			failed = append(failed, fmt.Errorf("failed to close registry: %w", err))
		}
		oa.registry = nil
	}
	if oa.storage != nil {
		if err := oa.storage.Close(); err != nil {
			failed = append(failed, fmt.Errorf("failed to close storage: %w", err))
		}
		oa.storage = nil
	}

	if err := oa.sc.Cleanup(ctx); err != nil {
		failed = append(failed, fmt.Errorf("failed to complete service container cleanup: %w", err))
	}

	return errors.Join(failed...)
}
