package di

import (
	"go.uber.org/dig"

	"github.com/mikey/mailscan-sync/internal/config"
	"github.com/mikey/mailscan-sync/internal/core"
	"github.com/mikey/mailscan-sync/internal/events"
	"github.com/mikey/mailscan-sync/internal/factory"
	"github.com/mikey/mailscan-sync/internal/logging"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register event bus
	if err := container.Provide(events.NewBus); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewSyncFactory); err != nil {
		return nil, err
	}

	// Register backend client
	if err := container.Provide(func(f *factory.SyncFactory) (core.BackendAPI, error) {
		return f.CreateBackendAPI()
	}); err != nil {
		return nil, err
	}

	// Register snapshot cache
	if err := container.Provide(func(f *factory.SyncFactory) (core.SnapshotCache, error) {
		return f.CreateSnapshotCache()
	}); err != nil {
		return nil, err
	}

	// Register refresh gate
	if err := container.Provide(func(f *factory.SyncFactory) (*core.RefreshGate, error) {
		return f.CreateRefreshGate()
	}); err != nil {
		return nil, err
	}

	// Register session flag store and flag state
	if err := container.Provide(func(f *factory.StoreFactory) (core.FlagStore, error) {
		return f.CreateFlagStore()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewFlagState); err != nil {
		return nil, err
	}

	// Register controller tunables
	if err := container.Provide(func(f *factory.SyncFactory) (core.ControllerConfig, error) {
		return f.ControllerConfig()
	}); err != nil {
		return nil, err
	}

	// Register sync controller
	if err := container.Provide(core.NewSyncController); err != nil {
		return nil, err
	}

	return container, nil
}
