package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/mailscan-sync/internal/adapters/session"
	"github.com/mikey/mailscan-sync/internal/config"
	"github.com/mikey/mailscan-sync/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates session flag stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateFlagStore creates a flag store based on the configuration
func (f *StoreFactory) CreateFlagStore() (core.FlagStore, error) {
	storeType := f.cfg.GetString("session.store_type")

	switch storeType {
	case "memory":
		return session.NewMemoryStore(), nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("session.sqlite_path")
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create session store directory: %w", err)
		}
		return session.NewSQLiteStore(sqlitePath, f.logger)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", storeType)
	}
}
