package factory

import (
	"fmt"

	"github.com/mikey/mailscan-sync/internal/adapters/backend"
	"github.com/mikey/mailscan-sync/internal/adapters/cache"
	"github.com/mikey/mailscan-sync/internal/config"
	"github.com/mikey/mailscan-sync/internal/core"
	"go.uber.org/zap"
)

// SyncFactory creates the sync core's components from configuration
type SyncFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewSyncFactory creates a new sync factory
func NewSyncFactory(cfg *config.Config, logger *zap.Logger) *SyncFactory {
	return &SyncFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateBackendAPI creates the backend client from configuration
func (f *SyncFactory) CreateBackendAPI() (core.BackendAPI, error) {
	timeout, err := f.cfg.GetDuration("backend.timeout")
	if err != nil {
		return nil, fmt.Errorf("invalid backend timeout: %w", err)
	}
	return backend.NewHTTPClient(
		f.cfg.GetString("backend.base_url"),
		f.cfg.GetString("backend.token"),
		timeout,
		f.logger,
	), nil
}

// CreateSnapshotCache creates the analytics cache from configuration
func (f *SyncFactory) CreateSnapshotCache() (core.SnapshotCache, error) {
	ttl, err := f.cfg.GetDuration("cache.ttl")
	if err != nil {
		return nil, fmt.Errorf("invalid cache ttl: %w", err)
	}
	return cache.NewMemoryCache[*core.AnalyticsSnapshot](f.logger, ttl), nil
}

// CreateRefreshGate creates the refresh gate from configuration
func (f *SyncFactory) CreateRefreshGate() (*core.RefreshGate, error) {
	window, err := f.cfg.GetDuration("refresh.recent_scan_window")
	if err != nil {
		return nil, fmt.Errorf("invalid recent scan window: %w", err)
	}
	return core.NewRefreshGate(window), nil
}

// ControllerConfig assembles the controller tunables from configuration
func (f *SyncFactory) ControllerConfig() (core.ControllerConfig, error) {
	refetchDelay, err := f.cfg.GetDuration("refresh.refetch_delay")
	if err != nil {
		return core.ControllerConfig{}, fmt.Errorf("invalid refetch delay: %w", err)
	}
	fetchTimeout, err := f.cfg.GetDuration("backend.timeout")
	if err != nil {
		return core.ControllerConfig{}, fmt.Errorf("invalid backend timeout: %w", err)
	}

	timeRange := f.cfg.GetString("activity.time_range")
	if !core.ValidTimeRange(timeRange) {
		return core.ControllerConfig{}, fmt.Errorf("%w: %q", core.ErrInvalidTimeRange, timeRange)
	}

	return core.ControllerConfig{
		ActivityCapacity: f.cfg.GetInt("activity.capacity"),
		RefetchDelay:     refetchDelay,
		FetchTimeout:     fetchTimeout,
		HistoryTimeRange: timeRange,
	}, nil
}
