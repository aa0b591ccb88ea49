package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/mailscan-sync/internal/config"
	"github.com/mikey/mailscan-sync/internal/core"
	"github.com/mikey/mailscan-sync/internal/di"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	ctrl *core.SyncController,
	flagStore core.FlagStore,
) error {
	defer logger.Sync()

	pollInterval, err := cfg.GetDuration("refresh.poll_interval")
	if err != nil {
		return fmt.Errorf("invalid poll interval: %w", err)
	}
	fetchTimeout, err := cfg.GetDuration("backend.timeout")
	if err != nil {
		return fmt.Errorf("invalid backend timeout: %w", err)
	}
	timeRange := cfg.GetString("refresh.time_range")

	// Log every snapshot update and activity reconciliation as they land
	unsubData := ctrl.SubscribeDataUpdated(func(upd core.DataUpdate) {
		dist := upd.Snapshot.VerdictDistribution
		logger.Info("Analytics snapshot updated",
			zap.String("time_range", upd.TimeRange),
			zap.Int("safe", dist.Safe),
			zap.Int("suspicious", dist.Suspicious),
			zap.Int("phishing", dist.Phishing),
			zap.Time("fetched_at", upd.Snapshot.FetchedAt))
	})
	defer unsubData()

	unsubScan := ctrl.SubscribeScanCompleted(func(rec core.ScanRecord) {
		logger.Info("Observed completed scan",
			zap.String("client_ref", rec.ClientRef),
			zap.String("verdict", string(rec.Verdict)),
			zap.String("sender", rec.Sender))
	})
	defer unsubScan()

	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		if _, err := ctrl.GetAnalytics(ctx, timeRange); err != nil {
			logger.Warn("Analytics refresh failed", zap.Error(err))
		}
		if _, err := ctrl.RefreshActivity(ctx); err != nil {
			logger.Warn("Activity refresh failed", zap.Error(err))
		}
	}

	logger.Info("Starting scan monitor",
		zap.String("time_range", timeRange),
		zap.Duration("poll_interval", pollInterval))
	refresh()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			refresh()
		case <-sigCh:
			logger.Info("Shutting down...")
			ctrl.Stop()

			// Close the session store if it holds resources
			if closer, ok := flagStore.(interface{ Close() error }); ok {
				if err := closer.Close(); err != nil {
					logger.Error("Failed to close session store", zap.Error(err))
				}
			}

			logger.Info("Shutdown complete")
			return nil
		}
	}
}
