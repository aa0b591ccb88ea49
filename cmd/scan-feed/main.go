package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mikey/mailscan-sync/internal/adapters/backend"
	"github.com/mikey/mailscan-sync/internal/adapters/cache"
	"github.com/mikey/mailscan-sync/internal/adapters/session"
	"github.com/mikey/mailscan-sync/internal/config"
	"github.com/mikey/mailscan-sync/internal/core"
	"github.com/mikey/mailscan-sync/internal/events"
	"github.com/mikey/mailscan-sync/internal/logging"
	"go.uber.org/zap"
)

var (
	// Backend flags
	backendURL = flag.String("backend-url", "http://localhost:5000", "Base URL of the scan backend")
	token      = flag.String("token", "", "Bearer token for the backend API")
	timeout    = flag.Duration("timeout", 15*time.Second, "Backend request timeout")

	// Feed flags
	timeRange = flag.String("time-range", "all", "Time range for the history fetch (7d, 30d, 90d, 1y, all)")
	capacity  = flag.Int("capacity", core.DefaultActivityCapacity, "Maximum entries in the activity feed")

	// Simulation flags
	simSubject = flag.String("simulate-subject", "", "Inject an optimistic scan record with this subject before fetching")
	simSender  = flag.String("simulate-sender", "", "Sender for the injected optimistic record")

	// Output flags
	verbose = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog = flag.Bool("json-log", false, "Output logs in JSON format")
)

func main() {
	flag.Parse()

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !core.ValidTimeRange(*timeRange) {
		logger.Fatal("Invalid time range", zap.String("time_range", *timeRange))
	}

	cfg := createConfigFromFlags()

	// Assemble the sync core by hand; a one-shot tool has no use for the
	// daemon's container.
	bus := events.NewBus(logger)
	snapCache := cache.NewMemoryCache[*core.AnalyticsSnapshot](logger, cache.DefaultTTL)
	flags := core.NewFlagState(session.NewMemoryStore(), logger)
	gate := core.NewRefreshGate(core.DefaultRecentScanWindow)
	api := backend.NewHTTPClient(
		cfg.GetString("backend.base_url"),
		cfg.GetString("backend.token"),
		*timeout,
		logger,
	)

	ctrl := core.NewSyncController(api, snapCache, flags, gate, bus, logger, core.ControllerConfig{
		ActivityCapacity: *capacity,
		// The one-shot flow calls RefreshActivity itself; keep the
		// deferred refetch out of the way until Stop cancels it.
		RefetchDelay:     time.Minute,
		FetchTimeout:     *timeout,
		HistoryTimeRange: *timeRange,
	})
	defer ctrl.Stop()

	// Optionally splice in a simulated just-completed scan so the feed
	// shows the optimistic entry ahead of the authoritative list.
	if *simSubject != "" {
		rec := ctrl.ReportScan(core.ScanRecord{
			Verdict:    core.VerdictSuspicious,
			Confidence: 0.5,
			Subject:    *simSubject,
			Sender:     *simSender,
		})
		logger.Info("Injected optimistic record", zap.String("client_ref", rec.ClientRef))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	feed, err := ctrl.RefreshActivity(ctx)
	if err != nil {
		logger.Warn("History fetch failed, showing local records only", zap.Error(err))
		feed = ctrl.RecentActivity()
	}

	fmt.Printf("\n=== Recent Activity (%s) ===\n", *timeRange)
	if len(feed) == 0 {
		fmt.Println("No scans recorded.")
		return
	}
	for i, rec := range feed {
		marker := " "
		if rec.Optimistic {
			marker = "*"
		}
		fmt.Printf("%2d %s [%s] %-10s %.2f  %s  from %s\n",
			i+1, marker, rec.Date.Format(time.RFC3339), rec.Verdict, rec.Confidence,
			rec.Subject, rec.Sender)
	}
	if hasOptimistic(feed) {
		fmt.Println("\n* pending server confirmation")
	}
}

func hasOptimistic(records []core.ScanRecord) bool {
	for _, rec := range records {
		if rec.Optimistic {
			return true
		}
	}
	return false
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("backend.base_url", *backendURL)
	v.Set("backend.token", *token)
	v.Set("backend.timeout", timeout.String())
	v.Set("activity.capacity", *capacity)
	v.Set("activity.time_range", *timeRange)

	return config.NewFromViper(v)
}
