package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mailscan-sync/internal/events"
	"go.uber.org/zap"
)

// ControllerConfig carries the tunables the sync controller needs.
type ControllerConfig struct {
	// ActivityCapacity bounds the recent-activity list.
	ActivityCapacity int
	// RefetchDelay is how long after a scan the deferred authoritative
	// history refetch fires.
	RefetchDelay time.Duration
	// FetchTimeout bounds backend calls made from internally-scheduled
	// refetches (consumer-initiated calls carry their own context).
	FetchTimeout time.Duration
	// HistoryTimeRange is the range token used for activity refetches.
	HistoryTimeRange string
}

// SyncController wires the event bus, refresh gate, snapshot cache and
// activity merge together. It is what a dashboard-like consumer depends
// on; it contains no policy of its own beyond composing those parts.
type SyncController struct {
	backend BackendAPI
	cache   SnapshotCache
	flags   *FlagState
	gate    *RefreshGate
	bus     *events.Bus
	logger  *zap.Logger
	cfg     ControllerConfig
	now     func() time.Time

	mu         sync.Mutex
	local      []ScanRecord // optimistic records not yet server-confirmed
	lastServer []ScanRecord // most recent authoritative history page
	timers     []*time.Timer
	stopped    bool

	unsubScan func()
	unsubData func()
}

// NewSyncController creates the controller and registers its bus
// subscriptions.
func NewSyncController(
	backend BackendAPI,
	cache SnapshotCache,
	flags *FlagState,
	gate *RefreshGate,
	bus *events.Bus,
	logger *zap.Logger,
	cfg ControllerConfig,
) *SyncController {
	if cfg.ActivityCapacity <= 0 {
		cfg.ActivityCapacity = DefaultActivityCapacity
	}
	if cfg.HistoryTimeRange == "" {
		cfg.HistoryTimeRange = TimeRangeAll
	}

	s := &SyncController{
		backend: backend,
		cache:   cache,
		flags:   flags,
		gate:    gate,
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}

	s.unsubScan = bus.Subscribe(events.ScanCompleted, s.onScanCompleted)
	s.unsubData = bus.Subscribe(events.DataUpdated, s.onDataUpdated)

	return s
}

// ReportScan publishes a completed scan onto the bus. The record is marked
// optimistic and tagged with a client correlation id; flag writes and the
// activity splice happen synchronously inside the publish, so a consumer
// checking the gate right after ReportScan returns already sees the
// refresh flags armed.
func (s *SyncController) ReportScan(rec ScanRecord) ScanRecord {
	rec.Optimistic = true
	if rec.ClientRef == "" {
		rec.ClientRef = uuid.NewString()
	}
	if rec.Date.IsZero() {
		rec.Date = s.now()
	}

	s.logger.Info("Scan completed",
		zap.String("client_ref", rec.ClientRef),
		zap.String("verdict", string(rec.Verdict)),
		zap.String("sender", rec.Sender))

	s.bus.Publish(events.ScanCompleted, rec)
	return rec
}

func (s *SyncController) onScanCompleted(payload any) {
	rec, ok := payload.(ScanRecord)
	if !ok {
		s.logger.Error("Dropping scan event with unexpected payload type")
		return
	}

	s.flags.MarkScan(rec.Date)

	s.mu.Lock()
	s.local = append([]ScanRecord{rec}, s.local...)
	s.mu.Unlock()

	s.scheduleRefetch()
}

func (s *SyncController) onDataUpdated(payload any) {
	upd, ok := payload.(DataUpdate)
	if !ok || upd.Snapshot == nil {
		return
	}
	// Snapshots published by other producers land in the cache too; for
	// our own publishes this re-set is a harmless overwrite.
	s.cache.Set(analyticsKey(upd.TimeRange), upd.Snapshot)
}

// scheduleRefetch arms the deferred authoritative refetch that reconciles
// the optimistic activity list once the backend has had time to index the
// new scan.
func (s *SyncController) scheduleRefetch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	t := time.AfterFunc(s.cfg.RefetchDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
		defer cancel()
		if _, err := s.RefreshActivity(ctx); err != nil {
			s.logger.Warn("Deferred activity refetch failed", zap.Error(err))
		}
	})
	s.timers = append(s.timers, t)
}

// RecentActivity returns the current merged activity list: the latest
// authoritative page with any unconfirmed optimistic records spliced in
// front.
func (s *SyncController) RecentActivity() []ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MergeActivity(s.lastServer, s.local, s.cfg.ActivityCapacity)
}

// RefreshActivity fetches the authoritative scan history and reconciles it
// with the optimistic records. Optimistic records the server has confirmed
// (an id-carrying record with the same shape key) are retired; the rest
// stay spliced in until a later fetch or sign-out. On transport failure
// nothing is mutated and the error is returned.
func (s *SyncController) RefreshActivity(ctx context.Context) ([]ScanRecord, error) {
	records, _, err := s.backend.FetchScanHistory(ctx, s.cfg.HistoryTimeRange, 1, s.cfg.ActivityCapacity)
	if err != nil {
		return nil, fmt.Errorf("refreshing activity: %w", err)
	}

	s.mu.Lock()
	s.lastServer = records
	s.local = pruneConfirmed(s.local, records)
	merged := MergeActivity(s.lastServer, s.local, s.cfg.ActivityCapacity)
	s.mu.Unlock()

	s.logger.Debug("Reconciled activity list",
		zap.Int("server_records", len(records)),
		zap.Int("merged", len(merged)))
	return merged, nil
}

// pruneConfirmed drops optimistic records the server list now carries with
// an id assigned. Returns a new slice; the input is untouched.
func pruneConfirmed(local, server []ScanRecord) []ScanRecord {
	confirmed := make(map[string]struct{}, len(server))
	for _, rec := range server {
		if rec.ID != "" {
			confirmed[ShapeKey(rec)] = struct{}{}
		}
	}

	kept := make([]ScanRecord, 0, len(local))
	for _, rec := range local {
		if rec.ID == "" {
			if _, ok := confirmed[ShapeKey(rec)]; ok {
				continue
			}
		}
		kept = append(kept, rec)
	}
	return kept
}

// GetAnalytics returns the analytics snapshot for a time range, consulting
// the refresh gate and then the cache. A gate bypass consumes exactly the
// flag that triggered it so other consumers fall through to the cache for
// the same scan.
func (s *SyncController) GetAnalytics(ctx context.Context, timeRange string) (*AnalyticsSnapshot, error) {
	if !ValidTimeRange(timeRange) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeRange, timeRange)
	}
	key := analyticsKey(timeRange)

	bypass, reason := s.gate.ShouldBypassCache(s.flags.Snapshot(), s.now())
	if bypass {
		s.flags.Consume(reason)
		s.logger.Debug("Bypassing analytics cache",
			zap.String("time_range", timeRange),
			zap.Stringer("reason", reason))
		return s.fetchAnalytics(ctx, key, timeRange)
	}

	if snap, ok := s.cache.Get(key); ok {
		return snap, nil
	}
	return s.fetchAnalytics(ctx, key, timeRange)
}

// fetchAnalytics performs fetch-then-cache-then-publish. On transport
// failure the cache is left alone and the last known value, stale or not,
// is served with its Stale label set; with nothing cached at all the
// caller gets ErrUnavailable.
func (s *SyncController) fetchAnalytics(ctx context.Context, key, timeRange string) (*AnalyticsSnapshot, error) {
	snap, err := s.backend.FetchAnalytics(ctx, timeRange)
	if err != nil {
		if last, ok := s.cache.GetStale(key); ok {
			stale := *last
			stale.Stale = true
			s.logger.Warn("Serving stale analytics after fetch failure",
				zap.String("time_range", timeRange),
				zap.Time("fetched_at", last.FetchedAt),
				zap.Error(err))
			return &stale, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	snap.FetchedAt = s.now()
	s.cache.Set(key, snap)
	s.bus.Publish(events.DataUpdated, DataUpdate{TimeRange: timeRange, Snapshot: snap})
	return snap, nil
}

// ForceRefreshNow arms the immediate-refresh flag; the next consumer to
// ask the gate bypasses the cache once.
func (s *SyncController) ForceRefreshNow() {
	s.flags.Force()
}

// SignIn resets all session state at the start of a new authenticated
// session.
func (s *SyncController) SignIn() {
	s.resetSession()
}

// SignOut clears flags, caches and activity state.
func (s *SyncController) SignOut() {
	s.resetSession()
}

func (s *SyncController) resetSession() {
	s.flags.Clear()
	s.cache.ClearAll()
	s.mu.Lock()
	s.local = nil
	s.lastServer = nil
	s.mu.Unlock()
}

// SubscribeScanCompleted registers a typed handler for completed scans and
// returns its unsubscribe function.
func (s *SyncController) SubscribeScanCompleted(fn func(ScanRecord)) func() {
	return s.bus.Subscribe(events.ScanCompleted, func(payload any) {
		if rec, ok := payload.(ScanRecord); ok {
			fn(rec)
		}
	})
}

// SubscribeDataUpdated registers a typed handler for snapshot updates and
// returns its unsubscribe function.
func (s *SyncController) SubscribeDataUpdated(fn func(DataUpdate)) func() {
	return s.bus.Subscribe(events.DataUpdated, func(payload any) {
		if upd, ok := payload.(DataUpdate); ok {
			fn(upd)
		}
	})
}

// Stop deregisters the controller from the bus and cancels any pending
// deferred refetches.
func (s *SyncController) Stop() {
	s.mu.Lock()
	s.stopped = true
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	s.unsubScan()
	s.unsubData()
}

func analyticsKey(timeRange string) string {
	return "analytics:" + timeRange
}
