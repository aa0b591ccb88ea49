package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mikey/mailscan-sync/internal/adapters/cache"
	"github.com/mikey/mailscan-sync/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend is a scripted BackendAPI. Analytics responses are served
// from a queue, holding the last one once the queue drains.
type fakeBackend struct {
	mu             sync.Mutex
	analyticsQueue []*AnalyticsSnapshot
	analyticsErr   error
	historyRecords []ScanRecord
	historyErr     error
	analyticsCalls int
	historyCalls   int
}

func (f *fakeBackend) FetchAnalytics(_ context.Context, timeRange string) (*AnalyticsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyticsCalls++
	if f.analyticsErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, f.analyticsErr)
	}
	if len(f.analyticsQueue) == 0 {
		return &AnalyticsSnapshot{TimeRange: timeRange}, nil
	}
	snap := f.analyticsQueue[0]
	if len(f.analyticsQueue) > 1 {
		f.analyticsQueue = f.analyticsQueue[1:]
	}
	cp := *snap
	return &cp, nil
}

func (f *fakeBackend) FetchScanHistory(_ context.Context, _ string, _, _ int) ([]ScanRecord, *Pagination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.historyErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransport, f.historyErr)
	}
	records := append([]ScanRecord(nil), f.historyRecords...)
	return records, &Pagination{Page: 1, Limit: len(records), TotalCount: len(records), TotalPages: 1}, nil
}

func (f *fakeBackend) setAnalyticsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyticsErr = err
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyticsCalls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestController(t *testing.T, backend BackendAPI, ttl time.Duration) (*SyncController, *fakeClock) {
	t.Helper()

	logger := zap.NewNop()
	clk := &fakeClock{t: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)}

	ctrl := NewSyncController(
		backend,
		cache.NewMemoryCache[*AnalyticsSnapshot](logger, ttl),
		NewFlagState(nil, logger),
		NewRefreshGate(10*time.Second),
		events.NewBus(logger),
		logger,
		ControllerConfig{
			ActivityCapacity: 8,
			RefetchDelay:     time.Hour, // tests drive refetches themselves
			FetchTimeout:     time.Second,
			HistoryTimeRange: TimeRangeAll,
		},
	)
	ctrl.now = clk.Now
	t.Cleanup(ctrl.Stop)
	return ctrl, clk
}

func TestSyncController_CacheHitServesCachedSnapshot(t *testing.T) {
	backend := &fakeBackend{
		analyticsQueue: []*AnalyticsSnapshot{
			{TimeRange: TimeRange30d, VerdictDistribution: VerdictDistribution{Phishing: 3}},
		},
	}
	ctrl, _ := newTestController(t, backend, 5*time.Minute)

	first, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 3, first.VerdictDistribution.Phishing)

	second, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.calls())
}

func TestSyncController_ScanEventArmsFlagsSynchronously(t *testing.T) {
	// The most failure-prone window in the system: a consumer's gate check
	// running right after a scan completes. Flag writes happen inside the
	// publish, so by the time ReportScan returns the gate must bypass.
	ctrl, _ := newTestController(t, &fakeBackend{}, 5*time.Minute)

	ctrl.ReportScan(ScanRecord{Verdict: VerdictPhishing, Subject: "Urgent", Sender: "x@y.com"})

	flags := ctrl.flags.Snapshot()
	bypass, reason := ctrl.gate.ShouldBypassCache(flags, ctrl.now())
	assert.True(t, bypass)
	assert.Equal(t, BypassForceImmediate, reason)
}

func TestSyncController_ScanConsumesFlagsOnePerRefresh(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, clk := newTestController(t, backend, 5*time.Minute)

	// Prime the cache, then report a scan.
	_, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	ctrl.ReportScan(ScanRecord{Verdict: VerdictSafe, Subject: "a", Sender: "b@c.com"})

	// First refresh consumes force_immediate, second consumes
	// needs_refresh.
	_, err = ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.False(t, ctrl.flags.Snapshot().ForceImmediate)
	assert.True(t, ctrl.flags.Snapshot().NeedsRefresh)

	_, err = ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.False(t, ctrl.flags.Snapshot().NeedsRefresh)
	assert.Equal(t, 3, backend.calls())

	// Inside the recent-scan window the gate still bypasses.
	_, err = ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 4, backend.calls())

	// Past the window the cache takes over again.
	clk.Advance(30 * time.Second)
	_, err = ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 4, backend.calls())
}

func TestSyncController_TransportErrorServesStale(t *testing.T) {
	backend := &fakeBackend{
		analyticsQueue: []*AnalyticsSnapshot{
			{TimeRange: TimeRange7d, VerdictDistribution: VerdictDistribution{Safe: 9}},
		},
	}
	// A nanosecond TTL makes the primed entry expired by the next read.
	ctrl, _ := newTestController(t, backend, time.Nanosecond)

	primed, err := ctrl.GetAnalytics(context.Background(), TimeRange7d)
	require.NoError(t, err)
	require.False(t, primed.Stale)

	backend.setAnalyticsErr(errors.New("connection refused"))

	snap, err := ctrl.GetAnalytics(context.Background(), TimeRange7d)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Equal(t, 9, snap.VerdictDistribution.Safe)

	// The failed fetch never mutated the cache: recovery serves fresh data.
	backend.setAnalyticsErr(nil)
	snap, err = ctrl.GetAnalytics(context.Background(), TimeRange7d)
	require.NoError(t, err)
	assert.False(t, snap.Stale)
}

func TestSyncController_TransportErrorWithEmptyCache(t *testing.T) {
	backend := &fakeBackend{analyticsErr: errors.New("timeout")}
	ctrl, _ := newTestController(t, backend, 5*time.Minute)

	_, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSyncController_InvalidTimeRange(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeBackend{}, 5*time.Minute)

	_, err := ctrl.GetAnalytics(context.Background(), "14d")
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestSyncController_OptimisticActivityVisibleImmediately(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeBackend{}, 5*time.Minute)

	ctrl.ReportScan(ScanRecord{Verdict: VerdictPhishing, Subject: "Urgent", Sender: "x@y.com"})

	feed := ctrl.RecentActivity()
	require.Len(t, feed, 1)
	assert.True(t, feed[0].Optimistic)
	assert.NotEmpty(t, feed[0].ClientRef)
	assert.Empty(t, feed[0].ID)
}

func TestSyncController_RefreshActivityReconcilesOptimistic(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, clk := newTestController(t, backend, 5*time.Minute)

	rec := ctrl.ReportScan(ScanRecord{Verdict: VerdictPhishing, Subject: "Urgent", Sender: "x@y.com"})

	// The authoritative fetch returns the same scan with an id, a second
	// later but inside the same minute bucket.
	backend.mu.Lock()
	backend.historyRecords = []ScanRecord{{
		ID:      "42",
		Verdict: VerdictPhishing,
		Subject: "Urgent",
		Sender:  "x@y.com",
		Date:    rec.Date.Add(time.Second),
	}}
	backend.mu.Unlock()
	clk.Advance(2 * time.Second)

	feed, err := ctrl.RefreshActivity(context.Background())
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "42", feed[0].ID)

	// The optimistic record was retired, not just hidden by the merge.
	ctrl.mu.Lock()
	localLeft := len(ctrl.local)
	ctrl.mu.Unlock()
	assert.Zero(t, localLeft)
}

func TestSyncController_RefreshActivityKeepsUnconfirmedOptimistic(t *testing.T) {
	backend := &fakeBackend{
		historyRecords: []ScanRecord{
			{ID: "7", Verdict: VerdictSafe, Subject: "other", Sender: "a@b.com",
				Date: time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)},
		},
	}
	ctrl, _ := newTestController(t, backend, 5*time.Minute)

	ctrl.ReportScan(ScanRecord{Verdict: VerdictPhishing, Subject: "Urgent", Sender: "x@y.com"})

	feed, err := ctrl.RefreshActivity(context.Background())
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.True(t, feed[0].Optimistic)
	assert.Equal(t, "7", feed[1].ID)
}

func TestSyncController_RefreshActivityTransportError(t *testing.T) {
	backend := &fakeBackend{historyErr: errors.New("boom")}
	ctrl, _ := newTestController(t, backend, 5*time.Minute)

	ctrl.ReportScan(ScanRecord{Verdict: VerdictSafe, Subject: "a", Sender: "b@c.com"})

	_, err := ctrl.RefreshActivity(context.Background())
	assert.ErrorIs(t, err, ErrTransport)

	// The optimistic record survives the failed reconciliation.
	assert.Len(t, ctrl.RecentActivity(), 1)
}

func TestSyncController_LateFetchOverwritesWithOlderData(t *testing.T) {
	// A stale in-flight fetch that resolves after a newer one overwrites
	// the cache with older data for up to one TTL window. That is accepted
	// bounded staleness: cache values are full snapshots, so last write
	// wins is safe, just not always freshest.
	backend := &fakeBackend{
		analyticsQueue: []*AnalyticsSnapshot{
			{TimeRange: TimeRange30d, VerdictDistribution: VerdictDistribution{Phishing: 5}},
			{TimeRange: TimeRange30d, VerdictDistribution: VerdictDistribution{Phishing: 2}},
		},
	}
	ctrl, _ := newTestController(t, backend, 5*time.Minute)

	newer, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 5, newer.VerdictDistribution.Phishing)

	ctrl.ForceRefreshNow()
	older, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 2, older.VerdictDistribution.Phishing)

	// The older payload now serves from cache until TTL or invalidation.
	cached, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.VerdictDistribution.Phishing)
	assert.Equal(t, 2, backend.calls())
}

func TestSyncController_ForceRefreshConsumedByFirstConsumer(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend, 5*time.Minute)

	_, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)

	ctrl.ForceRefreshNow()

	_, err = ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls())

	// The second consumer falls through to the cache.
	_, err = ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls())
}

func TestSyncController_DataUpdatedPublishedOnFreshFetch(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeBackend{}, 5*time.Minute)

	var updates []DataUpdate
	unsub := ctrl.SubscribeDataUpdated(func(upd DataUpdate) {
		updates = append(updates, upd)
	})
	defer unsub()

	_, err := ctrl.GetAnalytics(context.Background(), TimeRange90d)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, TimeRange90d, updates[0].TimeRange)

	// A cache hit publishes nothing.
	_, err = ctrl.GetAnalytics(context.Background(), TimeRange90d)
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}

func TestSyncController_SignOutResetsSessionState(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend, 5*time.Minute)

	_, err := ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	ctrl.ReportScan(ScanRecord{Verdict: VerdictSafe, Subject: "a", Sender: "b@c.com"})

	ctrl.SignOut()

	assert.Empty(t, ctrl.RecentActivity())
	assert.Equal(t, RefreshFlags{}, ctrl.flags.Snapshot())

	// The cache was cleared, so the next read fetches.
	_, err = ctrl.GetAnalytics(context.Background(), TimeRange30d)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls())
}
