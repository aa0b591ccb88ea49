package core

import (
	"context"
)

// BackendAPI defines the interface for fetching authoritative data from the
// scan backend. Implementations own transport concerns (timeouts, auth);
// the core only distinguishes success from ErrTransport.
type BackendAPI interface {
	// FetchAnalytics retrieves the analytics snapshot for a time range.
	FetchAnalytics(ctx context.Context, timeRange string) (*AnalyticsSnapshot, error)

	// FetchScanHistory retrieves one page of the authoritative scan list,
	// newest first.
	FetchScanHistory(ctx context.Context, timeRange string, page, limit int) ([]ScanRecord, *Pagination, error)
}

// SnapshotCache defines the interface for the TTL-bounded analytics cache.
type SnapshotCache interface {
	// Get returns a live entry, evicting it if the TTL has lapsed.
	Get(key string) (*AnalyticsSnapshot, bool)

	// GetStale returns a live entry or, failing that, the last expired
	// value for the key. Used only for display continuity on fetch failure.
	GetStale(key string) (*AnalyticsSnapshot, bool)

	// Set stores a snapshot, replacing any prior entry for the key.
	Set(key string, snap *AnalyticsSnapshot)

	// Invalidate removes the entry unconditionally.
	Invalidate(key string)

	// ClearAll removes every entry; used on sign-out.
	ClearAll()
}

// FlagStore defines the interface for persisting refresh flags across
// consumer remounts within a session. Implementations log their own
// failures; flag persistence is best-effort.
type FlagStore interface {
	// Get retrieves a stored value for a key.
	Get(key string) (string, bool)

	// Set stores a value for a key.
	Set(key, value string)

	// Delete removes a key.
	Delete(key string)

	// Clear removes every key; used on sign-in and sign-out.
	Clear()
}
