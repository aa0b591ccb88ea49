package core

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Keys under which refresh flags are persisted in the session store.
const (
	flagKeyNeedsRefresh   = "refresh.needs_refresh"
	flagKeyForceImmediate = "refresh.force_immediate"
	flagKeyLastScanAt     = "refresh.last_scan_at"
)

// FlagState holds the session-scoped refresh flags. The in-process value is
// the source of truth; the FlagStore only keeps flags alive across consumer
// remounts within the same session. Flag writes are serialized by a mutex
// so a consume observed by one consumer is observed by all.
type FlagState struct {
	mu     sync.Mutex
	flags  RefreshFlags
	store  FlagStore
	logger *zap.Logger
}

// NewFlagState creates flag state backed by the given store, hydrating any
// flags a previous consumer persisted this session. store may be nil for a
// purely in-process state.
func NewFlagState(store FlagStore, logger *zap.Logger) *FlagState {
	fs := &FlagState{store: store, logger: logger}
	fs.hydrate()
	return fs
}

func (fs *FlagState) hydrate() {
	if fs.store == nil {
		return
	}
	if v, ok := fs.store.Get(flagKeyNeedsRefresh); ok {
		fs.flags.NeedsRefresh = v == "true"
	}
	if v, ok := fs.store.Get(flagKeyForceImmediate); ok {
		fs.flags.ForceImmediate = v == "true"
	}
	if v, ok := fs.store.Get(flagKeyLastScanAt); ok {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			fs.logger.Warn("Discarding unparseable persisted scan timestamp",
				zap.String("value", v), zap.Error(err))
		} else {
			fs.flags.LastScanAt = at
		}
	}
}

// MarkScan records that a scan completed at the given time, arming both
// refresh flags.
func (fs *FlagState) MarkScan(at time.Time) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.flags.NeedsRefresh = true
	fs.flags.ForceImmediate = true
	fs.flags.LastScanAt = at
	fs.persistLocked()
}

// Force arms the immediate-refresh flag without touching the scan
// timestamp; used by an explicit user refresh action.
func (fs *FlagState) Force() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.flags.ForceImmediate = true
	fs.persistLocked()
}

// Snapshot returns the current flags for a gate evaluation.
func (fs *FlagState) Snapshot() RefreshFlags {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.flags
}

// Consume clears the flag the given bypass reason consumed. Flags are
// write-once-read-many per refresh cycle: the first consumer to act clears
// the flag so others fall through to the cache.
func (fs *FlagState) Consume(reason BypassReason) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	switch reason {
	case BypassForceImmediate:
		fs.flags.ForceImmediate = false
	case BypassNeedsRefresh:
		fs.flags.NeedsRefresh = false
	default:
		return
	}
	fs.persistLocked()
}

// Clear wipes every flag; called at the start of a new authenticated
// session.
func (fs *FlagState) Clear() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.flags = RefreshFlags{}
	if fs.store != nil {
		fs.store.Clear()
	}
}

func (fs *FlagState) persistLocked() {
	if fs.store == nil {
		return
	}
	fs.store.Set(flagKeyNeedsRefresh, boolString(fs.flags.NeedsRefresh))
	fs.store.Set(flagKeyForceImmediate, boolString(fs.flags.ForceImmediate))
	if fs.flags.LastScanAt.IsZero() {
		fs.store.Delete(flagKeyLastScanAt)
	} else {
		fs.store.Set(flagKeyLastScanAt, fs.flags.LastScanAt.Format(time.RFC3339Nano))
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
