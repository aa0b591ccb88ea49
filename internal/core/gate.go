package core

import (
	"time"
)

// DefaultRecentScanWindow is how long after a scan the gate keeps forcing
// fresh fetches even when no refresh flag is visible yet.
const DefaultRecentScanWindow = 10 * time.Second

// BypassReason identifies which rule of the gate's precedence order fired.
// The caller uses it to clear exactly the flag it consumed.
type BypassReason int

const (
	BypassNone BypassReason = iota
	BypassForceImmediate
	BypassNeedsRefresh
	BypassRecentScan
)

func (r BypassReason) String() string {
	switch r {
	case BypassForceImmediate:
		return "force_immediate"
	case BypassNeedsRefresh:
		return "needs_refresh"
	case BypassRecentScan:
		return "recent_scan"
	default:
		return "none"
	}
}

// RefreshGate decides whether a consumer should serve cached data or issue
// a fresh fetch. It is pure: all inputs arrive as arguments.
type RefreshGate struct {
	recentWindow time.Duration
}

// NewRefreshGate creates a gate with the given recent-scan window. A
// non-positive window falls back to the default.
func NewRefreshGate(recentWindow time.Duration) *RefreshGate {
	if recentWindow <= 0 {
		recentWindow = DefaultRecentScanWindow
	}
	return &RefreshGate{recentWindow: recentWindow}
}

// ShouldBypassCache evaluates the refresh policy in precedence order and
// reports whether the cache must be bypassed, plus which rule decided. A
// caller acting on BypassForceImmediate or BypassNeedsRefresh must clear
// that flag so other consumers do not refresh again for the same trigger.
//
// The recent-scan rule exists for the window where a scan event has fired
// but the flag write from the producing code path has not landed yet; a
// consumer checking in that gap still bypasses.
func (g *RefreshGate) ShouldBypassCache(flags RefreshFlags, now time.Time) (bool, BypassReason) {
	switch {
	case flags.ForceImmediate:
		return true, BypassForceImmediate
	case flags.NeedsRefresh:
		return true, BypassNeedsRefresh
	case !flags.LastScanAt.IsZero() && now.Sub(flags.LastScanAt) < g.recentWindow:
		return true, BypassRecentScan
	default:
		return false, BypassNone
	}
}
