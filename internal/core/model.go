package core

import (
	"errors"
	"time"
)

// Verdict is the classification assigned to a scanned email.
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictPhishing   Verdict = "phishing"
)

// ScanRecord represents a single email scan result. Server-originated
// records carry an ID; optimistic records synthesized on the client before
// the server confirms them do not.
type ScanRecord struct {
	ID         string
	Verdict    Verdict
	Confidence float64
	Subject    string
	Sender     string
	Date       time.Time
	Optimistic bool
	// ClientRef is a client-generated correlation id attached to optimistic
	// records so a scan can be traced through logs before the server
	// assigns it an ID.
	ClientRef string
}

// VerdictDistribution counts scans per verdict over a time range.
type VerdictDistribution struct {
	Safe       int `json:"safe"`
	Suspicious int `json:"suspicious"`
	Phishing   int `json:"phishing"`
}

// AccuracyMetrics summarizes model accuracy over a time range.
type AccuracyMetrics struct {
	CurrentAccuracy float64 `json:"currentAccuracy"`
	FalsePositives  float64 `json:"falsePositives"`
	FalseNegatives  float64 `json:"falseNegatives"`
}

// PhishingDomain is one entry of the top-offending-domains ranking.
type PhishingDomain struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// TimeSeriesPoint is one bucket of the scans-over-time series.
type TimeSeriesPoint struct {
	Date       string `json:"date"`
	Safe       int    `json:"safe"`
	Suspicious int    `json:"suspicious"`
	Phishing   int    `json:"phishing"`
}

// AnalyticsSnapshot is the full analytics payload for one time range. It is
// always replaced wholesale, never patched, which is what makes
// last-write-wins caching safe.
type AnalyticsSnapshot struct {
	TimeRange            string
	VerdictDistribution  VerdictDistribution
	LanguageDistribution map[string]int
	TopPhishingDomains   []PhishingDomain
	AccuracyMetrics      AccuracyMetrics
	ScansOverTime        []TimeSeriesPoint
	FetchedAt            time.Time
	// Stale is set when the snapshot is served past its TTL because a fresh
	// fetch failed. Consumers use it to label the data, not to reject it.
	Stale bool
}

// DataUpdate is the payload published on the bus when a fresh analytics
// snapshot lands in the cache.
type DataUpdate struct {
	TimeRange string
	Snapshot  *AnalyticsSnapshot
}

// Pagination mirrors the backend's paging envelope on scan history.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// RefreshFlags is the session-scoped refresh state consulted by the gate.
// A zero LastScanAt means no scan has been observed this session.
type RefreshFlags struct {
	NeedsRefresh   bool
	ForceImmediate bool
	LastScanAt     time.Time
}

// Time ranges accepted by the backend's analytics and history endpoints.
const (
	TimeRange7d  = "7d"
	TimeRange30d = "30d"
	TimeRange90d = "90d"
	TimeRange1y  = "1y"
	TimeRangeAll = "all"
)

var validTimeRanges = map[string]bool{
	TimeRange7d:  true,
	TimeRange30d: true,
	TimeRange90d: true,
	TimeRange1y:  true,
	TimeRangeAll: true,
}

// ValidTimeRange reports whether the backend accepts the given range token.
func ValidTimeRange(r string) bool {
	return validTimeRanges[r]
}

var (
	// ErrTransport indicates a backend fetch failed before producing a
	// usable response. The cache is never mutated on this error.
	ErrTransport = errors.New("backend transport failure")

	// ErrUnavailable indicates a fetch failed and no cached value, not even
	// a stale one, was available to serve instead.
	ErrUnavailable = errors.New("data unavailable")

	// ErrInvalidTimeRange indicates a time range token the backend would
	// reject.
	ErrInvalidTimeRange = errors.New("invalid time range")
)
