package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mikey/mailscan-sync/internal/utils"
)

// DefaultActivityCapacity bounds the recent-activity list.
const DefaultActivityCapacity = 8

// shapeKeyBucket is the rounding granularity applied to a record's
// timestamp when computing its content identity. An optimistic record and
// its later server-confirmed twin are recognized as the same scan only if
// both timestamps fall in the same bucket.
const shapeKeyBucket = time.Minute

// DedupKey returns the identity used to collapse duplicate records across
// optimistic and server-sourced lists. Records with a server id are keyed
// by it; records without one fall back to their shape key.
func DedupKey(r ScanRecord) string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	return ShapeKey(r)
}

// ShapeKey returns a record's content identity: normalized subject,
// normalized sender, and the minute its timestamp falls in.
//
// This is a deliberately lossy heuristic: two genuinely distinct scans of
// the same subject and sender within one minute share a shape key and
// collapse to a single visible entry until both carry server ids. Callers
// that want a different policy swap this function, not the merge.
func ShapeKey(r ScanRecord) string {
	return fmt.Sprintf("shape:%s|%s|%s",
		utils.NormalizeHeader(r.Subject),
		utils.NormalizeAddress(r.Sender),
		strconv.FormatInt(r.Date.Truncate(shapeKeyBucket).Unix(), 10))
}

// MergeActivity merges server-fetched records with locally-inserted
// optimistic records into one deduplicated, size-bounded list. The merge
// priority rule is explicit:
//
//   - On a dedup-key collision, the local record wins (local records are
//     considered first, so a just-completed scan stays visible before the
//     next server fetch lands).
//   - Exception: an id-less local record whose shape key matches a server
//     record that already carries an id is dropped in the server record's
//     favor. That is the optimistic record being confirmed, and the
//     authoritative copy replaces it.
//
// The result is a new list truncated to capacity; the inputs are never
// mutated.
func MergeActivity(server, local []ScanRecord, capacity int) []ScanRecord {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}

	// Shape keys already confirmed by an id-carrying server record.
	confirmed := make(map[string]struct{}, len(server))
	for _, rec := range server {
		if rec.ID != "" {
			confirmed[ShapeKey(rec)] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(server)+len(local))
	merged := make([]ScanRecord, 0, capacity)

	keep := func(rec ScanRecord) bool {
		key := DedupKey(rec)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		merged = append(merged, rec)
		return len(merged) < capacity
	}

	for _, rec := range local {
		if rec.ID == "" {
			if _, ok := confirmed[ShapeKey(rec)]; ok {
				continue
			}
		}
		if !keep(rec) {
			return merged
		}
	}
	for _, rec := range server {
		if !keep(rec) {
			return merged
		}
	}

	return merged
}
