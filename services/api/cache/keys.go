package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Keys longer than this are replaced by a hashed form so the cache never
// stores unbounded key material.
const maxKeyLen = 200

// TimeseriesKey derives the cache key for a timeseries response. Missing
// bounds collapse to the literal "auto"; present bounds are normalized to
// whole-second ISO form so equivalent spellings share a key.
//
// Example: timeseries:DOWN-01:Rainfall:hourly:2026-02-21T05:00:00:2026-02-22T05:00:00
func TimeseriesKey(basinID, dataType, resolution, start, end string) string {
	key := fmt.Sprintf("timeseries:%s:%s:%s:%s:%s",
		basinID, dataType, resolution, normalizeBound(start), normalizeBound(end))
	return boundKey("timeseries", key)
}

// UpstreamKey derives the cache key for an upstream-aggregate response. The
// window literal goes in as-is; the entry represents the rolling window and
// is refreshed by TTL, not by timestamp precision.
func UpstreamKey(basinID, dataType, window string, depth int) string {
	key := fmt.Sprintf("upstream_agg:%s:%s:%s:d%d", basinID, dataType, window, depth)
	return boundKey("upstream_agg", key)
}

func normalizeBound(s string) string {
	if s == "" {
		return "auto"
	}
	s = strings.ReplaceAll(s, " ", "T")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return s
}

func boundKey(family, key string) string {
	if len(key) <= maxKeyLen {
		return key
	}
	sum := sha1.Sum([]byte(key))
	return fmt.Sprintf("%s:hash:%s", family, hex.EncodeToString(sum[:])[:16])
}
