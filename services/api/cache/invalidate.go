package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Windows and depths covered by enumerated invalidation. Entries outside
// these lists are not actively removed and heal via TTL.
var (
	invalidateWindows = []string{"24h", "48h", "168h"}
	invalidateDepths  = []int{1, 2}
)

// DownstreamLookup returns the external ids of basins currently downstream
// of the given basin. Injected so the ingestion pipeline decides how the
// relation graph is consulted.
type DownstreamLookup func(ctx context.Context, basinInternalID int64) ([]string, error)

// Invalidator removes cache entries made stale by observation writes. All
// of its work is best-effort hygiene: over-invalidation costs a recompute,
// under-invalidation is bounded by the entry TTL.
type Invalidator struct {
	cache     Store
	dataTypes []string
	logger    *zap.Logger
}

// NewInvalidator builds an Invalidator covering the given data type names.
func NewInvalidator(cache Store, dataTypes []string, logger *zap.Logger) *Invalidator {
	return &Invalidator{cache: cache, dataTypes: dataTypes, logger: logger}
}

// InvalidateTimeseries removes timeseries entries for a basin and data
// type by prefix scan. If scanning fails it falls back to deleting the
// enumerated common-window keys; custom ranges then expire via TTL only.
func (inv *Invalidator) InvalidateTimeseries(ctx context.Context, basinID, dataType string) {
	prefixes := []string{
		fmt.Sprintf("timeseries:%s:%s:", basinID, dataType),
		fmt.Sprintf("timeseries:%s:", basinID),
	}
	for _, prefix := range prefixes {
		if err := inv.cache.DeletePattern(ctx, prefix+"*"); err != nil {
			inv.logger.Warn("pattern invalidation failed, deleting common windows only",
				zap.String("prefix", prefix), zap.Error(err))
			inv.fallbackTimeseries(ctx, basinID, dataType)
			return
		}
	}
}

func (inv *Invalidator) fallbackTimeseries(ctx context.Context, basinID, dataType string) {
	keys := make([]string, 0, len(invalidateWindows))
	for _, window := range invalidateWindows {
		keys = append(keys, TimeseriesKey(basinID, dataType, window, "", ""))
	}
	inv.cache.Delete(ctx, keys...)
}

// InvalidateDownstream removes upstream-aggregate entries for every basin
// the changed basin flows into, over the enumerated window, depth and data
// type lists.
func (inv *Invalidator) InvalidateDownstream(ctx context.Context, basinInternalID int64, lookup DownstreamLookup) {
	downstream, err := lookup(ctx, basinInternalID)
	if err != nil {
		inv.logger.Warn("downstream lookup failed, relying on TTL expiry",
			zap.Int64("basin", basinInternalID), zap.Error(err))
		return
	}

	keys := make([]string, 0, len(downstream)*len(invalidateWindows)*len(invalidateDepths)*len(inv.dataTypes))
	for _, basinID := range downstream {
		for _, window := range invalidateWindows {
			for _, depth := range invalidateDepths {
				for _, dataType := range inv.dataTypes {
					keys = append(keys, UpstreamKey(basinID, dataType, window, depth))
				}
			}
		}
	}
	inv.cache.Delete(ctx, keys...)
}
