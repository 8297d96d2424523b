// Package aggregate composes graph traversal, windowed aggregation and the
// result cache into the query-facing service.
package aggregate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hydrostat/basinflow/services/api/cache"
	"github.com/hydrostat/basinflow/services/api/db"
	"github.com/hydrostat/basinflow/services/api/graph"
)

// DataStore is the slice of the database layer this service consumes.
type DataStore interface {
	GetBasin(ctx context.Context, basinID string) (*db.Basin, error)
	GetDataType(ctx context.Context, name string) (*db.DataType, error)
	FlowRelations(ctx context.Context) ([]db.FlowEdge, error)
	SumObservations(ctx context.Context, basinIDs []int64, dataTypeID int64, start, end time.Time) (decimal.Decimal, error)
	CountObservations(ctx context.Context, basinID, dataTypeID int64, start, end time.Time) (int64, error)
	RawObservations(ctx context.Context, basinID, dataTypeID int64, start, end time.Time) ([]db.Point, error)
	BucketedObservations(ctx context.Context, basinID, dataTypeID int64, start, end time.Time, bucket string, useSum bool) ([]db.Point, error)
	ObservationSummary(ctx context.Context, basinID, dataTypeID int64, start, end time.Time) (*db.Summary, error)
}

// Options tunes caching and resolution policy.
type Options struct {
	TimeseriesTTL   time.Duration
	UpstreamTTL     time.Duration
	HourlyThreshold int
	MaxRawPoints    int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service answers aggregation queries, consulting the cache before doing
// any traversal or scanning work.
type Service struct {
	store  DataStore
	cache  cache.Store
	opts   Options
	logger *zap.Logger
}

// New builds a Service. Zero option fields get the documented defaults.
func New(store DataStore, cacheStore cache.Store, opts Options, logger *zap.Logger) *Service {
	if opts.TimeseriesTTL <= 0 {
		opts.TimeseriesTTL = 300 * time.Second
	}
	if opts.UpstreamTTL <= 0 {
		opts.UpstreamTTL = 300 * time.Second
	}
	if opts.HourlyThreshold <= 0 {
		opts.HourlyThreshold = 2000
	}
	if opts.MaxRawPoints <= 0 {
		opts.MaxRawPoints = 5000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, cache: cacheStore, opts: opts, logger: logger}
}

// UpstreamAggregate is the payload for the upstream-aggregate endpoint.
// Totals are decimal strings so the fixed-point values survive JSON.
type UpstreamAggregate struct {
	BasinID       string `json:"basin_id"`
	DataType      string `json:"data_type"`
	WindowHours   int    `json:"window_hours"`
	BasinTotal    string `json:"basin_total"`
	UpstreamTotal string `json:"upstream_total"`
	UpstreamCount int    `json:"upstream_count"`
}

// UpstreamAggregate answers "what is this basin's own total, and the total
// contributed by everything upstream within depth hops, over the trailing
// window". Results are cached under the literal window/depth parameters.
func (s *Service) UpstreamAggregate(ctx context.Context, basinID, dataTypeName, window string, depth int) (*UpstreamAggregate, error) {
	if dataTypeName == "" {
		return nil, &ClientError{Detail: "data_type query param is required"}
	}
	hours, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if depth < 0 {
		return nil, &ClientError{Detail: "invalid depth"}
	}

	key := cache.UpstreamKey(basinID, dataTypeName, window, depth)
	if data, lookup := s.cache.Get(ctx, key); lookup == cache.Hit {
		var cached UpstreamAggregate
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	}

	basin, err := s.store.GetBasin(ctx, basinID)
	if err != nil {
		return nil, err
	}
	if basin == nil {
		return nil, &NotFoundError{Detail: "basin not found"}
	}

	dataType, err := s.store.GetDataType(ctx, dataTypeName)
	if err != nil {
		return nil, err
	}
	if dataType == nil {
		return nil, &ClientError{Detail: "data_type not found"}
	}

	end := s.opts.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	edges, err := s.store.FlowRelations(ctx)
	if err != nil {
		return nil, err
	}
	upstream := graph.Build(edges).Upstream(basin.ID, depth)

	basinTotal, err := s.store.SumObservations(ctx, []int64{basin.ID}, dataType.ID, start, end)
	if err != nil {
		return nil, err
	}

	upstreamTotal := decimal.Zero
	if len(upstream) > 0 {
		if upstreamTotal, err = s.store.SumObservations(ctx, upstream, dataType.ID, start, end); err != nil {
			return nil, err
		}
	}

	payload := &UpstreamAggregate{
		BasinID:       basin.BasinID,
		DataType:      dataType.Name,
		WindowHours:   hours,
		BasinTotal:    basinTotal.String(),
		UpstreamTotal: upstreamTotal.String(),
		UpstreamCount: len(upstream),
	}
	s.cache.Set(ctx, key, payload, s.opts.UpstreamTTL)
	return payload, nil
}

// TimeseriesQuery carries the raw request parameters for a timeseries.
type TimeseriesQuery struct {
	BasinID    string
	DataType   string
	Start      string
	End        string
	Resolution string
}

// TimeseriesPoint is one chart point. Y is a float for presentation; the
// underlying aggregation stays in fixed-point until this conversion.
type TimeseriesPoint struct {
	X string   `json:"x"`
	Y *float64 `json:"y"`
}

// TimeseriesSummary aggregates raw values across the whole window.
type TimeseriesSummary struct {
	Count int64    `json:"count"`
	Sum   *float64 `json:"sum"`
	Avg   *float64 `json:"avg"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
}

// TimeseriesResult is the payload for the timeseries endpoint.
type TimeseriesResult struct {
	OK         bool              `json:"ok"`
	DataCount  int64             `json:"data_count"`
	Resolution string            `json:"resolution"`
	Points     []TimeseriesPoint `json:"points"`
	Summary    TimeseriesSummary `json:"summary"`
}

// Timeseries returns the (possibly bucketed) series and summary for a basin,
// data type and time range. Resolution "auto" picks raw for small results
// and hourly beyond the threshold; explicit raw requests over the ceiling
// are refused with RawTooLargeError.
func (s *Service) Timeseries(ctx context.Context, q TimeseriesQuery) (*TimeseriesResult, error) {
	if q.BasinID == "" || q.DataType == "" {
		return nil, &ClientError{Detail: "basin_id and data_type required"}
	}

	resolution := strings.ToLower(q.Resolution)
	if resolution == "" {
		resolution = "auto"
	}
	switch resolution {
	case "auto", "raw", "hourly", "daily":
	default:
		return nil, &ClientError{Detail: "invalid resolution"}
	}

	// Bounds: both present and parseable, else the trailing 24 h window.
	var start, end time.Time
	var startLiteral, endLiteral string
	if sp, okS := parseBound(q.Start); okS {
		if ep, okE := parseBound(q.End); okE {
			start, end = sp, ep
			startLiteral, endLiteral = q.Start, q.End
		}
	}
	if end.IsZero() {
		end = s.opts.Now().UTC()
		start = end.Add(-24 * time.Hour)
		startLiteral, endLiteral = "", ""
	}

	key := cache.TimeseriesKey(q.BasinID, q.DataType, resolution, startLiteral, endLiteral)
	if data, lookup := s.cache.Get(ctx, key); lookup == cache.Hit {
		var cached TimeseriesResult
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	}

	basin, err := s.store.GetBasin(ctx, q.BasinID)
	if err != nil {
		return nil, err
	}
	dataType, err := s.store.GetDataType(ctx, q.DataType)
	if err != nil {
		return nil, err
	}
	// An unknown basin or data type matches no observations. The endpoint
	// behaves like a filter and answers with an empty ok payload, unlike
	// the upstream aggregate which 404s on an unknown basin.
	if basin == nil || dataType == nil {
		result := emptyTimeseriesResult(resolution)
		s.cache.Set(ctx, key, result, s.opts.TimeseriesTTL)
		return result, nil
	}

	count, err := s.store.CountObservations(ctx, basin.ID, dataType.ID, start, end)
	if err != nil {
		return nil, err
	}

	resolved := resolution
	if resolved == "auto" {
		if count > int64(s.opts.HourlyThreshold) {
			resolved = "hourly"
		} else {
			resolved = "raw"
		}
	}

	var points []db.Point
	switch resolved {
	case "raw":
		if count > int64(s.opts.MaxRawPoints) {
			return nil, &RawTooLargeError{Count: count, Ceiling: s.opts.MaxRawPoints}
		}
		if points, err = s.store.RawObservations(ctx, basin.ID, dataType.ID, start, end); err != nil {
			return nil, err
		}
	default:
		bucket := "hour"
		if resolved == "daily" {
			bucket = "day"
		}
		if points, err = s.store.BucketedObservations(ctx, basin.ID, dataType.ID, start, end, bucket, sumsByDefault(dataType)); err != nil {
			return nil, err
		}
	}

	summary, err := s.store.ObservationSummary(ctx, basin.ID, dataType.ID, start, end)
	if err != nil {
		return nil, err
	}

	result := &TimeseriesResult{
		OK:         true,
		DataCount:  count,
		Resolution: resolved,
		Points:     renderPoints(points),
		Summary: TimeseriesSummary{
			Count: summary.Count,
			Sum:   toFloat(summary.Sum),
			Avg:   toFloat(summary.Avg),
			Min:   toFloat(summary.Min),
			Max:   toFloat(summary.Max),
		},
	}
	s.cache.Set(ctx, key, result, s.opts.TimeseriesTTL)
	return result, nil
}

func emptyTimeseriesResult(resolution string) *TimeseriesResult {
	if resolution == "auto" {
		resolution = "raw"
	}
	return &TimeseriesResult{
		OK:         true,
		Resolution: resolution,
		Points:     []TimeseriesPoint{},
	}
}

// sumsByDefault decides the bucket aggregation function. The explicit
// per-type attribute wins; otherwise rainfall-like names sum and everything
// else averages.
func sumsByDefault(dt *db.DataType) bool {
	switch dt.Aggregation {
	case "sum":
		return true
	case "avg":
		return false
	}
	return strings.Contains(strings.ToLower(dt.Name), "rain")
}

func renderPoints(points []db.Point) []TimeseriesPoint {
	out := make([]TimeseriesPoint, 0, len(points))
	for _, p := range points {
		y := p.Value.InexactFloat64()
		out = append(out, TimeseriesPoint{X: p.TS.Format(time.RFC3339), Y: &y})
	}
	return out
}

func toFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
