package aggregate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hydrostat/basinflow/services/api/cache"
	"github.com/hydrostat/basinflow/services/api/db"
)

type fakeStore struct {
	basins map[string]*db.Basin
	types  map[string]*db.DataType
	edges  []db.FlowEdge

	// values per basin internal id; SumObservations adds them up.
	values map[int64]decimal.Decimal

	count    int64
	raw      []db.Point
	bucketed []db.Point
	summary  db.Summary

	calls map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		basins: make(map[string]*db.Basin),
		types:  make(map[string]*db.DataType),
		values: make(map[int64]decimal.Decimal),
		calls:  make(map[string]int),
	}
}

func (f *fakeStore) GetBasin(_ context.Context, basinID string) (*db.Basin, error) {
	f.calls["GetBasin"]++
	return f.basins[basinID], nil
}

func (f *fakeStore) GetDataType(_ context.Context, name string) (*db.DataType, error) {
	f.calls["GetDataType"]++
	for _, dt := range f.types {
		if strings.EqualFold(dt.Name, name) {
			return dt, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FlowRelations(context.Context) ([]db.FlowEdge, error) {
	f.calls["FlowRelations"]++
	return f.edges, nil
}

func (f *fakeStore) SumObservations(_ context.Context, basinIDs []int64, _ int64, _, _ time.Time) (decimal.Decimal, error) {
	f.calls["SumObservations"]++
	total := decimal.Zero
	for _, id := range basinIDs {
		total = total.Add(f.values[id])
	}
	return total, nil
}

func (f *fakeStore) CountObservations(context.Context, int64, int64, time.Time, time.Time) (int64, error) {
	f.calls["CountObservations"]++
	return f.count, nil
}

func (f *fakeStore) RawObservations(context.Context, int64, int64, time.Time, time.Time) ([]db.Point, error) {
	f.calls["RawObservations"]++
	return f.raw, nil
}

func (f *fakeStore) BucketedObservations(_ context.Context, _, _ int64, _, _ time.Time, bucket string, useSum bool) ([]db.Point, error) {
	f.calls["BucketedObservations"]++
	f.calls["bucket:"+bucket]++
	if useSum {
		f.calls["useSum"]++
	}
	return f.bucketed, nil
}

func (f *fakeStore) ObservationSummary(context.Context, int64, int64, time.Time, time.Time) (*db.Summary, error) {
	f.calls["ObservationSummary"]++
	s := f.summary
	return &s, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newService(store *fakeStore, c cache.Store) *Service {
	return New(store, c, Options{}, zap.NewNop())
}

func riverFixture() *fakeStore {
	store := newFakeStore()
	store.basins["UP-01"] = &db.Basin{ID: 1, BasinID: "UP-01"}
	store.basins["DOWN-01"] = &db.Basin{ID: 2, BasinID: "DOWN-01"}
	store.types["Rainfall"] = &db.DataType{ID: 10, Name: "Rainfall"}
	store.edges = []db.FlowEdge{{FromID: 1, ToID: 2}}
	store.values[1] = dec("15.5")
	return store
}

func TestUpstreamAggregateSingleHop(t *testing.T) {
	store := riverFixture()
	svc := newService(store, cache.NewMemory())

	got, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "Rainfall", "24h", 1)
	require.NoError(t, err)

	assert.Equal(t, "DOWN-01", got.BasinID)
	assert.Equal(t, "Rainfall", got.DataType)
	assert.Equal(t, 24, got.WindowHours)
	assert.Equal(t, "0", got.BasinTotal)
	assert.Equal(t, "15.5", got.UpstreamTotal)
	assert.Equal(t, 1, got.UpstreamCount)
}

func TestUpstreamAggregateDepthZero(t *testing.T) {
	store := riverFixture()
	svc := newService(store, cache.NewMemory())

	got, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "Rainfall", "24h", 0)
	require.NoError(t, err)

	assert.Equal(t, 0, got.UpstreamCount)
	assert.Equal(t, "0", got.UpstreamTotal)
}

func TestUpstreamAggregateEmptyWindowIsZero(t *testing.T) {
	store := riverFixture()
	store.values = map[int64]decimal.Decimal{}
	svc := newService(store, cache.NewMemory())

	got, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "Rainfall", "24h", 1)
	require.NoError(t, err)

	assert.Equal(t, "0", got.BasinTotal)
	assert.Equal(t, "0", got.UpstreamTotal)
}

func TestUpstreamAggregateCacheHitSkipsRecompute(t *testing.T) {
	store := riverFixture()
	mem := cache.NewMemory()
	svc := newService(store, mem)

	first, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "Rainfall", "24h", 1)
	require.NoError(t, err)
	traversals := store.calls["FlowRelations"]

	second, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "Rainfall", "24h", 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, traversals, store.calls["FlowRelations"])
}

func TestUpstreamAggregateValidation(t *testing.T) {
	store := riverFixture()
	svc := newService(store, cache.NewMemory())
	ctx := context.Background()

	var clientErr *ClientError
	_, err := svc.UpstreamAggregate(ctx, "DOWN-01", "", "24h", 1)
	require.ErrorAs(t, err, &clientErr)

	_, err = svc.UpstreamAggregate(ctx, "DOWN-01", "Rainfall", "1d", 1)
	require.ErrorAs(t, err, &clientErr)

	_, err = svc.UpstreamAggregate(ctx, "DOWN-01", "Rainfall", "24h", -1)
	require.ErrorAs(t, err, &clientErr)

	_, err = svc.UpstreamAggregate(ctx, "DOWN-01", "Snowfall", "24h", 1)
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "data_type not found", clientErr.Detail)

	var notFound *NotFoundError
	_, err = svc.UpstreamAggregate(ctx, "NOPE", "Rainfall", "24h", 1)
	require.ErrorAs(t, err, &notFound)
}

func TestUpstreamAggregateCaseInsensitiveDataType(t *testing.T) {
	store := riverFixture()
	svc := newService(store, cache.NewMemory())

	got, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "rainfall", "24h", 1)
	require.NoError(t, err)
	assert.Equal(t, "Rainfall", got.DataType)
}

func timeseriesFixture() *fakeStore {
	store := newFakeStore()
	store.basins["B-1"] = &db.Basin{ID: 1, BasinID: "B-1"}
	store.types["Rainfall"] = &db.DataType{ID: 10, Name: "Rainfall"}
	store.types["Temperature"] = &db.DataType{ID: 11, Name: "Temperature"}
	sum := dec("42.5")
	store.summary = db.Summary{Count: 3, Sum: &sum, Avg: &sum, Min: &sum, Max: &sum}
	return store
}

func TestTimeseriesAutoResolvesRaw(t *testing.T) {
	store := timeseriesFixture()
	store.count = 10
	store.raw = []db.Point{{TS: time.Now().UTC(), Value: dec("1.5")}}
	svc := newService(store, cache.NewMemory())

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall"})
	require.NoError(t, err)

	assert.True(t, got.OK)
	assert.Equal(t, "raw", got.Resolution)
	assert.Equal(t, int64(10), got.DataCount)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 1.5, *got.Points[0].Y)
}

func TestTimeseriesAutoResolvesHourlyOverThreshold(t *testing.T) {
	store := timeseriesFixture()
	store.count = 3000
	store.bucketed = []db.Point{{TS: time.Now().UTC(), Value: dec("7")}}
	svc := newService(store, cache.NewMemory())

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall", Resolution: "auto"})
	require.NoError(t, err)

	assert.Equal(t, "hourly", got.Resolution)
	assert.Equal(t, 1, store.calls["bucket:hour"])
	assert.Equal(t, 1, store.calls["useSum"], "rainfall buckets should sum")
	assert.Zero(t, store.calls["RawObservations"])
}

func TestTimeseriesExplicitRawOverCeiling(t *testing.T) {
	store := timeseriesFixture()
	store.count = 6000
	svc := newService(store, cache.NewMemory())

	_, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall", Resolution: "raw"})

	var tooLarge *RawTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(6000), tooLarge.Count)
	assert.Equal(t, 5000, tooLarge.Ceiling)
}

func TestTimeseriesDailyAveragesNonRain(t *testing.T) {
	store := timeseriesFixture()
	store.count = 50
	store.bucketed = []db.Point{{TS: time.Now().UTC(), Value: dec("21.3")}}
	svc := newService(store, cache.NewMemory())

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Temperature", Resolution: "daily"})
	require.NoError(t, err)

	assert.Equal(t, "daily", got.Resolution)
	assert.Equal(t, 1, store.calls["bucket:day"])
	assert.Zero(t, store.calls["useSum"], "temperature buckets should average")
}

func TestTimeseriesAggregationAttributeOverridesName(t *testing.T) {
	store := timeseriesFixture()
	store.count = 50
	store.types["Rainfall"].Aggregation = "avg"
	svc := newService(store, cache.NewMemory())

	_, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall", Resolution: "hourly"})
	require.NoError(t, err)

	assert.Zero(t, store.calls["useSum"])
}

func TestTimeseriesValidation(t *testing.T) {
	store := timeseriesFixture()
	svc := newService(store, cache.NewMemory())
	ctx := context.Background()

	var clientErr *ClientError
	_, err := svc.Timeseries(ctx, TimeseriesQuery{DataType: "Rainfall"})
	require.ErrorAs(t, err, &clientErr)

	_, err = svc.Timeseries(ctx, TimeseriesQuery{BasinID: "B-1"})
	require.ErrorAs(t, err, &clientErr)

	_, err = svc.Timeseries(ctx, TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall", Resolution: "weekly"})
	require.ErrorAs(t, err, &clientErr)
}

func TestTimeseriesUnparsableBoundsFallBackToLast24h(t *testing.T) {
	store := timeseriesFixture()
	store.count = 1
	svc := newService(store, cache.NewMemory())

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{
		BasinID:  "B-1",
		DataType: "Rainfall",
		Start:    "not-a-date",
		End:      "also-not",
	})
	require.NoError(t, err)
	assert.True(t, got.OK)
}

func TestTimeseriesCacheHit(t *testing.T) {
	store := timeseriesFixture()
	store.count = 5
	mem := cache.NewMemory()
	svc := newService(store, mem)
	q := TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall"}

	first, err := svc.Timeseries(context.Background(), q)
	require.NoError(t, err)
	counts := store.calls["CountObservations"]

	second, err := svc.Timeseries(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, counts, store.calls["CountObservations"])
}

func TestTimeseriesSummaryNullsWhenEmpty(t *testing.T) {
	store := timeseriesFixture()
	store.summary = db.Summary{Count: 0}
	svc := newService(store, cache.NewMemory())

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall"})
	require.NoError(t, err)

	assert.Zero(t, got.Summary.Count)
	assert.Nil(t, got.Summary.Sum)
	assert.Nil(t, got.Summary.Avg)
}

func TestTimeseriesUnknownBasinReturnsEmptyOK(t *testing.T) {
	store := timeseriesFixture()
	svc := newService(store, cache.NewMemory())

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "GHOST", DataType: "Rainfall"})
	require.NoError(t, err)

	assert.True(t, got.OK)
	assert.Zero(t, got.DataCount)
	assert.Equal(t, "raw", got.Resolution)
	assert.Empty(t, got.Points)
	assert.Nil(t, got.Summary.Sum)
	assert.Zero(t, store.calls["CountObservations"])
}

func TestTimeseriesUnknownDataTypeReturnsEmptyOK(t *testing.T) {
	store := timeseriesFixture()
	svc := newService(store, cache.NewMemory())

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Snowfall", Resolution: "hourly"})
	require.NoError(t, err)

	assert.True(t, got.OK)
	assert.Zero(t, got.DataCount)
	assert.Equal(t, "hourly", got.Resolution)
	assert.Empty(t, got.Points)
}

// unavailableCache simulates an unreachable backend: every lookup reports
// Unavailable and writes vanish.
type unavailableCache struct{}

func (unavailableCache) Get(context.Context, string) ([]byte, cache.Lookup) {
	return nil, cache.Unavailable
}
func (unavailableCache) Set(context.Context, string, any, time.Duration) {}
func (unavailableCache) Delete(context.Context, ...string)              {}
func (unavailableCache) DeletePattern(context.Context, string) error    { return nil }

func TestUpstreamAggregateRecomputesWhenCacheUnavailable(t *testing.T) {
	store := riverFixture()
	svc := newService(store, unavailableCache{})

	first, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "Rainfall", "24h", 1)
	require.NoError(t, err)
	assert.Equal(t, "15.5", first.UpstreamTotal)
	assert.Equal(t, 1, first.UpstreamCount)

	second, err := svc.UpstreamAggregate(context.Background(), "DOWN-01", "Rainfall", "24h", 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, store.calls["FlowRelations"], "nothing cached, every call recomputes")
}

func TestTimeseriesRecomputesWhenCacheUnavailable(t *testing.T) {
	store := timeseriesFixture()
	store.count = 5
	store.raw = []db.Point{{TS: time.Now().UTC(), Value: dec("3.25")}}
	svc := newService(store, unavailableCache{})

	got, err := svc.Timeseries(context.Background(), TimeseriesQuery{BasinID: "B-1", DataType: "Rainfall"})
	require.NoError(t, err)

	assert.True(t, got.OK)
	assert.Equal(t, int64(5), got.DataCount)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 3.25, *got.Points[0].Y)
}
