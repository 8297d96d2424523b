package main

import (
	"context"
	"crypto/sha1"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hydrostat/basinflow/services/api/cache"
	"github.com/hydrostat/basinflow/services/api/config"
	"github.com/hydrostat/basinflow/services/api/db"
)

// Observation CSVs arrive from several agencies with inconsistent headers,
// so column lookup goes through normalized names with fallbacks.
var (
	basinColumns    = []string{"basin_id", "basin", "station_id", "station"}
	datetimeColumns = []string{"datetime", "date", "datetime_utc", "timestamp", "ts"}
	valueColumns    = []string{"value", "val", "reading"}

	timestampLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
		"02/01/2006",
	}
)

type options struct {
	csvPath   string
	dataType  string
	batchSize int
	dryRun    bool
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var opts options
	flag.StringVar(&opts.dataType, "data-type", "", "data type name, overrides CSV column and filename inference")
	flag.IntVar(&opts.batchSize, "batch-size", 2000, "rows per upsert batch")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "parse and report without writing")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ingest [flags] <observations.csv>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	opts.csvPath = flag.Arg(0)

	if err := run(opts, logger); err != nil {
		logger.Fatal("ingest failed", zap.Error(err))
	}
}

func run(opts options, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer store.Close()

	source, err := fileSource(opts.csvPath)
	if err != nil {
		return fmt.Errorf("source tag: %w", err)
	}
	logger.Info("starting ingestion",
		zap.String("csv", opts.csvPath),
		zap.String("source", source),
		zap.Bool("dry_run", opts.dryRun))

	dataTypes, err := store.ListDataTypes(ctx)
	if err != nil {
		return fmt.Errorf("load data types: %w", err)
	}
	typesByName := make(map[string]db.DataType, len(dataTypes))
	for _, dt := range dataTypes {
		typesByName[strings.ToLower(dt.Name)] = dt
	}

	var cliType *db.DataType
	if opts.dataType != "" {
		dt, ok := typesByName[strings.ToLower(strings.TrimSpace(opts.dataType))]
		if !ok {
			return fmt.Errorf("data type not found: %s", opts.dataType)
		}
		cliType = &dt
		logger.Info("using data type from flag", zap.String("name", dt.Name), zap.Int64("id", dt.ID))
	}

	basinMap, err := store.BasinIDMap(ctx)
	if err != nil {
		return fmt.Errorf("load basin map: %w", err)
	}

	ing := &ingestion{
		store:     store,
		logger:    logger,
		opts:      opts,
		source:    source,
		types:     typesByName,
		cliType:   cliType,
		basinMap:  basinMap,
		basinPKs:  make(map[string]int64),
		typeNames: make(map[string]struct{}),
	}
	if err := ing.ingestFile(ctx); err != nil {
		return err
	}

	logger.Info("finished ingestion",
		zap.Int("total", ing.total),
		zap.Int("ingested", ing.ingested),
		zap.Int("skipped", ing.skipped))

	if opts.dryRun || ing.ingested == 0 {
		return nil
	}
	return invalidateCaches(ctx, cfg, store, ing, logger)
}

type ingestion struct {
	store   *db.Store
	logger  *zap.Logger
	opts    options
	source  string
	types   map[string]db.DataType
	cliType *db.DataType

	basinMap map[string]int64
	batch    []db.ObservationRow

	// affected basins (external id -> pk) and data type names, for invalidation
	basinPKs  map[string]int64
	typeNames map[string]struct{}

	total, ingested, skipped int
}

func (ing *ingestion) ingestFile(ctx context.Context) error {
	f, err := os.Open(ing.opts.csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeHeader(name)] = i
	}

	inferred := ""
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			ing.logger.Error("malformed csv row", zap.Int("row", ing.total+1), zap.Error(err))
			ing.total++
			ing.skipped++
			continue
		}
		ing.total++

		row, skipReason := ing.parseRecord(ctx, columns, record, &inferred)
		if skipReason != "" {
			ing.logger.Warn("skipping row", zap.Int("row", ing.total), zap.String("reason", skipReason))
			ing.skipped++
			continue
		}

		ing.batch = append(ing.batch, *row)
		if len(ing.batch) >= ing.opts.batchSize {
			if err := ing.flush(ctx); err != nil {
				return err
			}
			ing.logger.Info("progress", zap.Int("rows", ing.total))
		}
	}

	return ing.flush(ctx)
}

// parseRecord maps one CSV record to an ObservationRow, resolving the basin
// and data type and creating unseen basins. A non-empty reason means skip.
func (ing *ingestion) parseRecord(ctx context.Context, columns map[string]int, record []string, inferred *string) (*db.ObservationRow, string) {
	field := func(names []string) string {
		for _, name := range names {
			if idx, ok := columns[name]; ok && idx < len(record) {
				if v := strings.TrimSpace(record[idx]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	basinVal := field(basinColumns)
	if basinVal == "" {
		return nil, "missing basin id"
	}

	dt := ing.cliType
	if dt == nil {
		name := field([]string{"data_type", "type"})
		if name == "" {
			if *inferred == "" {
				*inferred = inferDataType(ing.opts.csvPath)
				if *inferred != "" {
					ing.logger.Info("inferred data type from filename", zap.String("name", *inferred))
				}
			}
			name = *inferred
		}
		if name == "" {
			return nil, "data type not provided and cannot infer"
		}
		resolved, ok := ing.types[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Sprintf("unknown data type %q", name)
		}
		dt = &resolved
	}

	tsRaw := field(datetimeColumns)
	if tsRaw == "" {
		return nil, "missing datetime"
	}
	ts, err := parseTimestamp(tsRaw)
	if err != nil {
		return nil, fmt.Sprintf("invalid datetime %q", tsRaw)
	}

	valRaw := field(valueColumns)
	if valRaw == "" {
		return nil, "missing value"
	}
	value, err := decimal.NewFromString(valRaw)
	if err != nil {
		return nil, fmt.Sprintf("non-numeric value %q", valRaw)
	}

	basinPK, ok := ing.basinMap[basinVal]
	if !ok {
		if ing.opts.dryRun {
			basinPK = -1
		} else {
			created, err := ing.store.GetOrCreateBasin(ctx, basinVal)
			if err != nil {
				return nil, fmt.Sprintf("create basin %q: %v", basinVal, err)
			}
			basinPK = created
			ing.logger.Info("created basin", zap.String("basin_id", basinVal), zap.Int64("id", basinPK))
		}
		ing.basinMap[basinVal] = basinPK
	}

	ing.basinPKs[basinVal] = basinPK
	ing.typeNames[dt.Name] = struct{}{}

	return &db.ObservationRow{
		BasinPK:    basinPK,
		DataTypePK: dt.ID,
		TS:         ts,
		Value:      value,
		Source:     ing.source,
	}, ""
}

func (ing *ingestion) flush(ctx context.Context) error {
	if len(ing.batch) == 0 {
		return nil
	}
	if !ing.opts.dryRun {
		if err := ing.store.UpsertObservations(ctx, ing.batch); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}
	ing.ingested += len(ing.batch)
	ing.batch = ing.batch[:0]
	return nil
}

// invalidateCaches drops stale cached query results for every basin and data
// type the file touched, including downstream basins whose upstream
// aggregates now include the new readings.
func invalidateCaches(ctx context.Context, cfg config.Config, store *db.Store, ing *ingestion, logger *zap.Logger) error {
	var cacheStore cache.Store
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, skipping cache invalidation", zap.Error(err))
			return nil
		}
		defer redisCache.Close()
		cacheStore = redisCache
	} else {
		logger.Info("REDIS_URL not set, nothing to invalidate")
		return nil
	}

	inv := cache.NewInvalidator(cacheStore, cfg.InvalidateDataTypes, logger)
	for basinID, basinPK := range ing.basinPKs {
		for typeName := range ing.typeNames {
			inv.InvalidateTimeseries(ctx, basinID, typeName)
		}
		inv.InvalidateDownstream(ctx, basinPK, store.DownstreamBasinIDs)
	}
	logger.Info("cache invalidation done",
		zap.Int("basins", len(ing.basinPKs)),
		zap.Int("data_types", len(ing.typeNames)))
	return nil
}

func normalizeHeader(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), ".", "_")
}

func inferDataType(csvPath string) string {
	fname := strings.ToLower(filepath.Base(csvPath))
	switch {
	case strings.Contains(fname, "temp"):
		return "Temperature"
	case strings.Contains(fname, "rain"), strings.Contains(fname, "precip"):
		return "Rainfall"
	default:
		return ""
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// fileSource builds a deterministic source tag for a CSV file so re-running
// the same file upserts instead of duplicating: filename::sha1(first 1MiB).
func fileSource(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.CopyN(h, f, 1<<20); err != nil && err != io.EOF {
		return "", err
	}
	sum := fmt.Sprintf("%x", h.Sum(nil))
	return fmt.Sprintf("%s::%s", filepath.Base(path), sum[:12]), nil
}
