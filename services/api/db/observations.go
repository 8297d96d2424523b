package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is a single sensor reading for a basin.
type Observation struct {
	ID        int64           `json:"id"`
	BasinID   string          `json:"basin_id"`
	DataType  string          `json:"data_type"`
	Timestamp time.Time       `json:"datetime"`
	Value     decimal.Decimal `json:"value"`
	Source    string          `json:"source"`
}

// Point is one timestamped value in an aggregated or raw series.
type Point struct {
	TS    time.Time
	Value decimal.Decimal
}

// Summary holds whole-window aggregates over raw values. Pointer fields are
// nil when no rows match.
type Summary struct {
	Count int64
	Sum   *decimal.Decimal
	Avg   *decimal.Decimal
	Min   *decimal.Decimal
	Max   *decimal.Decimal
}

// Sums are shipped through text to keep the values in fixed-point form; pgx
// would otherwise hand back floats for numeric aggregates scanned loosely.
const sumObservationsSQL = `
    SELECT COALESCE(SUM(value), 0)::text
    FROM basinflow.observations
    WHERE basin_id = ANY($1) AND data_type_id = $2 AND ts >= $3 AND ts < $4
`

// SumObservations returns the decimal sum of values for the basin set and
// data type within [start, end). Empty match yields zero, not an error.
func (s *Store) SumObservations(ctx context.Context, basinIDs []int64, dataTypeID int64, start, end time.Time) (decimal.Decimal, error) {
	if len(basinIDs) == 0 {
		return decimal.Zero, nil
	}

	var total string
	if err := s.pool.QueryRow(ctx, sumObservationsSQL, basinIDs, dataTypeID, start, end).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}

const countObservationsSQL = `
    SELECT COUNT(*)
    FROM basinflow.observations
    WHERE basin_id = $1 AND data_type_id = $2 AND ts >= $3 AND ts < $4
`

// CountObservations returns the number of matching rows in [start, end).
func (s *Store) CountObservations(ctx context.Context, basinID, dataTypeID int64, start, end time.Time) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, countObservationsSQL, basinID, dataTypeID, start, end).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

const rawObservationsSQL = `
    SELECT ts, value::text
    FROM basinflow.observations
    WHERE basin_id = $1 AND data_type_id = $2 AND ts >= $3 AND ts < $4
    ORDER BY ts
`

// RawObservations returns every matching point ordered by timestamp.
func (s *Store) RawObservations(ctx context.Context, basinID, dataTypeID int64, start, end time.Time) ([]Point, error) {
	rows, err := s.pool.Query(ctx, rawObservationsSQL, basinID, dataTypeID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]Point, 0)
	for rows.Next() {
		var ts time.Time
		var val string
		if err := rows.Scan(&ts, &val); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(val)
		if err != nil {
			return nil, err
		}
		points = append(points, Point{TS: ts, Value: value})
	}
	return points, rows.Err()
}

const bucketedSumSQL = `
    SELECT date_trunc($5, ts) AS period, SUM(value)::text
    FROM basinflow.observations
    WHERE basin_id = $1 AND data_type_id = $2 AND ts >= $3 AND ts < $4
    GROUP BY period
    ORDER BY period
`

const bucketedAvgSQL = `
    SELECT date_trunc($5, ts) AS period, AVG(value)::text
    FROM basinflow.observations
    WHERE basin_id = $1 AND data_type_id = $2 AND ts >= $3 AND ts < $4
    GROUP BY period
    ORDER BY period
`

// BucketedObservations aggregates points into hour or day buckets. bucket
// must be "hour" or "day"; useSum selects SUM over AVG per bucket.
func (s *Store) BucketedObservations(ctx context.Context, basinID, dataTypeID int64, start, end time.Time, bucket string, useSum bool) ([]Point, error) {
	sql := bucketedAvgSQL
	if useSum {
		sql = bucketedSumSQL
	}

	rows, err := s.pool.Query(ctx, sql, basinID, dataTypeID, start, end, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]Point, 0)
	for rows.Next() {
		var ts time.Time
		var val string
		if err := rows.Scan(&ts, &val); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(val)
		if err != nil {
			return nil, err
		}
		points = append(points, Point{TS: ts, Value: value})
	}
	return points, rows.Err()
}

const observationSummarySQL = `
    SELECT COUNT(*), SUM(value)::text, AVG(value)::text, MIN(value)::text, MAX(value)::text
    FROM basinflow.observations
    WHERE basin_id = $1 AND data_type_id = $2 AND ts >= $3 AND ts < $4
`

// ObservationSummary computes the whole-window summary over raw values.
func (s *Store) ObservationSummary(ctx context.Context, basinID, dataTypeID int64, start, end time.Time) (*Summary, error) {
	var sum Summary
	var sumStr, avgStr, minStr, maxStr *string
	if err := s.pool.QueryRow(ctx, observationSummarySQL, basinID, dataTypeID, start, end).
		Scan(&sum.Count, &sumStr, &avgStr, &minStr, &maxStr); err != nil {
		return nil, err
	}

	var err error
	if sum.Sum, err = parseNullDecimal(sumStr); err != nil {
		return nil, err
	}
	if sum.Avg, err = parseNullDecimal(avgStr); err != nil {
		return nil, err
	}
	if sum.Min, err = parseNullDecimal(minStr); err != nil {
		return nil, err
	}
	if sum.Max, err = parseNullDecimal(maxStr); err != nil {
		return nil, err
	}
	return &sum, nil
}

const recentObservationsSQL = `
    SELECT o.id, b.basin_id, d.name, o.ts, o.value::text, o.source
    FROM basinflow.observations o
    JOIN basinflow.basins b ON b.id = o.basin_id
    JOIN basinflow.data_types d ON d.id = o.data_type_id
    WHERE o.data_type_id = $1 AND o.ts >= $2
    ORDER BY o.ts
`

// RecentObservations lists observations of one data type since cutoff.
func (s *Store) RecentObservations(ctx context.Context, dataTypeID int64, cutoff time.Time) ([]Observation, error) {
	rows, err := s.pool.Query(ctx, recentObservationsSQL, dataTypeID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	obs := make([]Observation, 0)
	for rows.Next() {
		var o Observation
		var val string
		if err := rows.Scan(&o.ID, &o.BasinID, &o.DataType, &o.Timestamp, &val, &o.Source); err != nil {
			return nil, err
		}
		if o.Value, err = decimal.NewFromString(val); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func parseNullDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
