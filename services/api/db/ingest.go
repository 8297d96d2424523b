package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ObservationRow is a normalized observation ready for batch upsert.
type ObservationRow struct {
	BasinPK    int64
	DataTypePK int64
	TS         time.Time
	Value      decimal.Decimal
	Source     string
}

const basinIDMapSQL = `
    SELECT basin_id, id FROM basinflow.basins
`

// BasinIDMap loads the external-id to primary-key mapping for all basins.
func (s *Store) BasinIDMap(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, basinIDMapSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var id string
		var pk int64
		if err := rows.Scan(&id, &pk); err != nil {
			return nil, err
		}
		result[id] = pk
	}
	return result, rows.Err()
}

const createBasinSQL = `
    INSERT INTO basinflow.basins (basin_id, created_at, updated_at)
    VALUES ($1, NOW(), NOW())
    ON CONFLICT (basin_id) DO UPDATE SET updated_at = NOW()
    RETURNING id
`

// GetOrCreateBasin ensures a basin with the given external id exists and
// returns its primary key.
func (s *Store) GetOrCreateBasin(ctx context.Context, basinID string) (int64, error) {
	var pk int64
	if err := s.pool.QueryRow(ctx, createBasinSQL, basinID).Scan(&pk); err != nil {
		return 0, err
	}
	return pk, nil
}

const upsertObservationSQL = `
    INSERT INTO basinflow.observations (basin_id, data_type_id, ts, value, source, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
    ON CONFLICT (basin_id, data_type_id, ts, source) DO UPDATE
    SET value = EXCLUDED.value,
        updated_at = NOW()
`

// UpsertObservations writes a batch of observations, overwriting the value
// on (basin, data_type, ts, source) conflicts.
func (s *Store) UpsertObservations(ctx context.Context, rows []ObservationRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertObservationSQL, r.BasinPK, r.DataTypePK, r.TS, r.Value.String(), r.Source)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range rows {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}
