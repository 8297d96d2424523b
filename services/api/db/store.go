package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Basin represents a monitored catchment area.
type Basin struct {
	ID        int64     `json:"id"`
	BasinID   string    `json:"basin_id"`
	Name      *string   `json:"name,omitempty"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const listBasinsSQL = `
    SELECT id, basin_id, name, metadata, created_at, updated_at
    FROM basinflow.basins
    ORDER BY basin_id
`

// ListBasins returns all basin records.
func (s *Store) ListBasins(ctx context.Context) ([]Basin, error) {
	rows, err := s.pool.Query(ctx, listBasinsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	basins := make([]Basin, 0)
	for rows.Next() {
		var b Basin
		if err := rows.Scan(&b.ID, &b.BasinID, &b.Name, &b.Metadata, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		basins = append(basins, b)
	}
	return basins, rows.Err()
}

const getBasinSQL = `
    SELECT id, basin_id, name, metadata, created_at, updated_at
    FROM basinflow.basins
    WHERE basin_id = $1
`

// GetBasin returns the basin with the given external identifier, or nil.
func (s *Store) GetBasin(ctx context.Context, basinID string) (*Basin, error) {
	rows, err := s.pool.Query(ctx, getBasinSQL, basinID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var b Basin
	if err := rows.Scan(&b.ID, &b.BasinID, &b.Name, &b.Metadata, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, rows.Err()
}

// DataType represents a measurement category.
type DataType struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	// Aggregation is "sum", "avg" or empty (infer from the name).
	Aggregation string `json:"aggregation,omitempty"`
}

const listDataTypesSQL = `
    SELECT id, name, description, aggregation
    FROM basinflow.data_types
    ORDER BY name
`

// ListDataTypes returns all data type records.
func (s *Store) ListDataTypes(ctx context.Context) ([]DataType, error) {
	rows, err := s.pool.Query(ctx, listDataTypesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make([]DataType, 0)
	for rows.Next() {
		var dt DataType
		if err := rows.Scan(&dt.ID, &dt.Name, &dt.Description, &dt.Aggregation); err != nil {
			return nil, err
		}
		types = append(types, dt)
	}
	return types, rows.Err()
}

const getDataTypeSQL = `
    SELECT id, name, description, aggregation
    FROM basinflow.data_types
    WHERE LOWER(name) = LOWER($1)
`

// GetDataType returns the data type matching name case-insensitively, or nil.
func (s *Store) GetDataType(ctx context.Context, name string) (*DataType, error) {
	rows, err := s.pool.Query(ctx, getDataTypeSQL, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var dt DataType
	if err := rows.Scan(&dt.ID, &dt.Name, &dt.Description, &dt.Aggregation); err != nil {
		return nil, err
	}
	return &dt, rows.Err()
}

// FlowEdge is a directed upstream_to_downstream relation between basins.
type FlowEdge struct {
	FromID int64
	ToID   int64
}

const flowRelationsSQL = `
    SELECT from_basin_id, to_basin_id
    FROM basinflow.basin_relations
    WHERE relation_type = 'upstream_to_downstream'
`

// FlowRelations returns every upstream_to_downstream edge. Other relation
// types do not participate in aggregation.
func (s *Store) FlowRelations(ctx context.Context) ([]FlowEdge, error) {
	rows, err := s.pool.Query(ctx, flowRelationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make([]FlowEdge, 0)
	for rows.Next() {
		var e FlowEdge
		if err := rows.Scan(&e.FromID, &e.ToID); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

const downstreamBasinIDsSQL = `
    SELECT b.basin_id
    FROM basinflow.basin_relations r
    JOIN basinflow.basins b ON b.id = r.to_basin_id
    WHERE r.from_basin_id = $1 AND r.relation_type = 'upstream_to_downstream'
    ORDER BY b.basin_id
`

// DownstreamBasinIDs returns the external identifiers of basins the given
// basin flows into. Used by the invalidation coordinator after ingestion.
func (s *Store) DownstreamBasinIDs(ctx context.Context, basinInternalID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, downstreamBasinIDsSQL, basinInternalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
