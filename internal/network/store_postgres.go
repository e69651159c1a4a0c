package network

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/db"
	"github.com/sells-group/isochrone-cli/internal/resilience"
)

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE SCHEMA IF NOT EXISTS network;
CREATE TABLE IF NOT EXISTS network.edges (
	id         TEXT PRIMARY KEY,
	geom       geometry(LineString, 4326) NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_network_edges_geom ON network.edges USING GIST (geom);
`

var edgeColumns = []string{"id", "geom", "properties"}

// PostgresProvider loads network edges from the PostGIS table network.edges.
type PostgresProvider struct {
	pool       db.Pool
	snapRadius float64
	retry      resilience.Policy
}

// NewPostgresProvider creates a PostgresProvider. A non-positive snapRadius
// means DefaultSnapRadius.
func NewPostgresProvider(pool db.Pool, snapRadius float64) *PostgresProvider {
	if snapRadius <= 0 {
		snapRadius = DefaultSnapRadius
	}
	return &PostgresProvider{pool: pool, snapRadius: snapRadius, retry: resilience.Policy{Attempts: 1}}
}

// WithRetry makes Network retry edge queries that fail transiently.
func (p *PostgresProvider) WithRetry(policy resilience.Policy) *PostgresProvider {
	if policy.Operation == "" {
		policy.Operation = "network: query edges"
	}
	p.retry = policy
	return p
}

// Network selects the edges intersecting bbox and builds a graph from them.
func (p *PostgresProvider) Network(ctx context.Context, bbox BBox, source geom.Coord, mode Mode) (*Network, error) {
	t, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*Table, error) {
		return QueryPostgres(ctx, p.pool, bbox)
	})
	if err != nil {
		return nil, err
	}
	return assemble(t, source, mode, p.snapRadius), nil
}

// QueryPostgres returns the rows of network.edges whose geometry bbox
// overlaps bbox, ordered by id.
func QueryPostgres(ctx context.Context, pool db.Pool, bbox BBox) (*Table, error) {
	sql := `
		SELECT id, ST_AsEWKB(geom), properties
		FROM network.edges
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY id
	`
	rows, err := pool.Query(ctx, sql, bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat)
	if err != nil {
		return nil, eris.Wrap(err, "network: query edges")
	}
	defer rows.Close()

	t := &Table{}
	for rows.Next() {
		var (
			id    string
			raw   []byte
			props []byte
		)
		if err := rows.Scan(&id, &raw, &props); err != nil {
			return nil, eris.Wrap(err, "network: scan edge row")
		}
		edges, err := decodeEdge(id, raw, props, func(b []byte) (geom.T, error) { return ewkb.Unmarshal(b) })
		if err != nil {
			return nil, err
		}
		t.Edges = append(t.Edges, edges...)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "network: iterate edge rows")
	}
	return t, nil
}

// MigratePostgres creates the network schema and edges table.
func MigratePostgres(ctx context.Context, pool db.Pool) error {
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "network: migrate postgres")
	}
	return nil
}

// ImportPostgres writes t into network.edges. With upsert set, rows with an
// existing id are replaced; otherwise rows are appended with COPY.
func ImportPostgres(ctx context.Context, pool db.Pool, t *Table, upsert bool) (int64, error) {
	rows, err := edgeRows(t, func(g geom.T) ([]byte, error) {
		return ewkb.Marshal(flatten(g.(*geom.LineString)).SetSRID(4326), ewkb.NDR)
	})
	if err != nil {
		return 0, err
	}

	var n int64
	if upsert {
		n, err = db.BulkUpsert(ctx, pool, db.UpsertConfig{
			Schema:       "network",
			Table:        "edges",
			Columns:      edgeColumns,
			ConflictKeys: []string{"id"},
		}, rows)
	} else {
		n, err = db.CopyBatches(ctx, pool, "network", "edges", edgeColumns, rows, 0)
	}
	if err != nil {
		return n, eris.Wrap(err, "network: import postgres")
	}
	zap.L().Info("network: imported edges", zap.String("store", "postgres"), zap.Int64("rows", n))
	return n, nil
}

// edgeRows encodes t as [id, geometry, properties-json] rows.
func edgeRows(t *Table, encode func(geom.T) ([]byte, error)) ([][]any, error) {
	rows := make([][]any, 0, t.Len())
	for _, e := range t.Edges {
		if e.Geometry == nil {
			continue
		}
		g, err := encode(e.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "network: encode edge %s", e.ID)
		}
		props := e.Properties
		if props == nil {
			props = map[string]any{}
		}
		pj, err := json.Marshal(props)
		if err != nil {
			return nil, eris.Wrapf(err, "network: encode properties of edge %s", e.ID)
		}
		rows = append(rows, []any{e.ID, g, string(pj)})
	}
	return rows, nil
}

// decodeEdge turns one stored row into table rows. MultiLineStrings are
// split into one row per part.
func decodeEdge(id string, raw, props []byte, unmarshal func([]byte) (geom.T, error)) ([]Edge, error) {
	g, err := unmarshal(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "network: decode geometry of edge %s", id)
	}
	var properties map[string]any
	if len(props) > 0 {
		if err := json.Unmarshal(props, &properties); err != nil {
			return nil, eris.Wrapf(err, "network: decode properties of edge %s", id)
		}
	}

	switch v := g.(type) {
	case *geom.LineString:
		return []Edge{{ID: id, Geometry: v, Properties: properties}}, nil
	case *geom.MultiLineString:
		out := make([]Edge, 0, v.NumLineStrings())
		for i := 0; i < v.NumLineStrings(); i++ {
			out = append(out, Edge{ID: id + "-" + strconv.Itoa(i), Geometry: v.LineString(i), Properties: properties})
		}
		return out, nil
	default:
		zap.L().Debug("network: skipping non-linear edge geometry", zap.String("id", id))
		return nil, nil
	}
}

// CountPostgres returns the number of rows in network.edges.
func CountPostgres(ctx context.Context, pool db.Pool) (int64, error) {
	var n int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM network.edges`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "network: count edges")
	}
	return n, nil
}
