package network

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS edges (
	id         TEXT PRIMARY KEY,
	min_lng    REAL NOT NULL,
	min_lat    REAL NOT NULL,
	max_lng    REAL NOT NULL,
	max_lat    REAL NOT NULL,
	geom       BLOB NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_edges_bbox ON edges (min_lng, max_lng, min_lat, max_lat);
`

// SQLiteStore keeps network edges in a SQLite file as WKB blobs with
// bounding-box columns for window queries.
type SQLiteStore struct {
	db         *sql.DB
	snapRadius float64
}

// OpenSQLite opens (and migrates) the SQLite network store at dsn.
func OpenSQLite(dsn string, snapRadius float64) (*SQLiteStore, error) {
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "network: sqlite open")
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteMigration,
	} {
		if _, err := d.Exec(stmt); err != nil {
			_ = d.Close()
			return nil, eris.Wrap(err, "network: sqlite migrate")
		}
	}
	if snapRadius <= 0 {
		snapRadius = DefaultSnapRadius
	}
	return &SQLiteStore{db: d, snapRadius: snapRadius}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Network selects the edges whose bounds overlap bbox and builds a graph.
func (s *SQLiteStore) Network(ctx context.Context, bbox BBox, source geom.Coord, mode Mode) (*Network, error) {
	t, err := s.Query(ctx, bbox)
	if err != nil {
		return nil, err
	}
	return assemble(t, source, mode, s.snapRadius), nil
}

// Query returns the stored edges whose bounds overlap bbox, ordered by id.
func (s *SQLiteStore) Query(ctx context.Context, bbox BBox) (*Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, geom, properties FROM edges
		WHERE min_lng <= ? AND max_lng >= ? AND min_lat <= ? AND max_lat >= ?
		ORDER BY id`,
		bbox.MaxLng, bbox.MinLng, bbox.MaxLat, bbox.MinLat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "network: sqlite query edges")
	}
	defer func() { _ = rows.Close() }()

	t := &Table{}
	for rows.Next() {
		var (
			id    string
			raw   []byte
			props string
		)
		if err := rows.Scan(&id, &raw, &props); err != nil {
			return nil, eris.Wrap(err, "network: sqlite scan edge")
		}
		edges, err := decodeEdge(id, raw, []byte(props), func(b []byte) (geom.T, error) { return wkb.Unmarshal(b) })
		if err != nil {
			return nil, err
		}
		t.Edges = append(t.Edges, edges...)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "network: sqlite iterate edges")
	}
	return t, nil
}

// Import writes t into the store in one transaction, replacing rows that
// share an id.
func (s *SQLiteStore) Import(ctx context.Context, t *Table) (int64, error) {
	rows, err := edgeRows(t, func(g geom.T) ([]byte, error) {
		return wkb.Marshal(flatten(g.(*geom.LineString)), wkb.NDR)
	})
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "network: sqlite begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO edges (id, min_lng, min_lat, max_lng, max_lat, geom, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "network: sqlite prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	var n int64
	i := 0
	for _, e := range t.Edges {
		if e.Geometry == nil {
			continue
		}
		b := e.Bounds()
		row := rows[i]
		i++
		if _, err := stmt.ExecContext(ctx, row[0], b.MinLng, b.MinLat, b.MaxLng, b.MaxLat, row[1], row[2]); err != nil {
			return n, eris.Wrapf(err, "network: sqlite insert edge %s", e.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "network: sqlite commit")
	}
	zap.L().Info("network: imported edges", zap.String("store", "sqlite"), zap.Int64("rows", n))
	return n, nil
}

// Count returns the number of stored edges.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "network: sqlite count edges")
	}
	return n, nil
}
