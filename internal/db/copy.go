package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of rows sent per COPY round trip.
const DefaultBatchSize = 10000

// CopyBatches bulk-inserts rows into schema.table with the COPY protocol,
// batchSize rows at a time (0 means DefaultBatchSize). It returns the number
// of rows written before any failure.
func CopyBatches(ctx context.Context, pool Pool, schema, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var total int64
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		n, err := pool.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, pgx.CopyFromRows(rows[start:end]))
		if err != nil {
			return total, eris.Wrapf(err, "db: COPY INTO %s.%s (rows %d-%d)", schema, table, start, end)
		}
		total += n
		zap.L().Debug("db: copied batch",
			zap.String("table", schema+"."+table),
			zap.Int("batch_start", start),
			zap.Int64("batch_rows", n),
		)
	}
	return total, nil
}
