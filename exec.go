package bundata

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer runs a compiled statement and returns rows as column-name maps.
// The engine never inspects driver types; whatever the driver decodes is
// what flows into the response.
type Execer interface {
	Query(ctx context.Context, sql string, args []any) ([]map[string]any, error)
}

// PgxExecer is the production Execer over a pgx connection pool.
type PgxExecer struct {
	Pool *pgxpool.Pool
}

func (e *PgxExecer) Query(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	rows, err := e.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
