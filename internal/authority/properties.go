package authority

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MatchingIDs returns the subset of ids whose column equals value
// case-insensitively. Used by advisory property boosts after retrieval, so
// the id set is always small.
func (s *Store) MatchingIDs(ctx context.Context, rel Relation, column, value string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf(
		"SELECT t.%s FROM %s t WHERE t.%s = ANY($1) AND lower(t.%s::text) = lower($2)",
		rel.IDColumn, rel.Table, rel.IDColumn, column)

	rows, err := s.db.Query(ctx, sql, ids, value)
	if err != nil {
		return nil, fmt.Errorf("authority: matching ids %s.%s: %w", rel.Table, column, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (int64, error) {
		var id int64
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("authority: matching ids %s.%s: %w", rel.Table, column, err)
	}
	return out, nil
}

// Coordinate is a decimal-degree point fetched for proximity boosting.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Coordinates fetches the coordinates of the given rows. Rows with a NULL
// latitude or longitude are omitted from the result.
func (s *Store) Coordinates(ctx context.Context, rel Relation, latCol, lonCol string, ids []int64) (map[int64]Coordinate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf(
		"SELECT t.%s, t.%s::float8, t.%s::float8 FROM %s t WHERE t.%s = ANY($1) AND t.%s IS NOT NULL AND t.%s IS NOT NULL",
		rel.IDColumn, latCol, lonCol, rel.Table, rel.IDColumn, latCol, lonCol)

	rows, err := s.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("authority: coordinates %s: %w", rel.Table, err)
	}
	defer rows.Close()

	out := make(map[int64]Coordinate)
	for rows.Next() {
		var id int64
		var c Coordinate
		if err := rows.Scan(&id, &c.Lat, &c.Lon); err != nil {
			return nil, fmt.Errorf("authority: coordinates %s: %w", rel.Table, err)
		}
		out[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authority: coordinates %s: %w", rel.Table, err)
	}
	return out, nil
}
