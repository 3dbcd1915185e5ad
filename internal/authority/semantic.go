package authority

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// SemanticParams tunes one semantic-channel query.
type SemanticParams struct {
	// Embedding is the query vector. Its dimension must match the side
	// table's vector column.
	Embedding []float32

	// Limit caps returned rows.
	Limit int
}

// SemanticSearch runs the semantic retrieval channel over rel: nearest
// neighbours by cosine distance against the "<table>_embeddings" side table.
// Scores are cosine similarity (1 - distance) clamped to [0, 1]; rows never
// embedded are invisible to this channel.
func (s *Store) SemanticSearch(ctx context.Context, rel Relation, p SemanticParams) ([]Hit, error) {
	args := []any{pgvector.NewVector(p.Embedding)}
	extra := rel.whereExtra(&args)
	args = append(args, p.Limit)

	sql := fmt.Sprintf(`
SELECT t.%[1]s, t.%[2]s,
       GREATEST(1 - (e.embedding <=> $1)::float8, 0) AS score
FROM %[3]s t
JOIN %[4]s e ON e.%[1]s = t.%[1]s
WHERE e.embedding IS NOT NULL%[5]s
ORDER BY e.embedding <=> $1 ASC, t.%[2]s ASC
LIMIT $%[6]d`,
		rel.IDColumn, rel.LabelColumn, rel.Table, rel.embeddingTable(), extra, len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("authority: semantic search %s: %w", rel.Table, err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Hit, error) {
		var h Hit
		err := row.Scan(&h.ID, &h.Label, &h.Score)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("authority: semantic search %s: %w", rel.Table, err)
	}
	return hits, nil
}
