package authority

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TrgmOp selects the pg_trgm comparison function for the lexical channel.
type TrgmOp int

const (
	// OpSimilarity is whole-string trigram similarity, the default.
	OpSimilarity TrgmOp = iota
	// OpWordSimilarity matches the query against the best-matching word
	// subset of the target (pg_trgm word_similarity).
	OpWordSimilarity
	// OpStrictWordSimilarity matches against whole-word boundaries only.
	OpStrictWordSimilarity
)

func (op TrgmOp) sqlFunc() string {
	switch op {
	case OpWordSimilarity:
		return "word_similarity"
	case OpStrictWordSimilarity:
		return "strict_word_similarity"
	default:
		return "similarity"
	}
}

// TrigramParams tunes one lexical-channel query.
type TrigramParams struct {
	// Query is the already-normalized query text.
	Query string

	// Op selects the pg_trgm function. Zero value is plain similarity.
	Op TrgmOp

	// Threshold drops rows scoring below it, except exact normalized matches
	// which always pass with score 1.0.
	Threshold float64

	// Limit caps returned rows.
	Limit int
}

// TrigramSearch runs the lexical retrieval channel over rel. An exact match
// on the normalized column always scores 1.0 regardless of what pg_trgm
// reports; every other passing row is floored at 0.0001 so downstream
// blending never sees a zero lexical score for a returned hit.
func (s *Store) TrigramSearch(ctx context.Context, rel Relation, p TrigramParams) ([]Hit, error) {
	args := []any{p.Query, p.Threshold}
	extra := rel.whereExtra(&args)
	args = append(args, p.Limit)

	fn := p.Op.sqlFunc()
	norm := rel.normColumn()
	sql := fmt.Sprintf(`
SELECT t.%[1]s, t.%[2]s,
       CASE WHEN t.%[3]s = $1 THEN 1.0
            ELSE GREATEST(%[4]s(t.%[3]s, $1)::float8, 0.0001)
       END AS score
FROM %[5]s t
WHERE (t.%[3]s = $1 OR %[4]s(t.%[3]s, $1) >= $2)%[6]s
ORDER BY score DESC, t.%[2]s ASC
LIMIT $%[7]d`,
		rel.IDColumn, rel.LabelColumn, norm, fn, rel.Table, extra, len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("authority: trigram search %s: %w", rel.Table, err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Hit, error) {
		var h Hit
		err := row.Scan(&h.ID, &h.Label, &h.Score)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("authority: trigram search %s: %w", rel.Table, err)
	}
	return hits, nil
}
