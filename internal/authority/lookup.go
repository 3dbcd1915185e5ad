package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// Record is one authority row fetched by id: the display label plus any
// configured secondary fields keyed by their public field name.
type Record struct {
	ID     int64
	Label  string
	Fields map[string]any
}

// GetRow fetches a single row from rel by id. fields maps public field names
// to column names; matching columns are returned in Record.Fields with NULLs
// omitted. A missing row yields [reconcile.ErrNotFound].
func (s *Store) GetRow(ctx context.Context, rel Relation, id int64, fields map[string]string) (Record, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := []string{"t." + rel.IDColumn, "t." + rel.LabelColumn}
	for _, name := range names {
		cols = append(cols, "t."+fields[name])
	}

	sql := fmt.Sprintf("SELECT %s FROM %s t WHERE t.%s = $1",
		strings.Join(cols, ", "), rel.Table, rel.IDColumn)

	rec := Record{Fields: make(map[string]any, len(names))}
	dest := []any{&rec.ID, &rec.Label}
	extras := make([]any, len(names))
	for i := range extras {
		dest = append(dest, &extras[i])
	}

	err := s.db.QueryRow(ctx, sql, id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, reconcile.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("authority: get row %s/%d: %w", rel.Table, id, err)
	}
	for i, name := range names {
		if extras[i] != nil {
			rec.Fields[name] = extras[i]
		}
	}
	return rec, nil
}

// likeEscaper neutralizes LIKE metacharacters in user-supplied prefixes.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SuggestPrefix returns rows whose normalized label starts with the
// normalized prefix, ordered by label. Scores are whole-string trigram
// similarity against the prefix so short exact stems rank above long ones;
// callers may re-rank.
func (s *Store) SuggestPrefix(ctx context.Context, rel Relation, prefix string, limit int) ([]Hit, error) {
	args := []any{likeEscaper.Replace(prefix) + "%", prefix}
	extra := rel.whereExtra(&args)
	args = append(args, limit)

	norm := rel.normColumn()
	sql := fmt.Sprintf(`
SELECT t.%[1]s, t.%[2]s, similarity(t.%[3]s, $2)::float8 AS score
FROM %[4]s t
WHERE t.%[3]s LIKE $1%[5]s
ORDER BY score DESC, t.%[2]s ASC
LIMIT $%[6]d`,
		rel.IDColumn, rel.LabelColumn, norm, rel.Table, extra, len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("authority: suggest %s: %w", rel.Table, err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Hit, error) {
		var h Hit
		err := row.Scan(&h.ID, &h.Label, &h.Score)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("authority: suggest %s: %w", rel.Table, err)
	}
	return hits, nil
}

// Hierarchy is the taxonomic lineage of one taxon. Levels missing from the
// curated tree are empty strings.
type Hierarchy struct {
	Genus  string
	Family string
	Order  string
}

// TaxonHierarchy resolves the genus/family/order lineage for a taxon in a
// single join over the taxonomic tree tables. A taxon absent from the tree
// yields [reconcile.ErrNotFound].
func (s *Store) TaxonHierarchy(ctx context.Context, taxonID int64) (Hierarchy, error) {
	const sql = `
SELECT COALESCE(g.genus_name, ''), COALESCE(f.family_name, ''), COALESCE(o.order_name, '')
FROM tbl_taxa_tree_master m
LEFT JOIN tbl_taxa_tree_genera g ON g.genus_id = m.genus_id
LEFT JOIN tbl_taxa_tree_families f ON f.family_id = g.family_id
LEFT JOIN tbl_taxa_tree_orders o ON o.order_id = f.order_id
WHERE m.taxon_id = $1`

	var h Hierarchy
	err := s.db.QueryRow(ctx, sql, taxonID).Scan(&h.Genus, &h.Family, &h.Order)
	if errors.Is(err, pgx.ErrNoRows) {
		return Hierarchy{}, reconcile.ErrNotFound
	}
	if err != nil {
		return Hierarchy{}, fmt.Errorf("authority: taxon hierarchy %d: %w", taxonID, err)
	}
	return h, nil
}
