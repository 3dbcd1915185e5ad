// Package authority implements read-only access to the curated authority
// tables: the trigram (pg_trgm) lexical channel, the pgvector semantic
// channel, row lookup, prefix suggestion, and the taxonomic hierarchy join.
//
// The package owns no schema. It expects, per searchable entity, an authority
// table carrying an integer id column, a label column and its normalized twin
// ("<label>_norm"), plus a side table "<table>_embeddings(<id>, embedding
// vector(N))" populated out of band. Rows without an embedding simply never
// appear in the semantic channel.
//
// All operations are plain reads; no transactions are taken and every query
// leases at most one pooled connection.
package authority

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store executes authority-table queries against a pgx connection pool or
// connection. It is stateless apart from the handle and safe for concurrent
// use.
type Store struct {
	db DB
}

// NewStore wraps an existing database handle. The caller keeps ownership of
// the handle's lifecycle.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// NewPool creates a pgx connection pool for the authority database at dsn and
// registers pgvector types on every new connection so vector columns can be
// bound and scanned directly.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("authority: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("authority: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("authority: ping: %w", err)
	}
	return pool, nil
}

// Hit is one row returned by a retrieval or lookup query.
type Hit struct {
	ID    int64
	Label string
	Score float64
}

// Relation identifies one authority table and its searchable columns.
// Strategies construct these from their descriptors; the store trusts the
// values (they originate from configuration validated at startup, never from
// request input — identifiers are interpolated into SQL).
type Relation struct {
	// Table is the authority table name, e.g. "tbl_sites".
	Table string

	// IDColumn is the integer primary id column.
	IDColumn string

	// LabelColumn is the display label column.
	LabelColumn string

	// NormColumn is the normalized label column. Defaults to
	// LabelColumn + "_norm" when empty.
	NormColumn string

	// FilterColumn and FilterIDs optionally restrict the candidate universe
	// before retrieval (e.g. location_type_id). Applied to both channels.
	FilterColumn string
	FilterIDs    []int

	// NullColumn, when set with NullFilter true, restricts rows to those where
	// the column IS NULL (NullFilter false: IS NOT NULL). Used by the
	// bibliographic view filter.
	NullColumn string
	NullFilter bool
	hasNull    bool
}

// WithNullFilter returns a copy of r restricted on column IS NULL (isNull
// true) or IS NOT NULL (isNull false).
func (r Relation) WithNullFilter(column string, isNull bool) Relation {
	r.NullColumn = column
	r.NullFilter = isNull
	r.hasNull = true
	return r
}

func (r Relation) normColumn() string {
	if r.NormColumn != "" {
		return r.NormColumn
	}
	return r.LabelColumn + "_norm"
}

// embeddingTable is the side relation holding the per-row vectors.
func (r Relation) embeddingTable() string {
	return r.Table + "_embeddings"
}

// whereExtra renders the optional pre-filter conditions, appending bind args
// to args. Returned fragments start with " AND ".
func (r Relation) whereExtra(args *[]any) string {
	cond := ""
	if r.FilterColumn != "" && len(r.FilterIDs) > 0 {
		*args = append(*args, r.FilterIDs)
		cond += fmt.Sprintf(" AND t.%s = ANY($%d)", r.FilterColumn, len(*args))
	}
	if r.hasNull && r.NullColumn != "" {
		if r.NullFilter {
			cond += fmt.Sprintf(" AND t.%s IS NULL", r.NullColumn)
		} else {
			cond += fmt.Sprintf(" AND t.%s IS NOT NULL", r.NullColumn)
		}
	}
	return cond
}
