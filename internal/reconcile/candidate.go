// Package reconcile defines the core data model and scoring algebra of the
// reconciliation engine: queries, candidates, the hybrid blender that fuses
// the trigram and semantic retrieval channels, canonical entity URIs, and the
// typed error kinds shared across the service.
//
// The package is dependency-light on purpose — strategies, the database layer
// and the HTTP surface all consume these types, so nothing here may import
// them back.
package reconcile

import "context"

// Candidate is one scored authority row produced by retrieval.
//
// Blend is the single authoritative ranking score; TrgmSim and SemSim are the
// per-channel components kept for diagnostics and tests. All three lie in
// [0, 1]. Candidate lists are ordered by Blend descending with a stable Label
// ascending tie-break.
type Candidate struct {
	// ID is the authority row id, unique within an entity type.
	ID int64

	// Label is the canonical display label of the row.
	Label string

	// TrgmSim is the lexical (trigram) similarity, 0 when the row was not
	// returned by the lexical channel.
	TrgmSim float64

	// SemSim is the semantic (cosine) similarity, 0 when the row has no stored
	// embedding or the semantic channel was unavailable.
	SemSim float64

	// Blend is alpha*TrgmSim + (1-alpha)*SemSim.
	Blend float64

	// LLMConfidence is set by the optional rerank stage; nil when the stage is
	// disabled or was skipped.
	LLMConfidence *float64

	// Metadata carries per-entity extras: taxonomic hierarchy, uncertainty
	// qualifiers, matched-field tags. Nil when the strategy adds nothing.
	Metadata map[string]any
}

// ChannelHit is one row returned by a single retrieval channel, before
// blending.
type ChannelHit struct {
	ID    int64
	Label string
	Score float64
}

// Query is a single reconciliation sub-query.
type Query struct {
	// Text is the raw mention. Must be non-empty after trimming.
	Text string

	// EntityType selects the strategy; must be a registered name. Lookup is
	// case-sensitive.
	EntityType string

	// Limit caps the returned candidate list. Zero means the configured
	// default.
	Limit int

	// Properties are optional structured constraints, applied by the
	// property-filtered query layer.
	Properties []PropertyValue

	// Mode selects the matched column for entities with secondary-field
	// search (bibliographic references). Empty means the default label match.
	Mode string

	// LocationTypeIDs restricts location queries to the given location types.
	// Ignored by other strategies.
	LocationTypeIDs []int
}

// PropertyValue is one property constraint attached to a query.
type PropertyValue struct {
	// PID is the property identifier from the entity's property descriptors.
	PID string

	// Value is the constraint value: a string or a float64.
	Value any
}

// Property describes one reconciliation property of an entity type, surfaced
// verbatim through the properties listing.
type Property struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Preview is the structured preview of a single authority row.
type Preview struct {
	ID          int64
	EntityType  string
	Label       string
	Description string
	Extras      map[string]any
}

// EntityType describes one registered searchable category.
type EntityType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Strategy is the per-entity capability bundle. Implementations are owned by
// the registry for the lifetime of the process and must be safe for
// concurrent use.
type Strategy interface {
	// Name returns the unique short entity-type name (e.g. "site").
	Name() string

	// DisplayName returns the human-readable entity-type name.
	DisplayName() string

	// Search runs hybrid retrieval for q and returns scored candidates ordered
	// by (Blend desc, Label asc).
	Search(ctx context.Context, q Query) ([]Candidate, error)

	// GetByID fetches one authority row. Returns (nil, nil) when absent.
	GetByID(ctx context.Context, id int64) (*Candidate, error)

	// Properties lists the property descriptors of this entity type.
	Properties() []Property

	// CanonicalURI builds the canonical id URI for a row of this type.
	CanonicalURI(id int64) string

	// Preview renders the structured preview for a row. Returns (nil, nil)
	// when absent.
	Preview(ctx context.Context, id int64) (*Preview, error)

	// Suggest returns prefix-matched candidates for autocomplete, best first.
	Suggest(ctx context.Context, prefix string, limit int) ([]Candidate, error)
}
