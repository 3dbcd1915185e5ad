// Package strategy implements the per-entity reconciliation strategies: the
// data-driven descriptors naming each entity's authority table and
// properties, the registry holding all strategies for the process lifetime,
// and the generic hybrid strategy that runs the trigram and semantic
// channels in parallel and blends their scores.
//
// Strategies differ by data, not code. A site, a sampling method and a
// feature type are all the same hybrid strategy instantiated over a
// different descriptor; only bibliographic references (mode-switched column
// matching) and taxa (the orchestrator package) carry extra behaviour.
package strategy

import (
	"fmt"
	"strings"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/authority"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/config"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// PropertyDef is one property of an entity type together with its backing
// semantics. Exactly one behaviour applies per property:
//
//   - RadiusKM > 0: coordinate proximity boost over Column (paired with the
//     companion lat/lon property).
//   - BoostWeight > 0 and Column set: advisory exact-match boost.
//   - Column set, no weight: structural pre-filter on Column.
//   - no Column: descriptive only, accepted and ignored.
type PropertyDef struct {
	reconcile.Property

	Column      string
	BoostWeight float64
	RadiusKM    float64

	// Table overrides the entity relation's table for match queries. Used
	// when the property column lives in a companion view keyed by the same
	// id column rather than in the entity table itself.
	Table string
}

// IsPreFilter reports whether the property restricts the candidate universe
// before retrieval rather than boosting after it.
func (p PropertyDef) IsPreFilter() bool {
	return p.Column != "" && p.BoostWeight == 0 && p.RadiusKM == 0
}

// Descriptor is the data defining one entity strategy.
type Descriptor struct {
	// Name is the unique entity-type id, matched case-sensitively.
	Name string

	// DisplayName is the human-readable name shown in type suggestions.
	DisplayName string

	// Relation names the authority table and its searchable columns,
	// including any static pre-filter.
	Relation authority.Relation

	// SecondaryFields maps public field names to columns fetched for
	// previews, and — for mode-switched entities — matched instead of the
	// label column.
	SecondaryFields map[string]string

	// Properties are the reconciliation properties this entity accepts.
	Properties []PropertyDef

	// LatColumn and LonColumn back coordinate proximity properties.
	LatColumn string
	LonColumn string
}

// Validate checks the descriptor is complete enough to build SQL from.
func (d Descriptor) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("strategy: descriptor missing name")
	case d.Relation.Table == "":
		return fmt.Errorf("strategy: %s: missing table", d.Name)
	case d.Relation.IDColumn == "":
		return fmt.Errorf("strategy: %s: missing id column", d.Name)
	case d.Relation.LabelColumn == "":
		return fmt.Errorf("strategy: %s: missing label column", d.Name)
	}
	seen := make(map[string]bool, len(d.Properties))
	for _, p := range d.Properties {
		if p.ID == "" {
			return fmt.Errorf("strategy: %s: property with empty id", d.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("strategy: %s: duplicate property %q", d.Name, p.ID)
		}
		seen[p.ID] = true
		switch p.Type {
		case "string", "number", "date":
		default:
			return fmt.Errorf("strategy: %s: property %q has unknown type %q", d.Name, p.ID, p.Type)
		}
	}
	return nil
}

// Property returns the definition of the given property id, or false.
func (d Descriptor) Property(pid string) (PropertyDef, bool) {
	for _, p := range d.Properties {
		if p.ID == pid {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// PublicProperties projects the descriptor's properties into the shape
// surfaced by the properties listing.
func (d Descriptor) PublicProperties() []reconcile.Property {
	out := make([]reconcile.Property, len(d.Properties))
	for i, p := range d.Properties {
		out[i] = p.Property
	}
	return out
}

// FromConfig builds a descriptor from a configuration entry. Filter entries
// named "<column>s" or "<column>_ids" become a static pre-filter on the
// matching column (only one static filter column is supported).
func FromConfig(ec config.EntityConfig) (Descriptor, error) {
	d := Descriptor{
		Name:        ec.Name,
		DisplayName: ec.DisplayName,
		Relation: authority.Relation{
			Table:       ec.Table,
			IDColumn:    ec.IDColumn,
			LabelColumn: ec.LabelColumn,
		},
		SecondaryFields: ec.SecondaryFields,
	}
	if d.DisplayName == "" {
		d.DisplayName = strings.ReplaceAll(ec.Name, "_", " ")
	}
	if len(ec.Filters) > 1 {
		return Descriptor{}, fmt.Errorf("strategy: %s: at most one static filter supported, got %d", ec.Name, len(ec.Filters))
	}
	for name, ids := range ec.Filters {
		d.Relation.FilterColumn = filterColumn(name)
		d.Relation.FilterIDs = ids
	}
	for _, pc := range ec.Properties {
		d.Properties = append(d.Properties, PropertyDef{
			Property: reconcile.Property{
				ID:          pc.ID,
				Name:        pc.Name,
				Type:        pc.Type,
				Description: pc.Description,
			},
			Column:      pc.Column,
			BoostWeight: pc.BoostWeight,
			RadiusKM:    pc.RadiusKM,
			Table:       pc.Table,
		})
		switch pc.ID {
		case "latitude":
			d.LatColumn = pc.Column
		case "longitude":
			d.LonColumn = pc.Column
		}
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// filterColumn maps a filter key to its column: "location_type_ids" filters
// on location_type_id, a plain name is used as-is.
func filterColumn(name string) string {
	if s, ok := strings.CutSuffix(name, "_ids"); ok {
		return s + "_id"
	}
	return name
}
