package strategy

import (
	"github.com/humlab-sead/sead-authority-service-sub000/internal/authority"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// Builtin returns the static descriptor catalog for the curated SEAD
// authority tables. Configuration entries with the same name override these
// wholesale.
//
// The taxon entity is absent here on purpose: taxa are routed through the
// orchestrator, which is built over the species and genus descriptors below.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			Name:        "site",
			DisplayName: "Site",
			Relation: authority.Relation{
				Table:       "tbl_sites",
				IDColumn:    "site_id",
				LabelColumn: "site_name",
			},
			SecondaryFields: map[string]string{
				"national_site_identifier": "national_site_identifier",
				"latitude":                 "latitude_dd",
				"longitude":                "longitude_dd",
				"description":              "site_description",
			},
			LatColumn: "latitude_dd",
			LonColumn: "longitude_dd",
			Properties: []PropertyDef{
				{
					Property:    reconcile.Property{ID: "national_site_identifier", Name: "National site identifier", Type: "string", Description: "Official national registry identifier"},
					Column:      "national_site_identifier",
					BoostWeight: 0.1,
				},
				{
					Property: reconcile.Property{ID: "latitude", Name: "Latitude", Type: "number", Description: "Decimal-degree latitude"},
					Column:   "latitude_dd",
					RadiusKM: 50,
				},
				{
					Property: reconcile.Property{ID: "longitude", Name: "Longitude", Type: "number", Description: "Decimal-degree longitude"},
					Column:   "longitude_dd",
					RadiusKM: 50,
				},
				{
					// Country lives in mv_site_countries, a view joining each
					// site to its resolved country name through the location
					// hierarchy. Keyed by site_id like the entity table.
					Property:    reconcile.Property{ID: "country", Name: "Country", Type: "string", Description: "Country the site lies in"},
					Column:      "country_name",
					Table:       "mv_site_countries",
					BoostWeight: 0.15,
				},
			},
		},
		{
			Name:        "location",
			DisplayName: "Location",
			Relation: authority.Relation{
				Table:       "tbl_locations",
				IDColumn:    "location_id",
				LabelColumn: "location_name",
			},
			SecondaryFields: map[string]string{
				"location_type_id": "location_type_id",
			},
			Properties: []PropertyDef{
				{
					Property: reconcile.Property{ID: "location_type", Name: "Location type", Type: "number", Description: "Restrict to one or more location type ids"},
					Column:   "location_type_id",
				},
			},
		},
		{
			Name:        "method",
			DisplayName: "Method",
			Relation: authority.Relation{
				Table:       "tbl_methods",
				IDColumn:    "method_id",
				LabelColumn: "method_name",
			},
			SecondaryFields: map[string]string{
				"abbreviation": "method_abbrev_or_alt_name",
				"description":  "description",
			},
		},
		{
			Name:        "feature_type",
			DisplayName: "Feature type",
			Relation: authority.Relation{
				Table:       "tbl_feature_types",
				IDColumn:    "feature_type_id",
				LabelColumn: "feature_type_name",
			},
			SecondaryFields: map[string]string{
				"description": "feature_type_description",
			},
		},
		{
			Name:        "bibliographic_reference",
			DisplayName: "Bibliographic reference",
			Relation: authority.Relation{
				Table:       "tbl_biblio",
				IDColumn:    "biblio_id",
				LabelColumn: "full_reference",
			},
			SecondaryFields: map[string]string{
				"title":          "title",
				"authors":        "authors",
				"year":           "year",
				"bugs_reference": "bugs_reference",
			},
		},
	}
}

// SpeciesDescriptor is the retrieval descriptor for species-level taxa. The
// label is the binomial name materialized alongside its normalized twin and
// embedding side table.
func SpeciesDescriptor() Descriptor {
	return Descriptor{
		Name:        "taxon_species",
		DisplayName: "Taxon (species)",
		Relation: authority.Relation{
			Table:       "mv_taxa_labels",
			IDColumn:    "taxon_id",
			LabelColumn: "taxon_label",
		},
		SecondaryFields: map[string]string{
			"genus_id": "genus_id",
			"author":   "author",
		},
		Properties: []PropertyDef{
			{
				Property: reconcile.Property{ID: "genus_id", Name: "Genus id", Type: "number", Description: "Restrict candidates to the given genus"},
				Column:   "genus_id",
			},
		},
	}
}

// GenusDescriptor is the retrieval descriptor for genus-level taxa.
func GenusDescriptor() Descriptor {
	return Descriptor{
		Name:        "taxon_genus",
		DisplayName: "Taxon (genus)",
		Relation: authority.Relation{
			Table:       "tbl_taxa_tree_genera",
			IDColumn:    "genus_id",
			LabelColumn: "genus_name",
		},
	}
}
