package strategy

import (
	"errors"
	"testing"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/config"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

func TestFromConfig(t *testing.T) {
	t.Parallel()

	ec := config.EntityConfig{
		Name:        "location",
		Table:       "tbl_locations",
		IDColumn:    "location_id",
		LabelColumn: "location_name",
		Filters:     map[string][]int{"location_type_ids": {1, 14}},
		Properties: []config.PropertyConfig{
			{ID: "location_type", Name: "Location type", Type: "number", Column: "location_type_id"},
		},
	}
	d, err := FromConfig(ec)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if d.DisplayName != "location" {
		t.Errorf("missing display name should default, got %q", d.DisplayName)
	}
	if d.Relation.FilterColumn != "location_type_id" {
		t.Errorf("filter column = %q", d.Relation.FilterColumn)
	}
	if len(d.Relation.FilterIDs) != 2 {
		t.Errorf("filter ids = %v", d.Relation.FilterIDs)
	}
	if p, ok := d.Property("location_type"); !ok || !p.IsPreFilter() {
		t.Errorf("location_type should be a pre-filter property: %+v", p)
	}
}

func TestFromConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ec   config.EntityConfig
	}{
		{"missing table", config.EntityConfig{Name: "x", IDColumn: "id", LabelColumn: "l"}},
		{"missing id column", config.EntityConfig{Name: "x", Table: "t", LabelColumn: "l"}},
		{
			"bad property type",
			config.EntityConfig{
				Name: "x", Table: "t", IDColumn: "id", LabelColumn: "l",
				Properties: []config.PropertyConfig{{ID: "p", Type: "blob"}},
			},
		},
		{
			"duplicate property",
			config.EntityConfig{
				Name: "x", Table: "t", IDColumn: "id", LabelColumn: "l",
				Properties: []config.PropertyConfig{
					{ID: "p", Type: "string"},
					{ID: "p", Type: "string"},
				},
			},
		},
	}
	for _, tc := range tests {
		if _, err := FromConfig(tc.ec); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestBuiltin_AllValid(t *testing.T) {
	t.Parallel()

	for _, d := range Builtin() {
		if err := d.Validate(); err != nil {
			t.Errorf("builtin %s: %v", d.Name, err)
		}
	}
	for _, d := range []Descriptor{SpeciesDescriptor(), GenusDescriptor()} {
		if err := d.Validate(); err != nil {
			t.Errorf("taxa descriptor %s: %v", d.Name, err)
		}
	}
}

func TestFilterColumn(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"location_type_ids", "location_type_id"},
		{"genus_ids", "genus_id"},
		{"region", "region"},
	}
	for _, tc := range tests {
		if got := filterColumn(tc.in); got != tc.want {
			t.Errorf("filterColumn(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	h, err := NewHybrid(siteDescriptor(), &fakeStore{}, testTuning, testPrefix)
	if err != nil {
		t.Fatalf("NewHybrid() error = %v", err)
	}
	r.Register(h)
	r.Seal()

	got, err := r.Get("site")
	if err != nil || got.Name() != "site" {
		t.Errorf("Get(site) = %v, %v", got, err)
	}

	// Lookup is case-sensitive.
	if _, err := r.Get("Site"); !errors.Is(err, reconcile.ErrUnknownEntityType) {
		t.Errorf("Get(Site) error = %v, want ErrUnknownEntityType", err)
	}
	if _, err := r.Get("nope"); !errors.Is(err, reconcile.ErrUnknownEntityType) {
		t.Errorf("Get(nope) error = %v, want ErrUnknownEntityType", err)
	}

	if names := r.Names(); len(names) != 1 || names[0] != "site" {
		t.Errorf("Names() = %v", names)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("register after seal should panic")
		}
	}()
	r.Register(h)
}
