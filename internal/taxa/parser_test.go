package taxa

import (
	"errors"
	"testing"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mention string
		want    Mention
	}{
		{
			name:    "bare genus",
			mention: "Acer",
			want:    Mention{Genus: "Acer", Rank: RankGenus},
		},
		{
			name:    "binomial",
			mention: "Acer platanoides",
			want:    Mention{Genus: "Acer", Species: "platanoides", Rank: RankSpecies},
		},
		{
			name:    "binomial with author",
			mention: "Acer platanoides L.",
			want:    Mention{Genus: "Acer", Species: "platanoides", Author: "L.", Rank: RankSpecies},
		},
		{
			name:    "multi-token author",
			mention: "Carabus nemoralis O.F. Müller",
			want:    Mention{Genus: "Carabus", Species: "nemoralis", Author: "O.F. Müller", Rank: RankSpecies},
		},
		{
			name:    "indeterminate sp.",
			mention: "Acer sp.",
			want:    Mention{Genus: "Acer", Rank: RankGenus, Indeterminate: true},
		},
		{
			name:    "indeterminate spp.",
			mention: "Carex spp.",
			want:    Mention{Genus: "Carex", Rank: RankGenus, Indeterminate: true},
		},
		{
			name:    "indeterminate indet.",
			mention: "Poaceae indet.",
			want:    Mention{Genus: "Poaceae", Rank: RankGenus, Indeterminate: true},
		},
		{
			name:    "cf qualifier between tokens",
			mention: "Quercus cf. robur",
			want:    Mention{Genus: "Quercus", Species: "robur", Rank: RankSpecies, Qualifier: "cf."},
		},
		{
			name:    "cf qualifier without period",
			mention: "Quercus cf robur",
			want:    Mention{Genus: "Quercus", Species: "robur", Rank: RankSpecies, Qualifier: "cf."},
		},
		{
			name:    "aff qualifier",
			mention: "Betula aff. nana",
			want:    Mention{Genus: "Betula", Species: "nana", Rank: RankSpecies, Qualifier: "aff."},
		},
		{
			name:    "question mark token",
			mention: "Pinus ? sylvestris",
			want:    Mention{Genus: "Pinus", Species: "sylvestris", Rank: RankSpecies, Qualifier: "?"},
		},
		{
			name:    "question mark attached",
			mention: "?Pinus sylvestris",
			want:    Mention{Genus: "Pinus", Species: "sylvestris", Rank: RankSpecies, Qualifier: "?"},
		},
		{
			name:    "split identification",
			mention: "Abies/Picea",
			want:    Mention{Genus: "Abies", Rank: RankGenus, Alternatives: []string{"Abies", "Picea"}},
		},
		{
			name:    "split with sp.",
			mention: "Abies/Picea sp.",
			want:    Mention{Genus: "Abies", Rank: RankGenus, Indeterminate: true, Alternatives: []string{"Abies", "Picea"}},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.mention)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.mention, err)
			}
			if got.Genus != tc.want.Genus || got.Species != tc.want.Species ||
				got.Author != tc.want.Author || got.Rank != tc.want.Rank ||
				got.Qualifier != tc.want.Qualifier || got.Indeterminate != tc.want.Indeterminate {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.mention, got, tc.want)
			}
			if len(got.Alternatives) != len(tc.want.Alternatives) {
				t.Errorf("Parse(%q) alternatives = %v, want %v", tc.mention, got.Alternatives, tc.want.Alternatives)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, mention := range []string{"", "   ", "sp.", "cf. sp.", "?"} {
		if _, err := Parse(mention); !errors.Is(err, reconcile.ErrInvalidQuery) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidQuery", mention, err)
		}
	}
}

func TestParse_MalformedSplit(t *testing.T) {
	t.Parallel()

	for _, mention := range []string{"Abies/", "/Picea", "Abies//Picea"} {
		if _, err := Parse(mention); !errors.Is(err, reconcile.ErrInvalidQuery) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidQuery", mention, err)
		}
	}
}

func TestMention_SearchText(t *testing.T) {
	t.Parallel()

	m := Mention{Genus: "Acer", Species: "platanoides", Rank: RankSpecies}
	if got := m.SearchText(); got != "Acer platanoides" {
		t.Errorf("SearchText() = %q", got)
	}
	m = Mention{Genus: "Acer", Rank: RankGenus}
	if got := m.SearchText(); got != "Acer" {
		t.Errorf("SearchText() = %q", got)
	}
}
