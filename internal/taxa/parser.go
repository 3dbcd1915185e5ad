// Package taxa implements the taxonomic reconciliation orchestrator: it
// parses biological mentions (qualifiers, indeterminate markers, split
// identifications), routes them to the species- or genus-level strategy,
// cascades species misses down to genus, and enriches matches with the
// taxonomic hierarchy.
package taxa

import (
	"fmt"
	"strings"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// Rank is the taxonomic level a mention was classified at.
type Rank string

const (
	RankGenus   Rank = "genus"
	RankSpecies Rank = "species"
)

// Uncertainty qualifiers damp match confidence; indeterminate markers pin a
// mention to genus level without damping.
var (
	uncertaintyQualifiers = map[string]string{
		"cf.":  "cf.",
		"cf":   "cf.",
		"aff.": "aff.",
		"aff":  "aff.",
		"?":    "?",
	}
	indeterminateMarkers = map[string]bool{
		"sp.":    true,
		"sp":     true,
		"spp.":   true,
		"spp":    true,
		"indet.": true,
		"indet":  true,
	}
)

// Mention is the parsed form of a taxonomic query string.
type Mention struct {
	// Genus is the genus token. For split identifications it is the first
	// alternative.
	Genus string

	// Species is the specific epithet, empty at genus level.
	Species string

	// Author is the trailing authority citation, e.g. "L." in
	// "Acer platanoides L.".
	Author string

	// Rank is the classified level.
	Rank Rank

	// Qualifier is the uncertainty qualifier ("cf.", "aff.", "?") or empty.
	Qualifier string

	// Indeterminate is set for genus-level mentions written with
	// sp./spp./indet.
	Indeterminate bool

	// Alternatives holds every genus of a split identification such as
	// "Abies/Picea", in written order. Empty for ordinary mentions.
	Alternatives []string
}

// SplitLabel renders the split identification as written, "A/B".
func (m Mention) SplitLabel() string {
	return strings.Join(m.Alternatives, "/")
}

// SearchText is the text submitted to the retrieval strategy for the
// mention's rank.
func (m Mention) SearchText() string {
	if m.Rank == RankSpecies {
		return m.Genus + " " + m.Species
	}
	return m.Genus
}

// Parse classifies a taxonomic mention. The mention keeps its original
// casing; normalization happens inside the retrieval strategies.
func Parse(mention string) (Mention, error) {
	var m Mention

	tokens := strings.Fields(mention)
	kept := tokens[:0]
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		if q, ok := uncertaintyQualifiers[lower]; ok {
			m.Qualifier = q
			continue
		}
		if strings.HasPrefix(tok, "?") {
			m.Qualifier = "?"
			if tok = strings.TrimPrefix(tok, "?"); tok == "" {
				continue
			}
		}
		if indeterminateMarkers[lower] {
			m.Indeterminate = true
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return Mention{}, fmt.Errorf("%w: no taxon name in %q", reconcile.ErrInvalidQuery, mention)
	}

	// A slash inside the genus token marks a split identification.
	if alts := strings.Split(kept[0], "/"); len(alts) > 1 {
		for _, a := range alts {
			if a == "" {
				return Mention{}, fmt.Errorf("%w: malformed split identification %q", reconcile.ErrInvalidQuery, kept[0])
			}
		}
		m.Alternatives = alts
		kept[0] = alts[0]
	}

	m.Genus = kept[0]
	switch {
	case len(kept) == 1:
		m.Rank = RankGenus
	default:
		m.Rank = RankSpecies
		m.Species = kept[1]
		if len(kept) > 2 {
			m.Author = strings.Join(kept[2:], " ")
		}
	}
	if m.Indeterminate {
		// "Acer sp. robur" is not a thing; indeterminate pins genus level.
		m.Rank = RankGenus
		m.Species = ""
		m.Author = ""
	}
	if len(m.Alternatives) > 0 {
		m.Rank = RankGenus
		m.Species = ""
		m.Author = ""
	}
	return m, nil
}
