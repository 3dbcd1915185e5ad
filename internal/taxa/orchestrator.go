package taxa

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/authority"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/textnorm"
)

const (
	// cascadeThreshold: a species search whose best blend falls below this
	// falls back to a genus-level search.
	cascadeThreshold = 0.5

	// qualifierDamping scales blends of mentions carrying an uncertainty
	// qualifier (cf., aff., ?).
	qualifierDamping = 0.85

	// familyBoost is the advisory bump for candidates whose lineage names
	// the requested family.
	familyBoost = 0.1
)

// HierarchyLookup resolves the taxonomic lineage of a taxon id.
// *authority.Store satisfies it.
type HierarchyLookup interface {
	TaxonHierarchy(ctx context.Context, taxonID int64) (authority.Hierarchy, error)
}

var _ HierarchyLookup = (*authority.Store)(nil)

// Orchestrator is the "taxon" entity strategy. It owns no retrieval of its
// own: it parses the mention and drives the species- and genus-level hybrid
// strategies, then post-processes their candidates.
type Orchestrator struct {
	species   reconcile.Strategy
	genus     reconcile.Strategy
	hierarchy HierarchyLookup
	idPrefix  string
	log       *slog.Logger
}

var _ reconcile.Strategy = (*Orchestrator)(nil)

// NewOrchestrator wires the taxon strategy. hierarchy may be nil to disable
// lineage enrichment.
func NewOrchestrator(species, genus reconcile.Strategy, hierarchy HierarchyLookup, idPrefix string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		species:   species,
		genus:     genus,
		hierarchy: hierarchy,
		idPrefix:  idPrefix,
		log:       log.With("entity", "taxon"),
	}
}

func (o *Orchestrator) Name() string        { return "taxon" }
func (o *Orchestrator) DisplayName() string { return "Taxon" }

func (o *Orchestrator) Properties() []reconcile.Property {
	return []reconcile.Property{
		{ID: "genus", Name: "Genus", Type: "string", Description: "Genus name the taxon must belong to"},
		{ID: "family", Name: "Family", Type: "string", Description: "Family name the taxon must belong to"},
	}
}

func (o *Orchestrator) CanonicalURI(id int64) string {
	return reconcile.BuildURI(o.idPrefix, "taxon", id)
}

// Search parses the mention and dispatches by rank. The cascade is iterative:
// species first, then genus, each a separate strategy call with the request
// context.
//
// The genus and family properties are consumed here, not forwarded: genus
// resolves to genus ids and becomes a structural species pre-filter (genus
// candidates are filtered in memory), family is an advisory boost over the
// enriched lineage.
func (o *Orchestrator) Search(ctx context.Context, q reconcile.Query) ([]reconcile.Candidate, error) {
	genusVal, familyVal, err := takeProperties(&q)
	if err != nil {
		return nil, err
	}
	var genusIDs []int64
	if genusVal != "" {
		genusIDs, err = o.resolveGenus(ctx, genusVal)
		if err != nil {
			return nil, err
		}
		if len(genusIDs) == 0 {
			// No genus by that name: the constraint is unsatisfiable.
			return nil, nil
		}
	}

	m, err := Parse(q.Text)
	if err != nil {
		return nil, err
	}

	var cands []reconcile.Candidate
	switch {
	case len(m.Alternatives) > 0:
		cands, err = o.searchSplit(ctx, m, q, genusIDs)
	case m.Rank == RankSpecies:
		cands, err = o.searchSpecies(ctx, m, q, genusIDs)
	default:
		cands, err = o.searchGenus(ctx, m, q, genusIDs)
	}
	if err != nil {
		return nil, err
	}

	if familyVal != "" {
		boostFamily(cands, familyVal)
	}
	if m.Qualifier != "" {
		for i := range cands {
			cands[i].Blend *= qualifierDamping
			setMeta(&cands[i], "uncertainty", m.Qualifier)
		}
	}
	reconcile.SortCandidates(cands)
	return cands, nil
}

func (o *Orchestrator) searchSpecies(ctx context.Context, m Mention, q reconcile.Query, genusIDs []int64) ([]reconcile.Candidate, error) {
	sub := q
	sub.Text = m.SearchText()
	if len(genusIDs) > 0 {
		sub.Properties = []reconcile.PropertyValue{{PID: "genus_id", Value: joinIDs(genusIDs)}}
	}
	cands, err := o.species.Search(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("taxa: species search: %w", err)
	}

	if len(cands) > 0 && cands[0].Blend >= cascadeThreshold {
		for i := range cands {
			setMeta(&cands[i], "rank", string(RankSpecies))
			setMeta(&cands[i], "matched_at", string(RankSpecies))
			setMeta(&cands[i], "genus", m.Genus)
			setMeta(&cands[i], "species", m.Species)
			if m.Author != "" {
				setMeta(&cands[i], "author", m.Author)
			}
		}
		o.enrich(ctx, cands)
		return cands, nil
	}

	// Weak species match: fall back to the genus level.
	sub.Text = m.Genus
	sub.Properties = nil
	genusCands, err := o.genus.Search(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("taxa: genus cascade: %w", err)
	}
	genusCands = filterByID(genusCands, genusIDs)
	for i := range genusCands {
		setMeta(&genusCands[i], "rank", string(RankGenus))
		setMeta(&genusCands[i], "matched_at", string(RankGenus))
		setMeta(&genusCands[i], "original_level", string(RankSpecies))
		setMeta(&genusCands[i], "genus", m.Genus)
	}
	return genusCands, nil
}

func (o *Orchestrator) searchGenus(ctx context.Context, m Mention, q reconcile.Query, genusIDs []int64) ([]reconcile.Candidate, error) {
	sub := q
	sub.Text = m.Genus
	cands, err := o.genus.Search(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("taxa: genus search: %w", err)
	}
	cands = filterByID(cands, genusIDs)
	for i := range cands {
		setMeta(&cands[i], "rank", string(RankGenus))
		setMeta(&cands[i], "matched_at", string(RankGenus))
		setMeta(&cands[i], "genus", m.Genus)
		if m.Indeterminate {
			setMeta(&cands[i], "indeterminate", true)
		}
	}
	return cands, nil
}

// searchSplit queries each alternative genus for half the limit, unions the
// results and keeps the top limit after sorting.
func (o *Orchestrator) searchSplit(ctx context.Context, m Mention, q reconcile.Query, genusIDs []int64) ([]reconcile.Candidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	per := limit / len(m.Alternatives)
	if per < 1 {
		per = 1
	}

	label := m.SplitLabel()
	var union []reconcile.Candidate
	seen := make(map[int64]bool)
	for _, alt := range m.Alternatives {
		sub := q
		sub.Text = alt
		sub.Limit = per
		cands, err := o.genus.Search(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("taxa: split search %q: %w", alt, err)
		}
		cands = filterByID(cands, genusIDs)
		for i := range cands {
			if seen[cands[i].ID] {
				continue
			}
			seen[cands[i].ID] = true
			setMeta(&cands[i], "rank", string(RankGenus))
			setMeta(&cands[i], "matched_at", string(RankGenus))
			setMeta(&cands[i], "genus", alt)
			setMeta(&cands[i], "split_identification", label)
			union = append(union, cands[i])
		}
	}
	reconcile.SortCandidates(union)
	if len(union) > limit {
		union = union[:limit]
	}
	return union, nil
}

// enrich attaches the taxonomic lineage to species candidates. Lookup
// failures leave the candidate unenriched.
func (o *Orchestrator) enrich(ctx context.Context, cands []reconcile.Candidate) {
	if o.hierarchy == nil {
		return
	}
	for i := range cands {
		h, err := o.hierarchy.TaxonHierarchy(ctx, cands[i].ID)
		if err != nil {
			o.log.Debug("hierarchy lookup failed", "taxon_id", cands[i].ID, "error", err)
			continue
		}
		if h.Genus != "" {
			setMeta(&cands[i], "genus", h.Genus)
		}
		if h.Family != "" {
			setMeta(&cands[i], "family", h.Family)
		}
		if h.Order != "" {
			setMeta(&cands[i], "order", h.Order)
		}
	}
}

func (o *Orchestrator) GetByID(ctx context.Context, id int64) (*reconcile.Candidate, error) {
	return o.species.GetByID(ctx, id)
}

func (o *Orchestrator) Preview(ctx context.Context, id int64) (*reconcile.Preview, error) {
	p, err := o.species.Preview(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	p.EntityType = "taxon"
	return p, nil
}

func (o *Orchestrator) Suggest(ctx context.Context, prefix string, limit int) ([]reconcile.Candidate, error) {
	return o.species.Suggest(ctx, prefix, limit)
}

// takeProperties validates and strips the query's properties, returning the
// genus and family values. The sub-strategies never see the raw properties.
func takeProperties(q *reconcile.Query) (genus, family string, err error) {
	for _, pv := range q.Properties {
		switch pv.PID {
		case "genus":
			genus = strings.TrimSpace(fmt.Sprint(pv.Value))
		case "family":
			family = strings.TrimSpace(fmt.Sprint(pv.Value))
		default:
			return "", "", fmt.Errorf("%w: unknown property %q for taxon", reconcile.ErrInvalidQuery, pv.PID)
		}
	}
	q.Properties = nil
	return genus, family, nil
}

// resolveGenus maps a genus property value to genus ids. A numeric value is
// taken as an id list; a name goes through the genus strategy, keeping the
// candidates whose label equals the name after normalization.
func (o *Orchestrator) resolveGenus(ctx context.Context, value string) ([]int64, error) {
	if ids, ok := numericIDs(value); ok {
		return ids, nil
	}
	cands, err := o.genus.Search(ctx, reconcile.Query{Text: value, Limit: 5})
	if err != nil {
		return nil, fmt.Errorf("taxa: resolve genus %q: %w", value, err)
	}
	want := textnorm.Normalize(value)
	var ids []int64
	for _, c := range cands {
		if textnorm.Normalize(c.Label) == want {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func numericIDs(value string) ([]int64, bool) {
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, n)
	}
	return ids, true
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// filterByID keeps genus-level candidates inside the resolved genus set. A
// nil set keeps everything.
func filterByID(cands []reconcile.Candidate, ids []int64) []reconcile.Candidate {
	if len(ids) == 0 {
		return cands
	}
	keep := make(map[int64]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := cands[:0]
	for _, c := range cands {
		if keep[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// boostFamily bumps candidates whose enriched lineage names the requested
// family. Candidates without lineage metadata are left alone.
func boostFamily(cands []reconcile.Candidate, family string) {
	want := textnorm.Normalize(family)
	for i := range cands {
		got, _ := cands[i].Metadata["family"].(string)
		if got == "" || textnorm.Normalize(got) != want {
			continue
		}
		cands[i].Blend += familyBoost
		if cands[i].Blend > 1 {
			cands[i].Blend = 1
		}
	}
}

func setMeta(c *reconcile.Candidate, key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}
