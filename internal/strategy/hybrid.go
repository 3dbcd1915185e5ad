package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/authority"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/textnorm"
)

// AuthorityStore is the slice of the authority layer the hybrid strategy
// uses. *authority.Store satisfies it; tests substitute fakes.
type AuthorityStore interface {
	TrigramSearch(ctx context.Context, rel authority.Relation, p authority.TrigramParams) ([]authority.Hit, error)
	SemanticSearch(ctx context.Context, rel authority.Relation, p authority.SemanticParams) ([]authority.Hit, error)
	GetRow(ctx context.Context, rel authority.Relation, id int64, fields map[string]string) (authority.Record, error)
	SuggestPrefix(ctx context.Context, rel authority.Relation, prefix string, limit int) ([]authority.Hit, error)
	MatchingIDs(ctx context.Context, rel authority.Relation, column, value string, ids []int64) ([]int64, error)
	Coordinates(ctx context.Context, rel authority.Relation, latCol, lonCol string, ids []int64) (map[int64]authority.Coordinate, error)
}

var _ AuthorityStore = (*authority.Store)(nil)

// ChannelObserver receives per-channel retrieval timings. Implemented by the
// metrics layer; a nil observer disables recording.
type ChannelObserver interface {
	ObserveChannel(ctx context.Context, entity, channel string, elapsed time.Duration, err error)
}

// Tuning bundles the retrieval knobs shared by all strategies.
type Tuning struct {
	KTrgm         int
	KSem          int
	KFinal        int
	Alpha         float64
	TrgmThreshold float64
	DefaultLimit  int
}

// Hybrid is the generic two-channel strategy: pg_trgm lexical retrieval and
// pgvector semantic retrieval run in parallel, blended into a single ranked
// candidate list. It is safe for concurrent use.
type Hybrid struct {
	desc     Descriptor
	store    AuthorityStore
	tuning   Tuning
	idPrefix string

	embedder embeddings.Provider
	observer ChannelObserver
	log      *slog.Logger
}

var _ reconcile.Strategy = (*Hybrid)(nil)

// Option configures a Hybrid strategy.
type Option func(*Hybrid)

// WithEmbedder enables the semantic channel. Without an embedder the
// strategy is lexical-only.
func WithEmbedder(p embeddings.Provider) Option {
	return func(h *Hybrid) { h.embedder = p }
}

// WithObserver wires channel timing metrics.
func WithObserver(o ChannelObserver) Option {
	return func(h *Hybrid) { h.observer = o }
}

// WithLogger sets the strategy logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(h *Hybrid) { h.log = log }
}

// NewHybrid builds a hybrid strategy over the descriptor. idPrefix is the
// identifier-space URI prefix used for canonical ids.
func NewHybrid(desc Descriptor, store AuthorityStore, tuning Tuning, idPrefix string, opts ...Option) (*Hybrid, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	h := &Hybrid{
		desc:     desc,
		store:    store,
		tuning:   tuning,
		idPrefix: idPrefix,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("entity", desc.Name)
	return h, nil
}

func (h *Hybrid) Name() string        { return h.desc.Name }
func (h *Hybrid) DisplayName() string { return h.desc.DisplayName }

// Descriptor returns the strategy's descriptor.
func (h *Hybrid) Descriptor() Descriptor { return h.desc }

func (h *Hybrid) Properties() []reconcile.Property { return h.desc.PublicProperties() }

func (h *Hybrid) CanonicalURI(id int64) string {
	return reconcile.BuildURI(h.idPrefix, h.desc.Name, id)
}

// Search runs hybrid retrieval: both channels in parallel, blend, property
// boosts, truncation. An unavailable embedder degrades to lexical-only
// rather than failing.
func (h *Hybrid) Search(ctx context.Context, q reconcile.Query) ([]reconcile.Candidate, error) {
	norm := textnorm.Normalize(q.Text)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty query text", reconcile.ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", reconcile.ErrInvalidQuery, q.Limit)
	}
	limit := q.Limit
	if limit == 0 {
		limit = h.tuning.DefaultLimit
	}
	if limit > h.tuning.KFinal {
		limit = h.tuning.KFinal
	}

	mode, err := resolveMode(q.Mode, h.tuning.TrgmThreshold)
	if err != nil {
		return nil, err
	}

	rel, boosts, err := h.applyProperties(q)
	if err != nil {
		return nil, err
	}
	if mode.column != "" {
		rel.NormColumn = mode.column
	}

	trgmQuery := textnorm.TruncateForTrigram(norm)

	var trgm, sem []authority.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		var err error
		trgm, err = h.store.TrigramSearch(gctx, rel, authority.TrigramParams{
			Query:     trgmQuery,
			Op:        mode.op,
			Threshold: mode.threshold,
			Limit:     h.tuning.KTrgm,
		})
		h.observe(ctx, "trigram", time.Since(start), err)
		return err
	})
	// Mode-switched searches match columns that carry no embeddings, so the
	// semantic channel only runs for the default label match. The embedder
	// receives the raw mention; casing and diacritics carry signal for the
	// model, and the cache keys on the same text.
	if h.embedder != nil && q.Mode == "" {
		mention := strings.TrimSpace(q.Text)
		g.Go(func() error {
			start := time.Now()
			vec, err := h.embedder.Embed(gctx, mention)
			if err != nil {
				// Recoverable: degrade to lexical-only.
				h.observe(ctx, "semantic", time.Since(start), err)
				h.log.Warn("embedding unavailable, degrading to trigram-only", "error", err)
				return nil
			}
			sem, err = h.store.SemanticSearch(gctx, rel, authority.SemanticParams{
				Embedding: vec,
				Limit:     h.tuning.KSem,
			})
			h.observe(ctx, "semantic", time.Since(start), err)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("strategy: %s: search: %w", h.desc.Name, err)
	}

	cands := reconcile.Blend(toChannelHits(trgm), toChannelHits(sem), h.tuning.Alpha, h.tuning.KFinal)

	if len(boosts) > 0 && len(cands) > 0 {
		if err := h.applyBoosts(ctx, rel, cands, boosts); err != nil {
			// Advisory only: a failed boost query never fails the search.
			h.log.Warn("property boost failed", "error", err)
		}
		reconcile.SortCandidates(cands)
	}
	if len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}

// GetByID fetches a single row. Blend scores are zero; the candidate carries
// the label and secondary fields only.
func (h *Hybrid) GetByID(ctx context.Context, id int64) (*reconcile.Candidate, error) {
	rec, err := h.store.GetRow(ctx, h.desc.Relation, id, h.desc.SecondaryFields)
	if errors.Is(err, reconcile.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strategy: %s: get %d: %w", h.desc.Name, id, err)
	}
	c := &reconcile.Candidate{ID: rec.ID, Label: rec.Label}
	if len(rec.Fields) > 0 {
		c.Metadata = rec.Fields
	}
	return c, nil
}

// Preview renders the structured preview for a row, nil when absent.
func (h *Hybrid) Preview(ctx context.Context, id int64) (*reconcile.Preview, error) {
	rec, err := h.store.GetRow(ctx, h.desc.Relation, id, h.desc.SecondaryFields)
	if errors.Is(err, reconcile.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strategy: %s: preview %d: %w", h.desc.Name, id, err)
	}
	p := &reconcile.Preview{
		ID:         rec.ID,
		EntityType: h.desc.Name,
		Label:      rec.Label,
		Extras:     rec.Fields,
	}
	if d, ok := rec.Fields["description"].(string); ok {
		p.Description = d
	}
	return p, nil
}

// Suggest returns autocomplete candidates: a normalized-prefix scan
// re-ranked by Jaro-Winkler distance to the typed prefix.
func (h *Hybrid) Suggest(ctx context.Context, prefix string, limit int) ([]reconcile.Candidate, error) {
	norm := textnorm.Normalize(prefix)
	if norm == "" || limit <= 0 {
		return nil, nil
	}
	// Overfetch so the re-rank has room to promote close matches.
	hits, err := h.store.SuggestPrefix(ctx, h.desc.Relation, norm, limit*3)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s: suggest: %w", h.desc.Name, err)
	}
	cands := make([]reconcile.Candidate, len(hits))
	for i, hit := range hits {
		cands[i] = reconcile.Candidate{
			ID:      hit.ID,
			Label:   hit.Label,
			TrgmSim: hit.Score,
			Blend:   matchr.JaroWinkler(norm, textnorm.Normalize(hit.Label), false),
		}
	}
	reconcile.SortCandidates(cands)
	if len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}

func (h *Hybrid) observe(ctx context.Context, channel string, elapsed time.Duration, err error) {
	if h.observer != nil {
		h.observer.ObserveChannel(ctx, h.desc.Name, channel, elapsed, err)
	}
}

func toChannelHits(hits []authority.Hit) []reconcile.ChannelHit {
	out := make([]reconcile.ChannelHit, len(hits))
	for i, h := range hits {
		out[i] = reconcile.ChannelHit{ID: h.ID, Label: h.Label, Score: h.Score}
	}
	return out
}

// boost is one post-retrieval advisory adjustment resolved from the query's
// properties.
type boost struct {
	def   PropertyDef
	value string

	// lat/lon proximity pair, set when def.RadiusKM > 0.
	lat, lon float64
}

// applyProperties validates q.Properties against the descriptor, folds
// structural properties into the relation's pre-filter and returns the
// advisory boosts for post-retrieval application.
func (h *Hybrid) applyProperties(q reconcile.Query) (authority.Relation, []boost, error) {
	rel := h.desc.Relation
	if len(q.LocationTypeIDs) > 0 {
		if rel.FilterColumn == "" {
			rel.FilterColumn = "location_type_id"
		}
		rel.FilterIDs = q.LocationTypeIDs
	}
	if len(q.Properties) == 0 {
		return rel, nil, nil
	}

	var boosts []boost
	var lat, lon *boost
	for _, pv := range q.Properties {
		def, ok := h.desc.Property(pv.PID)
		if !ok {
			return rel, nil, fmt.Errorf("%w: unknown property %q for %s", reconcile.ErrInvalidQuery, pv.PID, h.desc.Name)
		}
		switch {
		case def.IsPreFilter():
			ids, err := parseIDList(pv.Value)
			if err != nil {
				return rel, nil, fmt.Errorf("%w: property %q: %v", reconcile.ErrInvalidQuery, pv.PID, err)
			}
			rel.FilterColumn = def.Column
			rel.FilterIDs = ids
		case def.RadiusKM > 0:
			v, err := parseNumber(pv.Value)
			if err != nil {
				return rel, nil, fmt.Errorf("%w: property %q: %v", reconcile.ErrInvalidQuery, pv.PID, err)
			}
			b := boost{def: def}
			if pv.PID == "latitude" {
				b.lat = v
				lat = &b
			} else {
				b.lon = v
				lon = &b
			}
		case def.Column != "":
			boosts = append(boosts, boost{def: def, value: fmt.Sprint(pv.Value)})
		default:
			// Descriptive property: accepted, no retrieval effect.
		}
	}
	// A proximity boost needs the full coordinate.
	if lat != nil && lon != nil {
		boosts = append(boosts, boost{def: lat.def, lat: lat.lat, lon: lon.lon})
	}
	return rel, boosts, nil
}

// applyBoosts mutates candidate blends in place. Matches add the configured
// weight; proximity adds a boost scaled by inverse distance inside the
// radius. Blends are capped at 1.0 and never reduced.
func (h *Hybrid) applyBoosts(ctx context.Context, rel authority.Relation, cands []reconcile.Candidate, boosts []boost) error {
	ids := make([]int64, len(cands))
	byID := make(map[int64]*reconcile.Candidate, len(cands))
	for i := range cands {
		ids[i] = cands[i].ID
		byID[cands[i].ID] = &cands[i]
	}

	for _, b := range boosts {
		if b.def.RadiusKM > 0 {
			coords, err := h.store.Coordinates(ctx, rel, h.desc.LatColumn, h.desc.LonColumn, ids)
			if err != nil {
				return err
			}
			weight := b.def.BoostWeight
			if weight == 0 {
				weight = defaultProximityWeight
			}
			for id, c := range coords {
				d := haversineKM(b.lat, b.lon, c.Lat, c.Lon)
				if d >= b.def.RadiusKM {
					continue
				}
				bump(byID[id], weight*(1-d/b.def.RadiusKM))
			}
			continue
		}
		matchRel := rel
		if b.def.Table != "" {
			// Properties backed by a companion relation (the sites' country
			// lookup) match against that table instead of the entity table.
			matchRel.Table = b.def.Table
		}
		matched, err := h.store.MatchingIDs(ctx, matchRel, b.def.Column, b.value, ids)
		if err != nil {
			return err
		}
		for _, id := range matched {
			bump(byID[id], b.def.BoostWeight)
		}
	}
	return nil
}

// defaultProximityWeight bounds the coordinate boost when the descriptor
// does not set one.
const defaultProximityWeight = 0.1

func bump(c *reconcile.Candidate, delta float64) {
	if c == nil {
		return
	}
	c.Blend += delta
	if c.Blend > 1 {
		c.Blend = 1
	}
}

// parseIDList accepts a number or a comma-separated string of integer ids.
func parseIDList(v any) ([]int, error) {
	switch x := v.(type) {
	case float64:
		return []int{int(x)}, nil
	case int:
		return []int{x}, nil
	case string:
		parts := strings.Split(x, ",")
		ids := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("malformed id %q", p)
			}
			ids = append(ids, n)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func parseNumber(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("malformed number %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
