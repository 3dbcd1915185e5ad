package strategy

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/authority"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	embmock "github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings/mock"
)

// fakeStore implements AuthorityStore in memory.
type fakeStore struct {
	trgmHits []authority.Hit
	trgmErr  error
	semHits  []authority.Hit
	semErr   error

	trgmParams authority.TrigramParams
	trgmRel    authority.Relation
	semRel     authority.Relation

	rows    map[int64]authority.Record
	suggest []authority.Hit

	matching    []int64
	matchRel    authority.Relation
	matchColumn string
	coords      map[int64]authority.Coordinate
}

func (f *fakeStore) TrigramSearch(ctx context.Context, rel authority.Relation, p authority.TrigramParams) ([]authority.Hit, error) {
	f.trgmRel = rel
	f.trgmParams = p
	return f.trgmHits, f.trgmErr
}

func (f *fakeStore) SemanticSearch(ctx context.Context, rel authority.Relation, p authority.SemanticParams) ([]authority.Hit, error) {
	f.semRel = rel
	return f.semHits, f.semErr
}

func (f *fakeStore) GetRow(ctx context.Context, rel authority.Relation, id int64, fields map[string]string) (authority.Record, error) {
	rec, ok := f.rows[id]
	if !ok {
		return authority.Record{}, reconcile.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) SuggestPrefix(ctx context.Context, rel authority.Relation, prefix string, limit int) ([]authority.Hit, error) {
	return f.suggest, nil
}

func (f *fakeStore) MatchingIDs(ctx context.Context, rel authority.Relation, column, value string, ids []int64) ([]int64, error) {
	f.matchRel = rel
	f.matchColumn = column
	return f.matching, nil
}

func (f *fakeStore) Coordinates(ctx context.Context, rel authority.Relation, latCol, lonCol string, ids []int64) (map[int64]authority.Coordinate, error) {
	return f.coords, nil
}

func siteDescriptor() Descriptor {
	for _, d := range Builtin() {
		if d.Name == "site" {
			return d
		}
	}
	panic("site descriptor missing")
}

var testTuning = Tuning{
	KTrgm: 30, KSem: 30, KFinal: 20,
	Alpha: 0.5, TrgmThreshold: 0.3, DefaultLimit: 10,
}

const testPrefix = "https://sead.example/id"

func newTestHybrid(t *testing.T, store AuthorityStore, opts ...Option) *Hybrid {
	t.Helper()
	h, err := NewHybrid(siteDescriptor(), store, testTuning, testPrefix, opts...)
	if err != nil {
		t.Fatalf("NewHybrid() error = %v", err)
	}
	return h
}

func TestHybrid_Search_BlendsBothChannels(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		trgmHits: []authority.Hit{
			{ID: 1, Label: "Uppsala", Score: 1.0},
			{ID: 2, Label: "Uppsala högar", Score: 0.6},
		},
		semHits: []authority.Hit{
			{ID: 1, Label: "Uppsala", Score: 0.9},
			{ID: 3, Label: "Gamla Uppsala", Score: 0.8},
		},
	}
	emb := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}, DimensionsValue: 2}

	cands, err := newTestHybrid(t, store, WithEmbedder(emb)).Search(context.Background(), reconcile.Query{
		Text: "Uppsala", EntityType: "site",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(cands) != 3 {
		t.Fatalf("got %d candidates, want 3", len(cands))
	}
	if cands[0].ID != 1 {
		t.Errorf("top candidate = %d, want 1", cands[0].ID)
	}
	if want := 0.5*1.0 + 0.5*0.9; math.Abs(cands[0].Blend-want) > 1e-9 {
		t.Errorf("top blend = %v, want %v", cands[0].Blend, want)
	}
	if len(emb.EmbedCalls) != 1 || emb.EmbedCalls[0].Text != "Uppsala" {
		t.Errorf("embedder called with %+v, want the raw mention", emb.EmbedCalls)
	}
	if store.trgmParams.Query != "uppsala" || store.trgmParams.Threshold != 0.3 {
		t.Errorf("trigram params = %+v", store.trgmParams)
	}
}

func TestHybrid_Search_DegradesWhenEmbeddingFails(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		trgmHits: []authority.Hit{{ID: 1, Label: "Uppsala", Score: 0.8}},
		semHits:  []authority.Hit{{ID: 9, Label: "never", Score: 0.9}},
	}
	emb := &embmock.Provider{EmbedErr: errors.New("model offline")}

	cands, err := newTestHybrid(t, store, WithEmbedder(emb)).Search(context.Background(), reconcile.Query{Text: "Uppsala"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(cands) != 1 || cands[0].ID != 1 {
		t.Fatalf("candidates = %+v, want trigram-only", cands)
	}
	if cands[0].SemSim != 0 {
		t.Errorf("SemSim = %v, want 0", cands[0].SemSim)
	}
	if want := 0.5 * 0.8; math.Abs(cands[0].Blend-want) > 1e-9 {
		t.Errorf("blend = %v, want %v", cands[0].Blend, want)
	}
}

func TestHybrid_Search_NoEmbedderIsLexicalOnly(t *testing.T) {
	t.Parallel()

	store := &fakeStore{trgmHits: []authority.Hit{{ID: 1, Label: "Uppsala", Score: 0.8}}}
	cands, err := newTestHybrid(t, store).Search(context.Background(), reconcile.Query{Text: "Uppsala"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(cands) != 1 || cands[0].SemSim != 0 {
		t.Errorf("candidates = %+v", cands)
	}
}

func TestHybrid_Search_EmptyQuery(t *testing.T) {
	t.Parallel()

	_, err := newTestHybrid(t, &fakeStore{}).Search(context.Background(), reconcile.Query{Text: "   "})
	if !errors.Is(err, reconcile.ErrInvalidQuery) {
		t.Errorf("error = %v, want ErrInvalidQuery", err)
	}

	_, err = newTestHybrid(t, &fakeStore{}).Search(context.Background(), reconcile.Query{Text: "x", Limit: -1})
	if !errors.Is(err, reconcile.ErrInvalidQuery) {
		t.Errorf("negative limit error = %v, want ErrInvalidQuery", err)
	}
}

func TestHybrid_Search_ChannelErrorFailsSearch(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("pool exhausted")
	store := &fakeStore{trgmErr: dbErr}
	_, err := newTestHybrid(t, store).Search(context.Background(), reconcile.Query{Text: "Uppsala"})
	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
}

func TestHybrid_Search_LimitTruncates(t *testing.T) {
	t.Parallel()

	hits := make([]authority.Hit, 15)
	for i := range hits {
		hits[i] = authority.Hit{ID: int64(i + 1), Label: string(rune('a' + i)), Score: 1 - float64(i)*0.01}
	}
	store := &fakeStore{trgmHits: hits}

	cands, err := newTestHybrid(t, store).Search(context.Background(), reconcile.Query{Text: "q", Limit: 3})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(cands) != 3 {
		t.Errorf("got %d candidates, want 3", len(cands))
	}

	// Zero limit falls back to the default.
	cands, err = newTestHybrid(t, store).Search(context.Background(), reconcile.Query{Text: "q"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(cands) != testTuning.DefaultLimit {
		t.Errorf("got %d candidates, want default %d", len(cands), testTuning.DefaultLimit)
	}
}

func TestHybrid_Search_UnknownProperty(t *testing.T) {
	t.Parallel()

	_, err := newTestHybrid(t, &fakeStore{}).Search(context.Background(), reconcile.Query{
		Text:       "Uppsala",
		Properties: []reconcile.PropertyValue{{PID: "nonsense", Value: "x"}},
	})
	if !errors.Is(err, reconcile.ErrInvalidQuery) {
		t.Errorf("error = %v, want ErrInvalidQuery", err)
	}
}

func TestHybrid_Search_ExactMatchBoost(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		trgmHits: []authority.Hit{
			{ID: 1, Label: "Uppsala", Score: 0.7},
			{ID: 2, Label: "Uppsala East", Score: 0.7},
		},
		matching: []int64{2},
	}
	cands, err := newTestHybrid(t, store).Search(context.Background(), reconcile.Query{
		Text:       "Uppsala",
		Properties: []reconcile.PropertyValue{{PID: "national_site_identifier", Value: "L1970:1234"}},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if cands[0].ID != 2 {
		t.Errorf("boosted candidate should rank first, got %+v", cands)
	}
	if want := 0.5*0.7 + 0.1; math.Abs(cands[0].Blend-want) > 1e-9 {
		t.Errorf("boosted blend = %v, want %v", cands[0].Blend, want)
	}
	// Unboosted candidate unchanged.
	if want := 0.5 * 0.7; math.Abs(cands[1].Blend-want) > 1e-9 {
		t.Errorf("unboosted blend = %v, want %v", cands[1].Blend, want)
	}
}

func TestHybrid_Search_CountryBoost(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		trgmHits: []authority.Hit{
			{ID: 1, Label: "Uppsala", Score: 0.7},
			{ID: 2, Label: "Uppsala mire", Score: 0.7},
		},
		matching: []int64{2},
	}
	cands, err := newTestHybrid(t, store).Search(context.Background(), reconcile.Query{
		Text:       "Uppsala",
		EntityType: "site",
		Properties: []reconcile.PropertyValue{{PID: "country", Value: "Sweden"}},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// The match runs against the companion country view, not tbl_sites.
	if store.matchRel.Table != "mv_site_countries" {
		t.Errorf("match table = %q, want mv_site_countries", store.matchRel.Table)
	}
	if store.matchColumn != "country_name" {
		t.Errorf("match column = %q, want country_name", store.matchColumn)
	}
	if cands[0].ID != 2 {
		t.Errorf("boosted candidate should rank first, got %+v", cands)
	}
	if want := 0.5*0.7 + 0.15; math.Abs(cands[0].Blend-want) > 1e-9 {
		t.Errorf("boosted blend = %v, want %v", cands[0].Blend, want)
	}
	if want := 0.5 * 0.7; math.Abs(cands[1].Blend-want) > 1e-9 {
		t.Errorf("unboosted blend = %v, want %v", cands[1].Blend, want)
	}
}

func TestHybrid_Search_ProximityBoost(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		trgmHits: []authority.Hit{
			{ID: 1, Label: "Near", Score: 0.6},
			{ID: 2, Label: "Far", Score: 0.6},
		},
		coords: map[int64]authority.Coordinate{
			1: {Lat: 59.86, Lon: 17.64}, // ~0 km from query point
			2: {Lat: 55.60, Lon: 13.00}, // ~500 km away
		},
	}
	cands, err := newTestHybrid(t, store).Search(context.Background(), reconcile.Query{
		Text: "Uppsala",
		Properties: []reconcile.PropertyValue{
			{PID: "latitude", Value: 59.86},
			{PID: "longitude", Value: 17.64},
		},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if cands[0].ID != 1 {
		t.Errorf("near candidate should rank first, got %+v", cands)
	}
	if cands[0].Blend <= cands[1].Blend {
		t.Errorf("near blend %v should exceed far blend %v", cands[0].Blend, cands[1].Blend)
	}
	// Outside the radius there is no penalty.
	if want := 0.5 * 0.6; math.Abs(cands[1].Blend-want) > 1e-9 {
		t.Errorf("far blend = %v, want unchanged %v", cands[1].Blend, want)
	}
}

func TestHybrid_Search_LocationTypeFilter(t *testing.T) {
	t.Parallel()

	store := &fakeStore{trgmHits: []authority.Hit{{ID: 1, Label: "Skåne", Score: 0.9}}}
	_, err := newTestHybrid(t, store).Search(context.Background(), reconcile.Query{
		Text:            "Skåne",
		LocationTypeIDs: []int{1, 14},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if store.trgmRel.FilterColumn != "location_type_id" {
		t.Errorf("filter column = %q", store.trgmRel.FilterColumn)
	}
	if len(store.trgmRel.FilterIDs) != 2 {
		t.Errorf("filter ids = %v", store.trgmRel.FilterIDs)
	}
}

func TestHybrid_Search_BiblioModes(t *testing.T) {
	t.Parallel()

	var biblio Descriptor
	for _, d := range Builtin() {
		if d.Name == "bibliographic_reference" {
			biblio = d
		}
	}

	tests := []struct {
		mode       string
		wantColumn string
		wantOp     authority.TrgmOp
		wantThresh float64
	}{
		{"", "full_reference_norm", authority.OpSimilarity, 0.3},
		{"title", "title_norm", authority.OpSimilarity, 0.3},
		{"word", "full_reference_norm", authority.OpWordSimilarity, 0.6},
		{"strict_word", "full_reference_norm", authority.OpStrictWordSimilarity, 0.5},
	}
	for _, tc := range tests {
		store := &fakeStore{}
		h, err := NewHybrid(biblio, store, testTuning, testPrefix)
		if err != nil {
			t.Fatalf("NewHybrid() error = %v", err)
		}
		if _, err := h.Search(context.Background(), reconcile.Query{Text: "Buckland 1976", Mode: tc.mode}); err != nil {
			t.Fatalf("mode %q: Search() error = %v", tc.mode, err)
		}
		got := store.trgmRel.NormColumn
		if got == "" {
			got = store.trgmRel.LabelColumn + "_norm"
		}
		if got != tc.wantColumn {
			t.Errorf("mode %q: column = %q, want %q", tc.mode, got, tc.wantColumn)
		}
		if store.trgmParams.Op != tc.wantOp {
			t.Errorf("mode %q: op = %v, want %v", tc.mode, store.trgmParams.Op, tc.wantOp)
		}
		if store.trgmParams.Threshold != tc.wantThresh {
			t.Errorf("mode %q: threshold = %v, want %v", tc.mode, store.trgmParams.Threshold, tc.wantThresh)
		}
	}

	if _, err := newTestHybrid(t, &fakeStore{}).Search(context.Background(), reconcile.Query{Text: "x", Mode: "bogus"}); !errors.Is(err, reconcile.ErrInvalidQuery) {
		t.Errorf("bogus mode error = %v, want ErrInvalidQuery", err)
	}
}

func TestHybrid_Search_ModeSkipsSemanticChannel(t *testing.T) {
	t.Parallel()

	var biblio Descriptor
	for _, d := range Builtin() {
		if d.Name == "bibliographic_reference" {
			biblio = d
		}
	}
	emb := &embmock.Provider{EmbedResult: []float32{0.1}}
	store := &fakeStore{semHits: []authority.Hit{{ID: 9, Label: "x", Score: 1}}}
	h, err := NewHybrid(biblio, store, testTuning, testPrefix, WithEmbedder(emb))
	if err != nil {
		t.Fatalf("NewHybrid() error = %v", err)
	}
	cands, err := h.Search(context.Background(), reconcile.Query{Text: "Buckland", Mode: "title"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(emb.EmbedCalls) != 0 {
		t.Errorf("embedder called on mode-switched search")
	}
	if len(cands) != 0 {
		t.Errorf("candidates = %+v, want none", cands)
	}
}

func TestHybrid_GetByID(t *testing.T) {
	t.Parallel()

	store := &fakeStore{rows: map[int64]authority.Record{
		12: {ID: 12, Label: "Ageröd", Fields: map[string]any{"latitude": 55.93}},
	}}
	h := newTestHybrid(t, store)

	c, err := h.GetByID(context.Background(), 12)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if c == nil || c.Label != "Ageröd" || c.Metadata["latitude"] != 55.93 {
		t.Errorf("candidate = %+v", c)
	}

	c, err = h.GetByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if c != nil {
		t.Errorf("missing row should yield nil, got %+v", c)
	}
}

func TestHybrid_Preview(t *testing.T) {
	t.Parallel()

	store := &fakeStore{rows: map[int64]authority.Record{
		12: {ID: 12, Label: "Ageröd", Fields: map[string]any{"description": "Peat bog site"}},
	}}
	h := newTestHybrid(t, store)

	p, err := h.Preview(context.Background(), 12)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if p.EntityType != "site" || p.Label != "Ageröd" || p.Description != "Peat bog site" {
		t.Errorf("preview = %+v", p)
	}

	p, err = h.Preview(context.Background(), 999)
	if err != nil || p != nil {
		t.Errorf("missing row: preview = %+v, err = %v", p, err)
	}
}

func TestHybrid_Suggest_ReRanksByJaroWinkler(t *testing.T) {
	t.Parallel()

	store := &fakeStore{suggest: []authority.Hit{
		{ID: 1, Label: "Abiskojaure fjällsjöar", Score: 0.5},
		{ID: 2, Label: "Abisko", Score: 0.4},
	}}
	cands, err := newTestHybrid(t, store).Suggest(context.Background(), "Abisko", 5)
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].ID != 2 {
		t.Errorf("exact prefix should rank first after re-rank, got %+v", cands)
	}
}

func TestHybrid_CanonicalURI(t *testing.T) {
	t.Parallel()

	h := newTestHybrid(t, &fakeStore{})
	if got := h.CanonicalURI(42); got != testPrefix+"/site/42" {
		t.Errorf("CanonicalURI(42) = %q", got)
	}
}
