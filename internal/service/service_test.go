package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/rerank"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/strategy"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/llm"
	llmmock "github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/llm/mock"
)

const testPrefix = "https://sead.example/id"

// stubStrategy is a canned reconcile.Strategy.
type stubStrategy struct {
	name       string
	display    string
	results    []reconcile.Candidate
	searchErr  error
	previews   map[int64]*reconcile.Preview
	props      []reconcile.Property
	suggestion []reconcile.Candidate
	queries    []reconcile.Query
}

func (s *stubStrategy) Name() string        { return s.name }
func (s *stubStrategy) DisplayName() string { return s.display }
func (s *stubStrategy) Search(ctx context.Context, q reconcile.Query) ([]reconcile.Candidate, error) {
	s.queries = append(s.queries, q)
	return s.results, s.searchErr
}
func (s *stubStrategy) GetByID(ctx context.Context, id int64) (*reconcile.Candidate, error) {
	return nil, nil
}
func (s *stubStrategy) Properties() []reconcile.Property { return s.props }
func (s *stubStrategy) CanonicalURI(id int64) string {
	return reconcile.BuildURI(testPrefix, s.name, id)
}
func (s *stubStrategy) Preview(ctx context.Context, id int64) (*reconcile.Preview, error) {
	return s.previews[id], nil
}
func (s *stubStrategy) Suggest(ctx context.Context, prefix string, limit int) ([]reconcile.Candidate, error) {
	return s.suggestion, nil
}

func newService(t *testing.T, opts Options, strats []*stubStrategy, options ...Option) *Service {
	t.Helper()
	reg := strategy.NewRegistry()
	for _, s := range strats {
		reg.Register(s)
	}
	reg.Seal()
	if opts.IdentifierSpace == "" {
		opts.IdentifierSpace = testPrefix
	}
	if opts.AutoMatchThreshold == 0 {
		opts.AutoMatchThreshold = 0.9
	}
	if opts.AutoMatchMargin == 0 {
		opts.AutoMatchMargin = 0.05
	}
	return New(reg, opts, options...)
}

func TestParseBatch_PreservesKeyOrder(t *testing.T) {
	t.Parallel()

	payload := `{"queries": {"z9": {"query": "a"}, "a0": {"query": "b"}, "m5": {"query": "c"}}}`
	batch, err := ParseBatch([]byte(payload))
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	want := []string{"z9", "a0", "m5"}
	if len(batch.Keys) != 3 {
		t.Fatalf("keys = %v", batch.Keys)
	}
	for i, k := range want {
		if batch.Keys[i] != k {
			t.Errorf("keys[%d] = %q, want %q", i, batch.Keys[i], k)
		}
	}
	if batch.Queries["a0"].Query != "b" {
		t.Errorf("queries = %+v", batch.Queries)
	}
}

func TestParseBatch_Invalid(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{``, `not json`, `{"nope": {}}`, `{}`} {
		if _, err := ParseBatch([]byte(payload)); err == nil {
			t.Errorf("ParseBatch(%q) expected error", payload)
		}
	}
}

func TestBatchResult_MarshalPreservesOrder(t *testing.T) {
	t.Parallel()

	b := BatchResult{
		Keys: []string{"z", "a"},
		Results: map[string]QueryResult{
			"z": {Result: []ProtocolCandidate{}},
			"a": {Result: []ProtocolCandidate{}},
		},
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if zi, ai := strings.Index(string(data), `"z"`), strings.Index(string(data), `"a"`); zi > ai {
		t.Errorf("key order lost: %s", data)
	}
}

func TestService_Reconcile(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{
		name: "site", display: "Site",
		results: []reconcile.Candidate{
			{ID: 12, Label: "Stockholm", Blend: 0.97},
			{ID: 13, Label: "Stocksund", Blend: 0.55},
		},
	}
	svc := newService(t, Options{}, []*stubStrategy{site})

	out := svc.Reconcile(context.Background(), Batch{
		Keys: []string{"q0", "q1", "q2"},
		Queries: map[string]QueryRequest{
			"q0": {Query: "Stockholm", Type: "site"},
			"q1": {Query: "x", Type: "nope"},
			"q2": {Query: "x"},
		},
	})

	r0 := out.Results["q0"]
	if r0.Error != "" || len(r0.Result) != 2 {
		t.Fatalf("q0 = %+v", r0)
	}
	top := r0.Result[0]
	if top.ID != testPrefix+"/site/12" {
		t.Errorf("id = %q", top.ID)
	}
	if top.Score != 97 {
		t.Errorf("score = %v, want 97", top.Score)
	}
	if !top.Match {
		t.Errorf("top candidate should auto-match")
	}
	if r0.Result[1].Match {
		t.Errorf("runner-up must never match")
	}
	if top.Type[0].ID != "site" || top.Type[0].Name != "Site" {
		t.Errorf("type = %+v", top.Type)
	}

	// Failing sub-queries surface codes without touching siblings.
	if out.Results["q1"].Error != "unknown_entity_type" {
		t.Errorf("q1 error = %q", out.Results["q1"].Error)
	}
	if out.Results["q2"].Error != "invalid_query" {
		t.Errorf("q2 error = %q", out.Results["q2"].Error)
	}
	for _, key := range []string{"q1", "q2"} {
		if out.Results[key].Result == nil || len(out.Results[key].Result) != 0 {
			t.Errorf("%s should carry an empty result list", key)
		}
	}
}

func TestService_Reconcile_NoMatchWithinMargin(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{
		name: "site", display: "Site",
		results: []reconcile.Candidate{
			{ID: 1, Label: "A", Blend: 0.95},
			{ID: 2, Label: "B", Blend: 0.93},
		},
	}
	svc := newService(t, Options{}, []*stubStrategy{site})
	out := svc.Reconcile(context.Background(), Batch{
		Keys:    []string{"q0"},
		Queries: map[string]QueryRequest{"q0": {Query: "A", Type: "site"}},
	})
	if out.Results["q0"].Result[0].Match {
		t.Errorf("margin 0.02 is below 0.05, match must be false")
	}
}

func TestService_Reconcile_SingleCandidateMatches(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{
		name: "site", display: "Site",
		results: []reconcile.Candidate{{ID: 1, Label: "A", Blend: 0.95}},
	}
	svc := newService(t, Options{}, []*stubStrategy{site})
	out := svc.Reconcile(context.Background(), Batch{
		Keys:    []string{"q0"},
		Queries: map[string]QueryRequest{"q0": {Query: "A", Type: "site"}},
	})
	if !out.Results["q0"].Result[0].Match {
		t.Errorf("lone strong candidate should auto-match")
	}
}

func TestService_Reconcile_InvalidQueryCode(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{name: "site", display: "Site", searchErr: reconcile.ErrInvalidQuery}
	svc := newService(t, Options{}, []*stubStrategy{site})
	out := svc.Reconcile(context.Background(), Batch{
		Keys:    []string{"q0"},
		Queries: map[string]QueryRequest{"q0": {Query: "", Type: "site"}},
	})
	if out.Results["q0"].Error != "invalid_query" {
		t.Errorf("error = %q", out.Results["q0"].Error)
	}
}

func TestService_Reconcile_FailFastOnOverload(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{name: "site", display: "Site", searchErr: reconcile.ErrOverloaded}
	svc := newService(t, Options{MaxConcurrent: 1, FailFast: true}, []*stubStrategy{site})

	keys := []string{"q0", "q1", "q2", "q3", "q4"}
	queries := make(map[string]QueryRequest, len(keys))
	for _, k := range keys {
		queries[k] = QueryRequest{Query: "x", Type: "site"}
	}
	out := svc.Reconcile(context.Background(), Batch{Keys: keys, Queries: queries})

	for _, k := range keys {
		if out.Results[k].Error != "overloaded" {
			t.Errorf("%s error = %q, want overloaded", k, out.Results[k].Error)
		}
	}
	// With serial execution and a fail-fast point past half the batch, the
	// tail never reaches the strategy.
	if len(site.queries) >= len(keys) {
		t.Errorf("fail-fast did not short-circuit: %d strategy calls", len(site.queries))
	}
}

func TestService_Reconcile_RerankerApplied(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{
		name: "site", display: "Site",
		results: []reconcile.Candidate{
			{ID: 1, Label: "Stockholm", Blend: 0.8},
			{ID: 2, Label: "Stocksund", Blend: 0.7},
		},
	}
	p := &llmmock.Provider{CompleteResult: &llm.CompletionResponse{
		Content: `{"matches": [{"id": 2, "confidence": 0.9, "reason": "better"}]}`,
	}}
	svc := newService(t, Options{}, []*stubStrategy{site},
		WithReranker(rerank.New(p, 5, time.Second)))

	out := svc.Reconcile(context.Background(), Batch{
		Keys:    []string{"q0"},
		Queries: map[string]QueryRequest{"q0": {Query: "Stocksund", Type: "site"}},
	})
	r := out.Results["q0"].Result
	if r[0].ID != testPrefix+"/site/2" {
		t.Errorf("rerank not applied: %+v", r)
	}
	if r[0].LLMConfidence == nil || *r[0].LLMConfidence != 0.9 {
		t.Errorf("llm confidence = %v", r[0].LLMConfidence)
	}
}

func TestService_Preview(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{
		name: "site", display: "Site",
		previews: map[int64]*reconcile.Preview{
			4196: {ID: 4196, EntityType: "site", Label: "Ageröd"},
		},
	}
	location := &stubStrategy{
		name: "location", display: "Location",
		previews: map[int64]*reconcile.Preview{
			7: {ID: 7, EntityType: "location", Label: "Skåne"},
		},
	}
	svc := newService(t, Options{}, []*stubStrategy{site, location})
	ctx := context.Background()

	p, err := svc.Preview(ctx, testPrefix+"/site/4196")
	if err != nil || p.Label != "Ageröd" {
		t.Errorf("Preview(uri) = %+v, %v", p, err)
	}

	// Bare integers resolve against strategies in registration order.
	p, err = svc.Preview(ctx, "7")
	if err != nil || p.EntityType != "location" {
		t.Errorf("Preview(7) = %+v, %v", p, err)
	}

	if _, err := svc.Preview(ctx, "garbage"); !errors.Is(err, reconcile.ErrMalformedID) {
		t.Errorf("Preview(garbage) error = %v, want ErrMalformedID", err)
	}
	if _, err := svc.Preview(ctx, testPrefix+"/site/999"); !errors.Is(err, reconcile.ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Preview(ctx, testPrefix+"/nope/1"); !errors.Is(err, reconcile.ErrUnknownEntityType) {
		t.Errorf("unknown type error = %v, want ErrUnknownEntityType", err)
	}
}

func TestService_GetProperties(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{name: "site", display: "Site", props: []reconcile.Property{
		{ID: "latitude", Name: "Latitude", Type: "number"},
		{ID: "country", Name: "Country", Type: "string"},
	}}
	loc := &stubStrategy{name: "location", display: "Location", props: []reconcile.Property{
		{ID: "country", Name: "Country", Type: "string"},
	}}
	svc := newService(t, Options{}, []*stubStrategy{site, loc})

	props, err := svc.GetProperties("site", "")
	if err != nil || len(props) != 2 {
		t.Errorf("GetProperties(site) = %v, %v", props, err)
	}

	// Union across types deduplicates by id.
	props, err = svc.GetProperties("", "")
	if err != nil || len(props) != 2 {
		t.Errorf("GetProperties(all) = %v, %v", props, err)
	}

	props, err = svc.GetProperties("", "lat")
	if err != nil || len(props) != 1 || props[0].ID != "latitude" {
		t.Errorf("GetProperties(lat) = %v, %v", props, err)
	}

	if _, err := svc.GetProperties("nope", ""); !errors.Is(err, reconcile.ErrUnknownEntityType) {
		t.Errorf("error = %v, want ErrUnknownEntityType", err)
	}
}

func TestService_Metadata(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{name: "site", display: "Site"}
	svc := newService(t, Options{
		ServiceName: "SEAD Authority Reconciliation",
		SchemaSpace: "https://sead.example/schema",
		BaseURL:     "https://recon.sead.example/",
	}, []*stubStrategy{site})

	m := svc.Metadata()
	if m.Name != "SEAD Authority Reconciliation" || m.IdentifierSpace != testPrefix {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.DefaultTypes) != 1 || m.DefaultTypes[0].ID != "site" {
		t.Errorf("default types = %+v", m.DefaultTypes)
	}
	if m.View.URL != "https://recon.sead.example/preview?id={{id}}" {
		t.Errorf("view url = %q", m.View.URL)
	}
	if m.Preview.Width == 0 || m.Preview.Height == 0 {
		t.Errorf("preview hints missing: %+v", m.Preview)
	}
	if m.Suggest.Entity.ServicePath != "/suggest/entity" {
		t.Errorf("suggest = %+v", m.Suggest)
	}
}

func TestService_SuggestType(t *testing.T) {
	t.Parallel()

	svc := newService(t, Options{}, []*stubStrategy{
		{name: "site", display: "Site"},
		{name: "location", display: "Location"},
	})

	out := svc.SuggestType("si")
	if len(out.Result) != 1 || out.Result[0].ID != "site" {
		t.Errorf("SuggestType(si) = %+v", out)
	}
	if out := svc.SuggestType(""); len(out.Result) != 2 {
		t.Errorf("empty prefix should list all types: %+v", out)
	}
}

func TestService_SuggestEntity(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{name: "site", display: "Site", suggestion: []reconcile.Candidate{
		{ID: 1, Label: "Abisko", Blend: 0.9},
	}}
	loc := &stubStrategy{name: "location", display: "Location", suggestion: []reconcile.Candidate{
		{ID: 2, Label: "Abisko nationalpark", Blend: 0.95},
	}}
	svc := newService(t, Options{}, []*stubStrategy{site, loc})

	out, err := svc.SuggestEntity(context.Background(), "abi", "", 10)
	if err != nil {
		t.Fatalf("SuggestEntity() error = %v", err)
	}
	if len(out.Result) != 2 {
		t.Fatalf("result = %+v", out.Result)
	}
	// Cross-strategy union ordered by score.
	if out.Result[0].ID != testPrefix+"/location/2" {
		t.Errorf("best suggestion = %+v", out.Result[0])
	}

	out, err = svc.SuggestEntity(context.Background(), "abi", "site", 10)
	if err != nil || len(out.Result) != 1 || out.Result[0].ID != testPrefix+"/site/1" {
		t.Errorf("typed suggest = %+v, %v", out, err)
	}
}

func TestService_Flyout(t *testing.T) {
	t.Parallel()

	site := &stubStrategy{
		name: "site", display: "Site",
		previews: map[int64]*reconcile.Preview{
			12: {
				ID: 12, EntityType: "site", Label: "Ageröd <b>",
				Description: "Peat bog",
				Extras:      map[string]any{"national_site_identifier": "L1970:1234"},
			},
		},
	}
	svc := newService(t, Options{}, []*stubStrategy{site})

	out, err := svc.Flyout(context.Background(), testPrefix+"/site/12")
	if err != nil {
		t.Fatalf("Flyout() error = %v", err)
	}
	if out.ID != testPrefix+"/site/12" {
		t.Errorf("id = %q", out.ID)
	}
	if !strings.Contains(out.HTML, "Ageröd &lt;b&gt;") {
		t.Errorf("label not escaped: %s", out.HTML)
	}
	if !strings.Contains(out.HTML, "Peat bog") || !strings.Contains(out.HTML, "L1970:1234") {
		t.Errorf("flyout missing content: %s", out.HTML)
	}

	if _, err := svc.Flyout(context.Background(), testPrefix+"/site/999"); !errors.Is(err, reconcile.ErrNotFound) {
		t.Errorf("missing id error = %v", err)
	}
}
