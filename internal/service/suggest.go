package service

import (
	"context"
	"sort"
	"strings"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// Suggestion is one autocomplete entry of the suggest endpoints.
type Suggestion struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SuggestResult is the wire envelope of every suggest endpoint.
type SuggestResult struct {
	Result []Suggestion `json:"result"`
}

// SuggestEntity returns autocomplete candidates for a label prefix. With an
// entity type the lookup is restricted to that strategy; without one every
// registered strategy contributes and the union is returned best first.
func (s *Service) SuggestEntity(ctx context.Context, prefix, entity string, limit int) (SuggestResult, error) {
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	strategies := s.registry.All()
	if entity != "" {
		strat, err := s.registry.Get(entity)
		if err != nil {
			return SuggestResult{}, err
		}
		strategies = []reconcile.Strategy{strat}
	}

	type scored struct {
		sug   Suggestion
		score float64
	}
	var all []scored
	for _, strat := range strategies {
		cands, err := strat.Suggest(ctx, prefix, limit)
		if err != nil {
			// One broken strategy must not starve cross-type autocomplete.
			s.log.Warn("suggest failed", "entity", strat.Name(), "error", err)
			continue
		}
		for _, c := range cands {
			all = append(all, scored{
				sug:   Suggestion{ID: strat.CanonicalURI(c.ID), Name: c.Label, Description: strat.DisplayName()},
				score: c.Blend,
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > limit {
		all = all[:limit]
	}

	out := SuggestResult{Result: make([]Suggestion, len(all))}
	for i, sc := range all {
		out.Result[i] = sc.sug
	}
	return out, nil
}

// SuggestType returns the registered entity types whose id or display name
// starts with the prefix, case-insensitively. An empty prefix lists all.
func (s *Service) SuggestType(prefix string) SuggestResult {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	out := SuggestResult{Result: []Suggestion{}}
	for _, strat := range s.registry.All() {
		if prefix == "" ||
			strings.HasPrefix(strings.ToLower(strat.Name()), prefix) ||
			strings.HasPrefix(strings.ToLower(strat.DisplayName()), prefix) {
			out.Result = append(out.Result, Suggestion{ID: strat.Name(), Name: strat.DisplayName()})
		}
	}
	return out
}

// SuggestProperty returns property descriptors matching the prefix,
// optionally restricted to one entity type.
func (s *Service) SuggestProperty(prefix, entity string) (SuggestResult, error) {
	props, err := s.GetProperties(entity, prefix)
	if err != nil {
		return SuggestResult{}, err
	}
	out := SuggestResult{Result: make([]Suggestion, len(props))}
	for i, p := range props {
		out.Result[i] = Suggestion{ID: p.ID, Name: p.Name, Description: p.Description}
	}
	return out, nil
}

// filterProperties keeps descriptors whose id or name contains substr,
// case-insensitively. An empty substr keeps everything.
func filterProperties(props []reconcile.Property, substr string) []reconcile.Property {
	substr = strings.ToLower(strings.TrimSpace(substr))
	if substr == "" {
		return props
	}
	out := props[:0:0]
	for _, p := range props {
		if strings.Contains(strings.ToLower(p.ID), substr) ||
			strings.Contains(strings.ToLower(p.Name), substr) {
			out = append(out, p)
		}
	}
	return out
}
