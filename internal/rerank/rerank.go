// Package rerank implements the optional LLM re-ranking stage: the top
// blended candidates are offered to a completion model which orders them by
// semantic fit to the original mention. The stage is strictly best-effort —
// a slow, unavailable or misbehaving model leaves the blend ordering
// untouched and never fails a request.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/llm"
)

const (
	minTopN = 5
	maxTopN = 10

	defaultTimeout = 5 * time.Second
)

const systemPrompt = `You match archaeological and environmental database entries to user mentions.
Given a mention and a list of candidate entries, order the candidates from best to worst semantic match.
Respond with JSON only, in the exact shape {"matches": [{"id": <number>, "confidence": <number 0..1>, "reason": "<short string>"}]}.
Use only the candidate ids you were given. Do not invent ids and do not repeat an id.`

// Outcome tags the metric recorded per rerank attempt.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeProvider Outcome = "provider_error"
)

// Observer receives the outcome of every rerank attempt. Implemented by the
// metrics layer.
type Observer interface {
	ObserveRerank(ctx context.Context, entity string, outcome Outcome, elapsed time.Duration)
}

// Reranker drives the completion model. Safe for concurrent use.
type Reranker struct {
	provider llm.Provider
	topN     int
	timeout  time.Duration
	observer Observer
	log      *slog.Logger
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithObserver wires outcome metrics.
func WithObserver(o Observer) Option {
	return func(r *Reranker) { r.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reranker) { r.log = log }
}

// New builds a reranker. topN is clamped to [5, 10]; a non-positive timeout
// gets the default.
func New(provider llm.Provider, topN int, timeout time.Duration, opts ...Option) *Reranker {
	if topN < minTopN {
		topN = minTopN
	}
	if topN > maxTopN {
		topN = maxTopN
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Reranker{
		provider: provider,
		topN:     topN,
		timeout:  timeout,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// rankedMatch is one entry of the model's response.
type rankedMatch struct {
	ID         int64   `json:"id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type rankedResponse struct {
	Matches []rankedMatch `json:"matches"`
}

// Rerank reorders cands by the model's judgement of fit to mention.
// Cardinality is always preserved: candidates the model omits keep their
// blend order and are appended after the ranked ones. Any model failure or
// protocol violation returns cands unchanged.
func (r *Reranker) Rerank(ctx context.Context, entity, mention string, cands []reconcile.Candidate) []reconcile.Candidate {
	if len(cands) < 2 {
		r.observe(ctx, entity, OutcomeSkipped, 0)
		return cands
	}
	n := r.topN
	if n > len(cands) {
		n = len(cands)
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.provider.Complete(cctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(mention, cands[:n]),
		Temperature:  0,
		MaxTokens:    1024,
		JSONOnly:     true,
	})
	if err != nil {
		outcome := OutcomeProvider
		if cctx.Err() != nil {
			outcome = OutcomeTimeout
		}
		r.observe(ctx, entity, outcome, time.Since(start))
		r.log.Warn("rerank unavailable, keeping blend order", "entity", entity, "error", err)
		return cands
	}

	content := ""
	if resp != nil {
		content = resp.Content
	}
	ranked, err := parseResponse(content, cands[:n])
	if err != nil {
		r.observe(ctx, entity, OutcomeInvalid, time.Since(start))
		r.log.Warn("rerank response rejected, keeping blend order", "entity", entity, "error", err)
		return cands
	}

	r.observe(ctx, entity, OutcomeApplied, time.Since(start))
	return applyOrder(cands, n, ranked)
}

func buildPrompt(mention string, cands []reconcile.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mention: %q\n\nCandidates:\n", mention)
	for _, c := range cands {
		fmt.Fprintf(&b, "- id: %d, label: %q", c.ID, c.Label)
		if d := describe(c); d != "" {
			fmt.Fprintf(&b, ", description: %q", d)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// describe builds a short candidate description from its metadata.
func describe(c reconcile.Candidate) string {
	if c.Metadata == nil {
		return ""
	}
	if d, ok := c.Metadata["description"].(string); ok {
		return d
	}
	var parts []string
	for _, key := range []string{"rank", "genus", "family", "order"} {
		if v, ok := c.Metadata[key].(string); ok {
			parts = append(parts, key+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}

// parseResponse decodes and validates the model output against the offered
// candidate set: known ids only, no duplicates, confidence within [0, 1].
func parseResponse(content string, offered []reconcile.Candidate) ([]rankedMatch, error) {
	var resp rankedResponse
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("rerank: decode: %w", err)
	}
	if len(resp.Matches) == 0 {
		return nil, fmt.Errorf("rerank: empty matches")
	}

	whitelist := make(map[int64]bool, len(offered))
	for _, c := range offered {
		whitelist[c.ID] = true
	}
	seen := make(map[int64]bool, len(resp.Matches))
	for _, m := range resp.Matches {
		if !whitelist[m.ID] {
			return nil, fmt.Errorf("rerank: invented id %d", m.ID)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("rerank: duplicate id %d", m.ID)
		}
		seen[m.ID] = true
		if m.Confidence < 0 || m.Confidence > 1 {
			return nil, fmt.Errorf("rerank: confidence %v out of range for id %d", m.Confidence, m.ID)
		}
	}
	return resp.Matches, nil
}

// applyOrder rebuilds the candidate list: model-ranked ids first in model
// order with LLMConfidence set, then every omitted candidate in blend order.
// Blend scores are never modified.
func applyOrder(cands []reconcile.Candidate, n int, ranked []rankedMatch) []reconcile.Candidate {
	byID := make(map[int64]reconcile.Candidate, n)
	for _, c := range cands[:n] {
		byID[c.ID] = c
	}

	out := make([]reconcile.Candidate, 0, len(cands))
	placed := make(map[int64]bool, len(ranked))
	for _, m := range ranked {
		c := byID[m.ID]
		conf := m.Confidence
		c.LLMConfidence = &conf
		out = append(out, c)
		placed[c.ID] = true
	}
	for _, c := range cands {
		if !placed[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func (r *Reranker) observe(ctx context.Context, entity string, outcome Outcome, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.ObserveRerank(ctx, entity, outcome, elapsed)
	}
}
