package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/rerank"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/strategy"
)

// Options tunes the protocol behaviour of the service.
type Options struct {
	// ServiceName, IdentifierSpace, SchemaSpace and BaseURL populate the
	// metadata manifest.
	ServiceName     string
	IdentifierSpace string
	SchemaSpace     string
	BaseURL         string

	DefaultLimit int

	// AutoMatchThreshold and AutoMatchMargin control the match flag of the
	// top candidate.
	AutoMatchThreshold float64
	AutoMatchMargin    float64

	// MaxConcurrent bounds parallel sub-query execution within one batch.
	// Zero means 8.
	MaxConcurrent int

	// SubQueryTimeout bounds each sub-query. Zero disables the per-query
	// deadline (the request deadline still applies).
	SubQueryTimeout time.Duration

	// FailFast short-circuits the remainder of a batch once more than half
	// of its sub-queries have failed with Overloaded.
	FailFast bool
}

// Observer receives batch-level metrics. Implemented by the metrics layer.
type Observer interface {
	ObserveReconcile(ctx context.Context, entity string, elapsed time.Duration, candidates int, errCode string)
}

// Service executes reconciliation protocol operations. Safe for concurrent
// use once constructed.
type Service struct {
	registry *strategy.Registry
	opts     Options
	reranker *rerank.Reranker
	observer Observer
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithReranker enables the LLM rerank stage.
func WithReranker(r *rerank.Reranker) Option {
	return func(s *Service) { s.reranker = r }
}

// WithObserver wires batch metrics.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New builds the service over a sealed registry.
func New(registry *strategy.Registry, opts Options, options ...Option) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	s := &Service{
		registry: registry,
		opts:     opts,
		log:      slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Reconcile executes a batch. Sub-queries run concurrently up to the
// configured bound; per-key failures are reported in place and never abort
// their siblings. The response preserves the batch's key order.
func (s *Service) Reconcile(ctx context.Context, batch Batch) BatchResult {
	results := make([]QueryResult, len(batch.Keys))

	var overloaded atomic.Int64
	failFastAt := int64(len(batch.Keys)/2 + 1)

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrent)
	for i, key := range batch.Keys {
		i, key := i, key
		g.Go(func() error {
			if s.opts.FailFast && overloaded.Load() >= failFastAt {
				results[i] = QueryResult{Result: []ProtocolCandidate{}, Error: codeOverloaded}
				return nil
			}
			results[i] = s.reconcileOne(ctx, batch.Queries[key])
			if results[i].Error == codeOverloaded {
				overloaded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait() // sub-query errors are reported in place

	out := BatchResult{Keys: batch.Keys, Results: make(map[string]QueryResult, len(batch.Keys))}
	for i, key := range batch.Keys {
		out.Results[key] = results[i]
	}
	return out
}

func (s *Service) reconcileOne(ctx context.Context, req QueryRequest) QueryResult {
	start := time.Now()
	if s.opts.SubQueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SubQueryTimeout)
		defer cancel()
	}

	if req.Type == "" {
		s.observe(ctx, req.Type, time.Since(start), 0, codeInvalidQuery)
		return QueryResult{Result: []ProtocolCandidate{}, Error: codeInvalidQuery}
	}
	strat, err := s.registry.Get(req.Type)
	if err != nil {
		s.observe(ctx, req.Type, time.Since(start), 0, codeUnknownEntityType)
		return QueryResult{Result: []ProtocolCandidate{}, Error: codeUnknownEntityType}
	}

	q := reconcile.Query{
		Text:            req.Query,
		EntityType:      req.Type,
		Limit:           req.Limit,
		Mode:            req.Mode,
		LocationTypeIDs: req.LocationTypeIDs,
	}
	for _, p := range req.Properties {
		q.Properties = append(q.Properties, reconcile.PropertyValue{PID: p.PID, Value: p.V})
	}

	cands, err := strat.Search(ctx, q)
	if err != nil {
		code := errorCode(err)
		s.log.Warn("sub-query failed", "entity", req.Type, "code", code, "error", err)
		s.observe(ctx, req.Type, time.Since(start), 0, code)
		return QueryResult{Result: []ProtocolCandidate{}, Error: code}
	}

	if s.reranker != nil && len(cands) >= 2 {
		cands = s.reranker.Rerank(ctx, req.Type, req.Query, cands)
	}

	s.observe(ctx, req.Type, time.Since(start), len(cands), "")
	return QueryResult{Result: s.toProtocol(strat, cands)}
}

// toProtocol projects candidates onto the wire shape: score is blend scaled
// to [0, 100]; the match flag is set on the top candidate only, when its
// blend clears the threshold and leads the runner-up by more than the
// margin.
func (s *Service) toProtocol(strat reconcile.Strategy, cands []reconcile.Candidate) []ProtocolCandidate {
	out := make([]ProtocolCandidate, len(cands))
	etype := []reconcile.EntityType{{ID: strat.Name(), Name: strat.DisplayName()}}
	for i, c := range cands {
		out[i] = ProtocolCandidate{
			ID:            strat.CanonicalURI(c.ID),
			Name:          c.Label,
			Score:         c.Blend * 100,
			Type:          etype,
			LLMConfidence: c.LLMConfidence,
			Metadata:      c.Metadata,
		}
	}
	if len(cands) > 0 && cands[0].Blend >= s.opts.AutoMatchThreshold {
		margin := cands[0].Blend
		if len(cands) > 1 {
			margin = cands[0].Blend - cands[1].Blend
		}
		if margin > s.opts.AutoMatchMargin {
			out[0].Match = true
		}
	}
	return out
}

// errorCode maps engine errors to wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrInvalidQuery):
		return codeInvalidQuery
	case errors.Is(err, reconcile.ErrUnknownEntityType):
		return codeUnknownEntityType
	case errors.Is(err, reconcile.ErrOverloaded),
		errors.Is(err, context.DeadlineExceeded):
		return codeOverloaded
	default:
		return codeInternal
	}
}

// Preview resolves an id reference (canonical URI or bare integer) to a
// structured preview. Bare integers are resolved against every registered
// strategy in registration order.
func (s *Service) Preview(ctx context.Context, ref string) (*reconcile.Preview, error) {
	parsed, err := reconcile.ParseRef(s.opts.IdentifierSpace, ref)
	if err != nil {
		return nil, err
	}
	if parsed.EntityType != "" {
		strat, err := s.registry.Get(parsed.EntityType)
		if err != nil {
			return nil, err
		}
		p, err := strat.Preview(ctx, parsed.ID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, reconcile.ErrNotFound
		}
		return p, nil
	}
	for _, strat := range s.registry.All() {
		p, err := strat.Preview(ctx, parsed.ID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, reconcile.ErrNotFound
}

// GetProperties lists property descriptors, optionally restricted to one
// entity type and filtered by a case-insensitive substring of id or name.
func (s *Service) GetProperties(entity, substr string) ([]reconcile.Property, error) {
	var props []reconcile.Property
	if entity != "" {
		strat, err := s.registry.Get(entity)
		if err != nil {
			return nil, err
		}
		props = strat.Properties()
	} else {
		seen := make(map[string]bool)
		for _, strat := range s.registry.All() {
			for _, p := range strat.Properties() {
				if !seen[p.ID] {
					seen[p.ID] = true
					props = append(props, p)
				}
			}
		}
	}
	return filterProperties(props, substr), nil
}

func (s *Service) observe(ctx context.Context, entity string, elapsed time.Duration, candidates int, errCode string) {
	if s.observer != nil {
		s.observer.ObserveReconcile(ctx, entity, elapsed, candidates, errCode)
	}
}
