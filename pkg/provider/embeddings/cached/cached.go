// Package cached decorates an embeddings.Provider with a bounded TTL-LRU cache
// and a bounded exponential-backoff retry policy for transient failures.
//
// The reconciliation service embeds every incoming mention once per sub-query;
// spreadsheet reconciliation workloads repeat mentions heavily (the same taxon
// or site name appears in many rows), so a small cache keyed by the exact input
// string removes most provider round-trips. The cache stores vectors by the raw
// mention text — not the normalized form — matching what is actually sent to
// the model.
package cached

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings"
)

// Config controls the cache and retry behaviour of the decorator.
type Config struct {
	// MaxEntries bounds the number of cached vectors. When <= 0, 4096 is used.
	MaxEntries int

	// TTL is how long a cached vector stays valid. When <= 0, 1 hour is used.
	TTL time.Duration

	// MaxRetries is the number of retry attempts after the initial call.
	// When 0, 3 is used; negative values disable retries.
	MaxRetries int

	// InitialBackoff is the first retry delay. When <= 0, 200ms is used.
	InitialBackoff time.Duration

	// NoCache keeps the retry policy but skips the LRU entirely. Used when
	// the deployment turns the cache off.
	NoCache bool

	// Observer, when set, is notified of every cache lookup.
	Observer Observer
}

// Observer receives cache hit/miss events. Implemented by the metrics layer.
type Observer interface {
	RecordCacheEvent(ctx context.Context, hit bool)
}

// Provider wraps an inner embeddings.Provider with caching and retries.
// It is safe for concurrent use; the expirable LRU handles its own locking.
type Provider struct {
	inner embeddings.Provider
	cache *expirable.LRU[string, []float32]
	cfg   Config
}

// Compile-time interface check.
var _ embeddings.Provider = (*Provider)(nil)

// New wraps inner with the cache and retry policy described by cfg.
func New(inner embeddings.Provider, cfg Config) *Provider {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 3
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	p := &Provider{inner: inner, cfg: cfg}
	if !cfg.NoCache {
		p.cache = expirable.NewLRU[string, []float32](cfg.MaxEntries, nil, cfg.TTL)
	}
	return p
}

// Embed implements embeddings.Provider. Cache hits are returned without
// touching the inner provider; misses call the inner provider under the retry
// policy and populate the cache on success.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.cache != nil {
		if vec, ok := p.cache.Get(text); ok {
			p.observe(ctx, true)
			return vec, nil
		}
		p.observe(ctx, false)
	}

	vec, err := p.retryEmbed(ctx, text)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Add(text, vec)
	}
	return vec, nil
}

// EmbedBatch implements embeddings.Provider. Texts already cached are served
// locally; only the misses are forwarded to the inner provider in a single
// batch call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if p.cache == nil {
		return p.inner.EmbedBatch(ctx, texts)
	}

	result := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := p.cache.Get(t); ok {
			p.observe(ctx, true)
			result[i] = vec
		} else {
			p.observe(ctx, false)
			missing = append(missing, t)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := p.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range fetched {
		result[missingIdx[j]] = vec
		p.cache.Add(missing[j], vec)
	}
	return result, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.inner.ModelID() }

// Len reports the current number of cached vectors. Exposed for metrics.
func (p *Provider) Len() int {
	if p.cache == nil {
		return 0
	}
	return p.cache.Len()
}

// retryEmbed calls the inner Embed under exponential backoff. Context
// cancellation is treated as permanent.
func (p *Provider) retryEmbed(ctx context.Context, text string) ([]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialBackoff

	var vec []float32
	op := func() error {
		var err error
		vec, err = p.inner.Embed(ctx, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *Provider) observe(ctx context.Context, hit bool) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.RecordCacheEvent(ctx, hit)
	}
}
