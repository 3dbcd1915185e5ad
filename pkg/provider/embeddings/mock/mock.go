// Package mock implements an in-memory embeddings.Provider for tests. It
// returns canned vectors and records the texts it was asked to embed.
package mock

import (
	"context"
	"sync"

	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall is one recorded Embed invocation.
type EmbedCall struct {
	Text string
}

// EmbedBatchCall is one recorded EmbedBatch invocation.
type EmbedBatchCall struct {
	Texts []string
}

// Provider is a configurable embeddings.Provider double. The zero value is
// usable; set the result and error fields before handing it to the code under
// test, then inspect the recorded calls afterwards.
type Provider struct {
	mu sync.Mutex

	EmbedResult      []float32
	EmbedErr         error
	EmbedBatchResult [][]float32
	EmbedBatchErr    error
	DimensionsValue  int
	ModelIDValue     string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

// EmbedBatch returns EmbedBatchResult when set. Otherwise it returns one nil
// vector per input so callers relying on positional results keep working.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	recorded := append([]string(nil), texts...)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Texts: recorded})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}
