// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a service that maps text strings to dense float32
// vectors (e.g., OpenAI text-embedding-3, or a local sentence transformer served
// by Ollama). The reconciliation engine uses these vectors for the semantic
// retrieval channel: the raw mention is embedded and compared against the
// pre-computed per-row vectors stored next to each authority table.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the
// same dimensionality (returned by Dimensions), and that dimensionality must
// match the vector column of the authority-side embedding tables. The service
// verifies this once at startup; mixing vectors from differently-configured
// providers in one similarity computation is a configuration error.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The input is
	// the raw mention, not the normalized form — casing and diacritics carry
	// signal the embedding model uses. Returns a float32 slice of length
	// Dimensions() or an error if the request fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings in a
	// single provider call. The returned slice has the same length as texts and
	// the i-th element corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or if ctx is cancelled.
	// Partial results are not returned — on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by
	// this provider. Constant for the lifetime of the Provider instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for embeddings
	// (e.g., "text-embedding-3-small"). Useful for logging and for ensuring the
	// query-side model matches the one that populated the stored vectors.
	ModelID() string
}
