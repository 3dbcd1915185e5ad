// Package llm defines the Provider interface for Large Language Model backends.
//
// The reconciliation engine uses an LLM for exactly one optional task:
// reranking a short list of blended candidates against the original mention.
// The interface is therefore deliberately small — a single non-streaming
// completion call with a system and a user prompt. Providers wrap a remote or
// local model API (OpenAI, or anything reachable through any-llm-go) and must
// be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the prompts.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// UserPrompt must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before the
	// user prompt. Providers that lack a dedicated system role prepend it as a
	// "system"-role message.
	SystemPrompt string

	// UserPrompt is the task content, e.g. the mention plus the candidate list.
	UserPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. The rerank uses a
	// low value; 0 means the provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int

	// JSONOnly asks the backend for a JSON-object response where the API
	// supports it (OpenAI response_format). Providers without native support
	// ignore it; the caller validates the output either way.
	JSONOnly bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly — the rerank runs under a tight per-call deadline and
// abandons the result when it expires.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the backing model identifier, for logging.
	ModelID() string
}
