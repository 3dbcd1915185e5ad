// Package openai adapts the official OpenAI SDK to the llm.Provider interface
// using the chat completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider calls the OpenAI chat completions API with a fixed model.
type Provider struct {
	client oai.Client
	model  string
}

// Option adds SDK request options to the underlying client.
type Option func() option.RequestOption

// WithBaseURL points the client at a different API endpoint, for proxies or
// compatible servers.
func WithBaseURL(url string) Option {
	return func() option.RequestOption { return option.WithBaseURL(url) }
}

// WithOrganization sets the OpenAI organization header on every request.
func WithOrganization(org string) Option {
	return func() option.RequestOption { return option.WithOrganization(org) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func() option.RequestOption {
		return option.WithHTTPClient(&http.Client{Timeout: d})
	}
}

// New returns a Provider authenticated with apiKey. Both apiKey and model are
// required.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	reqOpts := make([]option.RequestOption, 0, len(opts)+1)
	reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	for _, o := range opts {
		reqOpts = append(reqOpts, o())
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete sends the prompt pair as a chat completion and returns the first
// choice. JSONOnly switches the response format to json_object mode.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if req.UserPrompt == "" {
		return nil, fmt.Errorf("openai: user prompt must not be empty")
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, oai.UserMessage(req.UserPrompt))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONOnly {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// ModelID returns the configured model name.
func (p *Provider) ModelID() string {
	return p.model
}
