// Package anthropic adapts the Anthropic Messages API to the gateway's
// completion provider contract and normalizes its failures into the gateway
// error taxonomy.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	anthropicapi "github.com/Leikymain/chatbot-api/internal/api/anthropic"
	"github.com/Leikymain/chatbot-api/internal/domain"
)

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// Provider implements domain.CompletionProvider against the Anthropic API.
type Provider struct {
	client     *anthropicapi.Client
	baseURL    string
	httpClient *http.Client
}

// New creates a new Anthropic provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []anthropicapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, anthropicapi.WithHTTPClient(p.httpClient))
	}

	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return "anthropic"
}

// Complete dispatches the merged completion request upstream. Token counts in
// the result are taken verbatim from the provider's accounting fields.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResult, error) {
	apiReq := &anthropicapi.MessagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, anthropicapi.Message{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := p.client.CreateMessage(ctx, apiReq)
	if err != nil {
		return nil, normalizeError(err)
	}

	return &domain.CompletionResult{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: domain.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// normalizeError maps client failures into the gateway taxonomy. The provider
// answering with an error or a malformed body is an upstream error; not being
// able to ask it at all is upstream unavailability.
func normalizeError(err error) *domain.APIError {
	var apiErr *anthropicapi.Error
	if errors.As(err, &apiErr) {
		return domain.ErrUpstream("anthropic API error: " + apiErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrUpstreamUnavailable("completion request timed out: " + err.Error())
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return domain.ErrUpstreamUnavailable("completion provider unreachable: " + err.Error())
	}

	return domain.ErrUpstream("unexpected provider failure: " + err.Error())
}
