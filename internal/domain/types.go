package domain

import (
	"context"
	"time"
)

// Message represents a chat message in the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound request shape for the chat endpoints.
// Optional fields override the resolved client profile's defaults.
type ChatRequest struct {
	Messages     []Message `json:"messages"`
	ClientID     string    `json:"client_id"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	MaxTokens    *int      `json:"max_tokens,omitempty"`
	Temperature  *float32  `json:"temperature,omitempty"`
}

// ChatResponse is the normalized success shape returned to callers.
type ChatResponse struct {
	Response   string    `json:"response"`
	TokensUsed int       `json:"tokens_used"`
	Timestamp  time.Time `json:"timestamp"`
}

// Usage represents upstream token accounting. The counts are taken verbatim
// from the provider's response and never re-derived.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// CompletionRequest carries the merged parameters dispatched upstream.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float32
}

// CompletionResult is a successful upstream completion.
type CompletionResult struct {
	Text  string
	Model string
	Usage Usage
}

// CompletionProvider is the upstream completion client the pipeline calls.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
}
