package provider

import (
	"context"
	"time"
)

// Provider is a single external AI backend. The model call is the only
// suspension point in the orchestration layer, so every Chat takes a
// context and honors its deadline.
type Provider interface {
	ID() string
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	HealthCheck(ctx context.Context) error
}

// ChatRequest is a request to an AI backend.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is a completed model response.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config holds configuration for a provider instance.
type Config struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Models   []string      `json:"models,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}
