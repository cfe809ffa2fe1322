// Package llm implements the chat-completion backends the WIT agent talks to:
// any OpenAI-compatible endpoint (DashScope, OpenAI) and Gemini via genai.
package llm

import (
	"context"
	"time"
)

// Client is a tool-calling chat model.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Model() string
}

// Role of a message in the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation entry. Tool results carry ToolCallID and Name.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition describes a tool that the model can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`

	// Signature is an opaque provider token (Gemini thought signature) that
	// must be echoed back with the call on the next turn.
	Signature []byte `json:"-"`
}

// Usage captures token counts reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatRequest is a full conversation plus the tools on offer.
type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// ChatResponse holds the assistant text and any tool calls.
type ChatResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	StopReason string     `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// Sampling is the fixed per-deployment generation setting.
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Config holds what every provider needs.
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Sampling   Sampling
	MaxRetries int
	RetryDelay time.Duration
}
