package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"witlab/internal/logging"
)

// OpenAIMessage is the wire form of Message.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// OpenAITool wraps a function definition.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is a callable function definition.
type OpenAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// OpenAIToolCall is a tool call as emitted by the model.
type OpenAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// OpenAIRequest is the /chat/completions request body.
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

// OpenAIResponse is the /chat/completions response body.
type OpenAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string           `json:"role"`
			Content   string           `json:"content"`
			ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// OpenAIClient implements Client for any OpenAI-compatible endpoint
// (DashScope compatible mode, OpenAI).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	sampling   Sampling
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
}

// NewOpenAIClient creates a client from cfg.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		sampling:   cfg.Sampling,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Chat sends the conversation and returns the first choice.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.apiKey == "" {
		logging.APIError("[OpenAI] Chat: API key not configured")
		return nil, fmt.Errorf("API key not configured")
	}

	startTime := time.Now()
	body := OpenAIRequest{
		Model:       c.model,
		Messages:    MapMessagesToOpenAI(req.System, req.Messages),
		MaxTokens:   c.sampling.MaxTokens,
		Temperature: c.sampling.Temperature,
		TopP:        c.sampling.TopP,
	}
	if len(req.Tools) > 0 {
		body.Tools = MapToolDefinitionsToOpenAI(req.Tools)
		body.ToolChoice = "auto"
	}
	logging.APIDebug("[OpenAI] Chat: model=%s messages=%d tools=%d", c.model, len(body.Messages), len(body.Tools))

	resp, err := c.execute(ctx, body)
	if err != nil {
		logging.APIError("[OpenAI] Chat: failed after %v: %v", time.Since(startTime), err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	choice := resp.Choices[0]
	calls, err := MapOpenAIToolCallsToInternal(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}
	out := &ChatResponse{
		Content:    strings.TrimSpace(choice.Message.Content),
		ToolCalls:  calls,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	logging.API("[OpenAI] Chat: completed in %v content_len=%d tool_calls=%d", time.Since(startTime), len(out.Content), len(out.ToolCalls))
	return out, nil
}

// execute performs the request, retrying transport failures and 429s.
func (c *OpenAIClient) execute(ctx context.Context, reqBody OpenAIRequest) (*OpenAIResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			logging.APIWarn("[OpenAI] retry %d/%d in %v: %v", attempt, c.maxRetries, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429): %s", strings.TrimSpace(string(body)))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var openAIResp OpenAIResponse
		if err := json.Unmarshal(body, &openAIResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if openAIResp.Error != nil {
			return nil, fmt.Errorf("API error: %s", openAIResp.Error.Message)
		}
		return &openAIResp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// MapMessagesToOpenAI prepends the system prompt and converts the history.
func MapMessagesToOpenAI(system string, msgs []Message) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, OpenAIMessage{Role: string(RoleSystem), Content: system})
	}
	for _, m := range msgs {
		om := OpenAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Input)
			if err != nil || tc.Input == nil {
				args = []byte("{}")
			}
			call := OpenAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

// MapToolDefinitionsToOpenAI converts tool definitions to OpenAI format.
func MapToolDefinitionsToOpenAI(tools []ToolDefinition) []OpenAITool {
	result := make([]OpenAITool, len(tools))
	for i, t := range tools {
		result[i] = OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return result
}

// MapOpenAIToolCallsToInternal converts OpenAI tool calls to ToolCall.
// Empty argument strings decode to an empty map.
func MapOpenAIToolCallsToInternal(calls []OpenAIToolCall) ([]ToolCall, error) {
	result := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.Type != "" && c.Type != "function" {
			continue
		}
		args := map[string]interface{}{}
		if raw := strings.TrimSpace(c.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("failed to unmarshal arguments for tool %s: %w", c.Function.Name, err)
			}
		}
		result = append(result, ToolCall{
			ID:    c.ID,
			Name:  c.Function.Name,
			Input: args,
		})
	}
	return result, nil
}
