package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"witlab/internal/config"
)

func testConfig(url string) Config {
	return Config{
		Provider:   ProviderDashScope,
		APIKey:     "sk-test",
		BaseURL:    url,
		Model:      "qwen-plus",
		Timeout:    5 * time.Second,
		Sampling:   Sampling{Temperature: 0.7, TopP: 0.9, MaxTokens: 4096},
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

func TestOpenAIClient_ToolCall(t *testing.T) {
	var got OpenAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "  ",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "folder_reader", "arguments": "{\"path\": \"/lab\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL))
	resp, err := c.Chat(context.Background(), ChatRequest{
		System:   "You are WITAgent.",
		Messages: []Message{{Role: RoleUser, Content: "list /lab"}},
		Tools: []ToolDefinition{{
			Name:        "folder_reader",
			Description: "List a directory",
			InputSchema: map[string]interface{}{"type": "object"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "qwen-plus", got.Model)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 0.9, got.TopP)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)

	assert.Equal(t, "", resp.Content)
	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
	want := []ToolCall{{ID: "call_1", Name: "folder_reader", Input: map[string]interface{}{"path": "/lab"}}}
	if diff := cmp.Diff(want, resp.ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenAIClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" done "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient(testConfig(srv.URL)).Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(testConfig(srv.URL)).Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(testConfig(srv.URL)).Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	_, err := NewOpenAIClient(cfg).Chat(context.Background(), ChatRequest{})
	assert.EqualError(t, err, "API key not configured")
}

func TestMapMessagesToOpenAI(t *testing.T) {
	msgs := MapMessagesToOpenAI("", []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "terminate", Input: map[string]interface{}{"status": "success"}}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "terminate", Content: "ok"},
	})
	require.Len(t, msgs, 3, "empty system prompt is skipped")
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.JSONEq(t, `{"status":"success"}`, msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
}

func TestMapOpenAIToolCallsToInternal_EmptyArguments(t *testing.T) {
	var call OpenAIToolCall
	call.ID = "c"
	call.Type = "function"
	call.Function.Name = "terminate"

	got, err := MapOpenAIToolCallsToInternal([]OpenAIToolCall{call})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Input)

	call.Function.Arguments = "{not json"
	_, err = MapOpenAIToolCallsToInternal([]OpenAIToolCall{call})
	assert.Error(t, err)
}

func TestMapMessagesToGenAI(t *testing.T) {
	contents := MapMessagesToGenAI([]Message{
		{Role: RoleSystem, Content: "ignored"},
		{Role: RoleUser, Content: "evaluate"},
		{Role: RoleAssistant, Content: "calling", ToolCalls: []ToolCall{
			{ID: "a", Name: "Evaluator", Input: map[string]interface{}{"Formula": "FA1Pb1I3"}},
			{ID: "b", Name: "folder_reader", Input: map[string]interface{}{"path": "/lab"}},
		}},
		{Role: RoleTool, ToolCallID: "a", Name: "Evaluator", Content: "PCE 20"},
		{Role: RoleTool, ToolCallID: "b", Name: "folder_reader", Content: "/lab/x"},
	})
	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.Len(t, contents[1].Parts, 3)
	assert.Equal(t, "Evaluator", contents[1].Parts[1].FunctionCall.Name)

	require.Len(t, contents[2].Parts, 2, "tool results merged into one turn")
	assert.Equal(t, "b", contents[2].Parts[1].FunctionResponse.ID)
	assert.Equal(t, map[string]any{"output": "/lab/x"}, contents[2].Parts[1].FunctionResponse.Response)
}

func TestMapGenAIResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Looking "},
				{Text: "now."},
				{FunctionCall: &genai.FunctionCall{Name: "folder_reader", Args: map[string]any{"path": "/lab"}}, ThoughtSignature: []byte("sig")},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 2, TotalTokenCount: 9},
	}

	out, err := MapGenAIResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "Looking now.", out.Content)
	assert.Equal(t, "STOP", out.StopReason)
	assert.Equal(t, Usage{InputTokens: 7, OutputTokens: 2, TotalTokens: 9}, out.Usage)
	require.Len(t, out.ToolCalls, 1)
	assert.NotEmpty(t, out.ToolCalls[0].ID)
	assert.Equal(t, []byte("sig"), out.ToolCalls[0].Signature)

	_, err = MapGenAIResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}

func TestGeminiClient_Chat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-test:generateContent")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"functionCall": {"name": "terminate", "args": {"status": "success"}}}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 1, "totalTokenCount": 5}
		}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Provider = ProviderGemini
	cfg.Model = "gemini-test"
	c, err := NewGeminiClient(context.Background(), cfg)
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), ChatRequest{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "bye"}},
		Tools:    []ToolDefinition{{Name: "terminate", InputSchema: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "terminate", resp.ToolCalls[0].Name)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Contains(t, body, "systemInstruction")
	assert.Contains(t, body, "tools")
}

func TestConfigFrom_ProviderDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	c := ConfigFrom(cfg)
	assert.Equal(t, "https://dashscope.aliyuncs.com/compatible-mode/v1", c.BaseURL)
	assert.Equal(t, "qwen-plus", c.Model)
	assert.Equal(t, 120*time.Second, c.Timeout)
	assert.Equal(t, 5*time.Second, c.RetryDelay)

	cfg.LLM.Provider = ProviderOpenAI
	c = ConfigFrom(cfg)
	assert.Equal(t, "https://api.openai.com/v1", c.BaseURL)
	assert.Equal(t, "gpt-4o", c.Model)

	cfg.LLM.Provider = ProviderGemini
	cfg.LLM.Model = "gemini-2.5-pro"
	c = ConfigFrom(cfg)
	assert.Equal(t, "gemini-2.5-pro", c.Model, "explicit model kept")
}

func TestNewClient(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := NewClient(context.Background(), cfg)
	assert.Error(t, err, "missing key")

	cfg.LLM.APIKey = "k"
	c, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	cfg.LLM.Provider = ProviderGemini
	c, err = NewClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, c)
	assert.Equal(t, DefaultGeminiModel, c.Model())

	cfg.LLM.Provider = "claude"
	_, err = NewClient(context.Background(), cfg)
	assert.Error(t, err)
}
