package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"witlab/internal/logging"
)

// DefaultGeminiModel is used when the config leaves the model empty.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	client   *genai.Client
	model    string
	sampling Sampling
}

// NewGeminiClient creates a Gemini client. BaseURL is only set for tests and proxies.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model, sampling: cfg.Sampling}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Chat sends the conversation with function declarations attached.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()
	contents := MapMessagesToGenAI(req.Messages)
	logging.APIDebug("[Gemini] Chat: model=%s contents=%d tools=%d", c.model, len(contents), len(req.Tools))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(req))
	if err != nil {
		logging.APIError("[Gemini] Chat: failed after %v: %v", time.Since(startTime), err)
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	out, err := MapGenAIResponse(resp)
	if err != nil {
		return nil, err
	}
	logging.API("[Gemini] Chat: completed in %v content_len=%d tool_calls=%d", time.Since(startTime), len(out.Content), len(out.ToolCalls))
	return out, nil
}

func (c *GeminiClient) generateConfig(req ChatRequest) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.sampling.Temperature)),
		TopP:        genai.Ptr(float32(c.sampling.TopP)),
	}
	if c.sampling.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.sampling.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			}
		}
		gc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return gc
}

// MapMessagesToGenAI converts the history to GenAI contents. Consecutive tool
// results are merged into a single user turn of function responses.
func MapMessagesToGenAI(msgs []Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			// carried by SystemInstruction
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall:     &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Input},
					ThoughtSignature: tc.Signature,
				})
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: map[string]any{"output": m.Content},
			}}
			if n := len(out); n > 0 && isFunctionResponses(out[n-1]) {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return out
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// MapGenAIResponse extracts text and function calls from the first candidate.
// Thought parts are dropped; calls without an ID get a generated one.
func MapGenAIResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no completion returned")
	}
	cand := resp.Candidates[0]

	out := &ChatResponse{StopReason: string(cand.FinishReason)}
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		switch {
		case p.Thought:
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        id,
				Name:      p.FunctionCall.Name,
				Input:     args,
				Signature: p.ThoughtSignature,
			})
		case p.Text != "":
			text.WriteString(p.Text)
		}
	}
	out.Content = strings.TrimSpace(text.String())

	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}
