package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"witlab/internal/llm"
	"witlab/internal/logging"
	"witlab/internal/predict"
)

// ErrContextNotList is returned when a context file is not a JSON list.
var ErrContextNotList = errors.New("context data is not a JSON list")

// SuggestRequest asks the model for new parameter sets in the style of the
// given data.
type SuggestRequest struct {
	// Context is rendered example data (see LoadContext). May be empty.
	Context string
	// Count is how many parameter sets to ask for. Default 1.
	Count int
	// PCEMin and PCEMax bound the requested efficiency, in percent. Default 21-23.
	PCEMin, PCEMax float64
	// Question overrides the generated question when set.
	Question string
}

// DefaultQuestion builds the standard request for n parameter sets.
func DefaultQuestion(n int, pceMin, pceMax float64) string {
	return fmt.Sprintf("Generate diversify %d sets of perovskite data PCE of %s%%-%s%% fill them in json format.",
		n, formatPercent(pceMin), formatPercent(pceMax))
}

func formatPercent(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// LoadContext reads a JSON list of records and renders them as numbered
// entries with their keys in file order:
//
//	No. 1:
//	  - Formula PVK: FAPbI3
//	  - PCE: 21.5
func LoadContext(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read context: %w", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var probe any
		if json.Unmarshal(data, &probe) == nil {
			return "", ErrContextNotList
		}
		return "", fmt.Errorf("failed to parse context: %w", err)
	}

	entries := make([]string, 0, len(raw))
	for i, r := range raw {
		var rec predict.Formula
		if err := json.Unmarshal(r, &rec); err != nil {
			return "", fmt.Errorf("entry %d: %w", i+1, err)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "No. %d:\n", i+1)
		for _, f := range rec {
			fmt.Fprintf(&sb, "  - %s: %s\n", f.Key, formatValue(f.Value))
		}
		entries = append(entries, sb.String())
	}
	return strings.Join(entries, "\n"), nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// SuggestMessages builds the single user message of a suggestion call.
func SuggestMessages(data, question string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(suggestTemplate, data, question)}}
}

// Suggest asks the model for new parameter sets. No tools are offered.
func Suggest(ctx context.Context, client llm.Client, req SuggestRequest) (string, error) {
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.PCEMin == 0 && req.PCEMax == 0 {
		req.PCEMin, req.PCEMax = 21, 23
	}
	if req.PCEMin > req.PCEMax {
		return "", fmt.Errorf("invalid PCE range %.2f-%.2f", req.PCEMin, req.PCEMax)
	}
	question := req.Question
	if question == "" {
		question = DefaultQuestion(req.Count, req.PCEMin, req.PCEMax)
	}

	logging.Agent("Suggest: %q (%d context chars)", question, len(req.Context))
	start := time.Now()
	resp, err := client.Chat(ctx, llm.ChatRequest{
		System:   SuggestSystemPrompt,
		Messages: SuggestMessages(req.Context, question),
	})
	elapsed := time.Since(start)
	if err != nil {
		logging.Audit().LLMCall(client.Model(), 0, elapsed.Milliseconds(), err)
		return "", fmt.Errorf("suggestion failed: %w", err)
	}
	logging.Audit().LLMCall(client.Model(), resp.Usage.TotalTokens, elapsed.Milliseconds(), nil)
	return strings.TrimSpace(resp.Content), nil
}
