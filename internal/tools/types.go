// Package tools provides the tool abstraction the WIT agent calls into.
//
// Each tool is a name, a JSON schema the model sees, and an Execute function
// taking the model's decoded arguments. Tools never panic the agent loop: the
// loop turns every error into text for the model.
//
//	LLM tool_call → Registry.Execute() → Tool.Execute() → result string
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"witlab/internal/llm"
)

// ToolCategory groups tools for listing and help output.
type ToolCategory string

const (
	// CategoryLab covers prediction, generation and instrument extraction.
	CategoryLab ToolCategory = "/lab"

	// CategoryFiles covers directory listing, path building and saving files.
	CategoryFiles ToolCategory = "/files"

	// CategoryControl covers loop control such as terminate.
	CategoryControl ToolCategory = "/control"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// JSONSchema renders the schema as a JSON Schema object.
func (s ToolSchema) JSONSchema() map[string]any {
	props := map[string]any{}
	for name, p := range s.Properties {
		var m map[string]any
		raw, _ := json.Marshal(p)
		_ = json.Unmarshal(raw, &m)
		props[name] = m
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines a tool the agent can call.
type Tool struct {
	// Name is the unique identifier the model calls the tool by.
	Name string

	// Description explains what the tool does.
	// Used for LLM tool calling and documentation.
	Description string

	// Category groups the tool.
	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Terminal marks a tool whose successful call ends the agent turn.
	Terminal bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition returns the model-facing description of the tool.
func (t *Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Schema.JSONSchema(),
	}
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}

// Text is what the model sees: the result, or the error as a message.
func (r *ToolResult) Text() string {
	if r.Error != nil {
		msg := r.Error.Error()
		if strings.HasPrefix(msg, "Error:") {
			return msg
		}
		return "Error: " + msg
	}
	return r.Result
}
