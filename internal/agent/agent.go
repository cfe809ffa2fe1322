// Package agent runs the WIT tool-calling loop.
//
// One turn:
//
//	user input → [model → tool calls → tool results]* → answer
//
// The loop stops when the model answers without calling a tool, when a
// terminal tool (terminate) runs, or after MaxIterations model calls. Tool
// failures are fed back to the model as text and never end the turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"witlab/internal/llm"
	"witlab/internal/logging"
	"witlab/internal/tools"
)

// Config tunes the loop.
type Config struct {
	// MaxIterations limits model calls per turn.
	MaxIterations int

	// ToolTimeout is the maximum time for a single tool execution.
	ToolTimeout time.Duration

	// NextStepPrompt is sent after the history on every model call and is not
	// stored in the session. Empty disables it.
	NextStepPrompt string
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  20,
		ToolTimeout:    5 * time.Minute,
		NextStepPrompt: NextStepPrompt,
	}
}

// EventKind labels progress events.
type EventKind string

const (
	EventThought    EventKind = "thought"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
)

// Event reports loop progress to an observer (the TUI or the run command).
type Event struct {
	Kind    EventKind
	Tool    string
	Args    map[string]any
	Text    string
	Failed  bool
	Elapsed time.Duration
}

// Result is the outcome of one turn.
type Result struct {
	Response          string
	Iterations        int
	ToolCallsExecuted int
	Terminated        bool // a terminal tool ended the turn
	MaxedOut          bool // MaxIterations was reached
	Duration          time.Duration
}

// Agent drives one conversation.
type Agent struct {
	client   llm.Client
	registry *tools.Registry
	session  *Session
	cfg      Config
	observe  func(Event)
}

// New creates an agent. session may be nil for a throwaway conversation.
func New(client llm.Client, registry *tools.Registry, session *Session, cfg Config) *Agent {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	if session == nil {
		session = NewSession(0)
	}
	return &Agent{client: client, registry: registry, session: session, cfg: cfg}
}

// OnEvent installs a progress observer. It is called from the Run goroutine.
func (a *Agent) OnEvent(fn func(Event)) { a.observe = fn }

// Session returns the conversation state.
func (a *Agent) Session() *Session { return a.session }

func (a *Agent) emit(e Event) {
	if a.observe != nil {
		a.observe(e)
	}
}

// Run processes one user input. On an LLM error the turn is rolled back so
// the session never holds a tool call without its result.
func (a *Agent) Run(ctx context.Context, input string) (*Result, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty input")
	}

	start := time.Now()
	turn := a.session.Turns() + 1
	audit := logging.AuditWithSession(a.session.ID())
	audit.TurnStart(turn, len(input))
	logging.Agent("Turn %d: %d chars, %d messages in history", turn, len(input), a.session.Len())

	mark := a.session.Len()
	a.session.append(llm.Message{Role: llm.RoleUser, Content: input})

	res, err := a.loop(tools.WithSessionID(ctx, a.session.ID()), audit)
	if err != nil {
		a.session.truncate(mark)
		audit.TurnEnd(turn, 0, time.Since(start).Milliseconds(), false)
		return nil, err
	}
	res.Duration = time.Since(start)
	a.session.endTurn()
	audit.TurnEnd(turn, res.Iterations, res.Duration.Milliseconds(), true)
	logging.Agent("Turn %d complete: %d iterations, %d tool calls, %v", turn, res.Iterations, res.ToolCallsExecuted, res.Duration)
	return res, nil
}

func (a *Agent) loop(ctx context.Context, audit *logging.AuditLogger) (*Result, error) {
	res := &Result{}
	defs := a.registry.Definitions()
	var lastText string

	for res.Iterations < a.cfg.MaxIterations {
		res.Iterations++

		resp, err := a.chat(ctx, defs, audit)
		if err != nil {
			return nil, err
		}
		a.session.append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if resp.Content != "" {
			lastText = resp.Content
			if len(resp.ToolCalls) > 0 {
				a.emit(Event{Kind: EventThought, Text: resp.Content})
			}
		}

		if len(resp.ToolCalls) == 0 {
			res.Response = resp.Content
			return res, nil
		}

		// Every call gets a result message, even after a terminal tool ran.
		var terminalOut string
		for _, call := range resp.ToolCalls {
			out, terminal := a.executeToolCall(ctx, call, audit)
			res.ToolCallsExecuted++
			a.session.append(llm.Message{
				Role:       llm.RoleTool,
				Content:    out,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
			if terminal && !res.Terminated {
				res.Terminated = true
				terminalOut = out
			}
		}
		if res.Terminated {
			res.Response = lastText
			if res.Response == "" {
				res.Response = terminalOut
			}
			return res, nil
		}
	}

	logging.AgentWarn("Max iterations reached: %d", a.cfg.MaxIterations)
	res.MaxedOut = true
	res.Response = fmt.Sprintf("Terminated: Reached max steps (%d)", a.cfg.MaxIterations)
	if lastText != "" {
		res.Response = lastText + "\n\n" + res.Response
	}
	return res, nil
}

func (a *Agent) chat(ctx context.Context, defs []llm.ToolDefinition, audit *logging.AuditLogger) (*llm.ChatResponse, error) {
	msgs := a.session.Messages()
	if a.cfg.NextStepPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: a.cfg.NextStepPrompt})
	}

	start := time.Now()
	resp, err := a.client.Chat(ctx, llm.ChatRequest{
		System:   SystemPrompt,
		Messages: msgs,
		Tools:    defs,
	})
	elapsed := time.Since(start)
	if err != nil {
		audit.LLMCall(a.client.Model(), 0, elapsed.Milliseconds(), err)
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}
	audit.LLMCall(a.client.Model(), resp.Usage.TotalTokens, elapsed.Milliseconds(), nil)
	logging.AgentDebug("LLM replied in %v: %d chars, %d tool calls", elapsed, len(resp.Content), len(resp.ToolCalls))
	return resp, nil
}

// executeToolCall runs one call under the tool timeout. The returned text is
// what the model sees, errors included.
func (a *Agent) executeToolCall(ctx context.Context, call llm.ToolCall, audit *logging.AuditLogger) (string, bool) {
	a.emit(Event{Kind: EventToolCall, Tool: call.Name, Args: call.Input})

	tool := a.registry.Get(call.Name)
	if tool == nil {
		err := fmt.Errorf("%w: %s", tools.ErrToolNotFound, call.Name)
		audit.ToolExec(call.Name, 0, err)
		text := (&tools.ToolResult{ToolName: call.Name, Error: err}).Text()
		a.emit(Event{Kind: EventToolResult, Tool: call.Name, Text: text, Failed: true})
		return text, false
	}

	toolCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
	defer cancel()

	logging.Agent("Executing tool: %s with %d args", call.Name, len(call.Input))
	result, _ := a.registry.ExecuteTool(toolCtx, tool, call.Input)
	audit.ToolExec(call.Name, result.DurationMs, result.Error)

	text := result.Text()
	a.emit(Event{
		Kind:    EventToolResult,
		Tool:    call.Name,
		Text:    text,
		Failed:  !result.IsSuccess(),
		Elapsed: time.Duration(result.DurationMs) * time.Millisecond,
	})
	return text, tool.Terminal && result.IsSuccess()
}
