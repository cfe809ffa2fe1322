// Package chat provides the interactive TUI chat interface for WIT.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"witlab/cmd/wit/ui"
	"witlab/internal/agent"
	"witlab/internal/logging"
)

// Runner is the part of the agent the chat drives.
type Runner interface {
	Run(ctx context.Context, input string) (*agent.Result, error)
	OnEvent(fn func(agent.Event))
	Session() *agent.Session
}

// Message is one rendered chat entry.
type Message struct {
	Role    string // user, assistant, tool, notice, warning, error
	Content string
	Time    time.Time
}

type (
	responseMsg *agent.Result
	errorMsg    error
	eventMsg    agent.Event
)

const helpText = `Commands:
  /clear  start a new session
  /help   show this help
  /exit   quit (also: exit, quit, Ctrl+C)

Try: "List the folders under the data directory" or
"Predict PCE for Cs0.05FA0.81MA0.14PbI2.55Br0.45 with MACl 0.1 as additive"`

// Model is the main model for the interactive chat interface
type Model struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   ui.Styles

	runner     Runner
	ctx        context.Context
	cancel     context.CancelFunc
	turnCancel context.CancelFunc
	events     chan agent.Event
	timeout    time.Duration

	history []Message
	busy    bool
	ready   bool
	width   int
	height  int
}

// New creates the chat model. The runner's event observer is replaced so
// tool activity shows up in the transcript.
func New(ctx context.Context, runner Runner, timeout time.Duration, notice string) Model {
	styles := ui.DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask WIT... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "| "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)

	ctx, cancel := context.WithCancel(ctx)
	m := Model{
		input:    ti,
		viewport: vp,
		spinner:  sp,
		renderer: newRenderer(styles, 80),
		styles:   styles,
		runner:   runner,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan agent.Event, 64),
		timeout:  timeout,
	}

	events := m.events
	runner.OnEvent(func(e agent.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	})

	m.history = append(m.history, Message{Role: "assistant", Content: welcome, Time: time.Now()})
	if notice != "" {
		m.history = append(m.history, Message{Role: "warning", Content: notice, Time: time.Now()})
	}
	m.refresh()
	return m
}

const welcome = "**WIT** laboratory assistant. I can recommend formulas, predict PCE/FF/Voc/Jsc, browse experiment folders and read IV or in-situ files. Type `/help` for commands."

func newRenderer(styles ui.Styles, width int) *glamour.TermRenderer {
	style := glamour.WithStylePath("light")
	if styles.Theme.IsDark {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return r
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listenEvents())
}

func (m Model) listenEvents() tea.Cmd {
	events := m.events
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case e := <-events:
			return eventMsg(e)
		case <-ctx.Done():
			return nil
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.busy && m.turnCancel != nil {
				m.turnCancel()
				return m, nil
			}
			m.cancel()
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		ev := agent.Event(msg)
		if line := formatEvent(ev); line != "" {
			role := "tool"
			if ev.Failed {
				role = "warning"
			}
			m.addMessage(Message{Role: role, Content: line, Time: time.Now()})
		}
		return m, m.listenEvents()

	case responseMsg:
		m.busy = false
		m.turnCancel = nil
		res := (*agent.Result)(msg)
		m.addMessage(Message{Role: "assistant", Content: res.Response, Time: time.Now()})
		logging.Agent("chat turn: %d iterations, %d tool calls", res.Iterations, res.ToolCallsExecuted)
		return m, nil

	case errorMsg:
		m.busy = false
		m.turnCancel = nil
		m.addMessage(Message{Role: "error", Content: fmt.Sprintf("Error: %v", error(msg)), Time: time.Now()})
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles the input line: a slash command or a request for the agent.
func (m Model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if input == "" {
		return m, nil
	}

	switch strings.ToLower(input) {
	case "/exit", "/quit", "exit", "quit":
		m.cancel()
		return m, tea.Quit
	case "/help":
		m.addMessage(Message{Role: "assistant", Content: "```\n" + helpText + "\n```", Time: time.Now()})
		return m, nil
	case "/clear":
		m.runner.Session().Reset()
		m.history = nil
		m.addMessage(Message{Role: "notice", Content: "Started a new session.", Time: time.Now()})
		return m, nil
	}

	m.addMessage(Message{Role: "user", Content: input, Time: time.Now()})
	m.busy = true

	turnCtx, cancel := context.WithTimeout(m.ctx, m.timeout)
	m.turnCancel = cancel
	runner := m.runner
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		defer cancel()
		res, err := runner.Run(turnCtx, input)
		if err != nil {
			return errorMsg(err)
		}
		return responseMsg(res)
	})
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vpHeight := height - 5 // header, divider, input, footer
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.Width = width - 4
	m.renderer = newRenderer(m.styles, width-4)
	m.refresh()
}

func (m *Model) addMessage(msg Message) {
	m.history = append(m.history, msg)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	var sb strings.Builder
	for _, msg := range m.history {
		switch msg.Role {
		case "user":
			sb.WriteString(m.styles.Prompt.Render("You: "))
			sb.WriteString(m.styles.UserInput.Render(msg.Content))
			sb.WriteString("\n\n")
		case "tool":
			sb.WriteString(m.styles.ToolCall.Render(msg.Content))
			sb.WriteString("\n")
		case "notice":
			sb.WriteString(m.styles.Success.Render(msg.Content))
			sb.WriteString("\n\n")
		case "warning":
			sb.WriteString(m.styles.Warning.Render(msg.Content))
			sb.WriteString("\n\n")
		case "error":
			sb.WriteString(m.styles.Error.Render(msg.Content))
			sb.WriteString("\n\n")
		default:
			sb.WriteString(m.renderMarkdown(msg.Content))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (m Model) renderMarkdown(s string) string {
	if m.renderer == nil {
		return m.styles.AgentResponse.Render(s) + "\n"
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return m.styles.AgentResponse.Render(s) + "\n"
	}
	return out
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render("WIT lab assistant"))
	sb.WriteString("\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")
	sb.WriteString(m.styles.RenderDivider(m.width))
	sb.WriteString("\n")
	if m.busy {
		sb.WriteString(m.spinner.View())
		sb.WriteString(m.styles.Muted.Render(" working... (Ctrl+C to cancel)"))
	} else {
		sb.WriteString(m.input.View())
	}
	sb.WriteString("\n")
	sb.WriteString(m.styles.Footer.Render(fmt.Sprintf("session %s | turns %d", shortID(m.runner.Session().ID()), m.runner.Session().Turns())))
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatEvent renders agent progress for the transcript.
func formatEvent(e agent.Event) string {
	switch e.Kind {
	case agent.EventThought:
		return "✨ " + e.Text
	case agent.EventToolCall:
		return "🔧 " + e.Tool
	case agent.EventToolResult:
		status := "✓"
		if e.Failed {
			status = "✗"
		}
		return fmt.Sprintf("%s %s (%dms)\n%s", status, e.Tool, e.Elapsed.Milliseconds(), truncate(e.Text, 600))
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Run starts the full-screen chat program.
func Run(ctx context.Context, runner Runner, timeout time.Duration, notice string) error {
	m := New(ctx, runner, timeout, notice)
	defer m.cancel()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
