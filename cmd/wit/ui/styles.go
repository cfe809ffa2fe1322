// Package ui provides the visual styling for the wit CLI and chat.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	LightForeground = lipgloss.Color("#1B2A41")
	LightPrimary    = lipgloss.Color("#1B4F72")
	LightAccent     = lipgloss.Color("#D35400") // perovskite orange
	LightMuted      = lipgloss.Color("#8A94A6")
	LightBorder     = lipgloss.Color("#D5DBE3")

	DarkForeground = lipgloss.Color("#F2F2F2")
	DarkPrimary    = lipgloss.Color("#F39C12")
	DarkAccent     = lipgloss.Color("#5DADE2")
	DarkMuted      = lipgloss.Color("#6C7A89")
	DarkBorder     = lipgloss.Color("#2E3C50")

	Destructive = lipgloss.Color("#E53935")
	Success     = lipgloss.Color("#27AE60")
	Warning     = lipgloss.Color("#FFC107")
)

// Theme holds the current color scheme
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme
func LightTheme() Theme {
	return Theme{
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
	}
}

// DarkTheme returns the dark mode theme
func DarkTheme() Theme {
	return Theme{
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		IsDark:     true,
	}
}

// DetectTheme reads COLORFGBG ("fg;bg") and WIT_DARK_MODE; light otherwise.
func DetectTheme() Theme {
	if parts := strings.Split(os.Getenv("COLORFGBG"), ";"); len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil && ((bg >= 0 && bg <= 6) || bg == 8) {
			return DarkTheme()
		}
	}
	if os.Getenv("WIT_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds all the styled components
type Styles struct {
	Theme Theme

	Header lipgloss.Style
	Footer lipgloss.Style

	Title lipgloss.Style
	Body  lipgloss.Style
	Muted lipgloss.Style
	Bold  lipgloss.Style

	Prompt        lipgloss.Style
	UserInput     lipgloss.Style
	AgentResponse lipgloss.Style
	ToolCall      lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style

	Spinner lipgloss.Style
	Divider lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),
		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 2),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),
		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),
		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),
		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Prompt: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),
		UserInput: lipgloss.NewStyle().
			Foreground(theme.Foreground),
		AgentResponse: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(theme.Accent),
		ToolCall: lipgloss.NewStyle().
			Foreground(theme.Muted).
			PaddingLeft(2),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),
		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),
		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),
		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),
	}
}

// DefaultStyles returns styles for the detected theme
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// RenderDivider returns a horizontal divider
func (s Styles) RenderDivider(width int) string {
	if width < 1 {
		width = 1
	}
	return s.Divider.Render(strings.Repeat("─", width))
}
