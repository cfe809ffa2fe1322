package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SimpleTable renders static rows with aligned columns.
type SimpleTable struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// NewSimpleTable creates a new SimpleTable with the given title and headers.
func NewSimpleTable(title string, headers ...string) *SimpleTable {
	return &SimpleTable{Title: title, Headers: headers}
}

// AddRow adds a row to the table. Missing cells render empty.
func (t *SimpleTable) AddRow(row ...string) {
	t.Rows = append(t.Rows, row)
}

// View renders the table; an empty table renders as "".
func (t *SimpleTable) View(styles Styles) string {
	if len(t.Rows) == 0 {
		return ""
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < len(widths) && i < len(row); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}
	// lipgloss Width includes padding
	total := len(widths) - 1
	for i := range widths {
		widths[i] += 2
		total += widths[i]
	}

	header := styles.Bold.Padding(0, 1)
	cell := styles.Body.Padding(0, 1)
	sep := styles.Muted.Render("|")

	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteString("\n")
	}
	writeRow := func(style lipgloss.Style, row []string) {
		for i := range widths {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			sb.WriteString(style.Width(widths[i]).Render(v))
			if i < len(widths)-1 {
				sb.WriteString(sep)
			}
		}
		sb.WriteString("\n")
	}

	writeRow(header, t.Headers)
	sb.WriteString(styles.Muted.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")
	for _, row := range t.Rows {
		writeRow(cell, row)
	}
	return sb.String()
}
