package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent  = lipgloss.Color("#8BC34A")
	colorWarning = lipgloss.Color("#FFC107")
	colorError   = lipgloss.Color("#e53935")
	colorMuted   = lipgloss.Color("#8a94a6")
)

// styles renders human-readable CLI output. Colors are dropped
// automatically when the writer is not a terminal.
type styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Err    lipgloss.Style
	Muted  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		Title:  r.NewStyle().Bold(true).Foreground(colorAccent),
		Header: r.NewStyle().Bold(true),
		OK:     r.NewStyle().Foreground(colorAccent),
		Warn:   r.NewStyle().Foreground(colorWarning),
		Err:    r.NewStyle().Foreground(colorError).Bold(true),
		Muted:  r.NewStyle().Foreground(colorMuted),
	}
}

// table renders rows under headers with columns padded to the widest cell.
func (s styles) table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			pad := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = style.Render(cell)
			}
			sb.WriteString(cell)
			if i < len(cells)-1 {
				sb.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers, &s.Header)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return sb.String()
}
