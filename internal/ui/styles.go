// Package ui holds terminal styling for sketchd command output.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Semantic color palette.
var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#0077AA", Dark: "#00BFFF"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#008A3E", Dark: "#00E676"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#B38600", Dark: "#FFD700"}
	colorDanger  = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF5252"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6E6E6E", Dark: "#8C8C8C"}
)

// Status icons.
const (
	IconOK       = "✓"
	IconFail     = "✗"
	IconWarn     = "!"
	IconSelected = "●"
	IconNone     = " "
)

var (
	StyleHeader  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	StyleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	StyleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	StyleError   = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	StyleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	StyleBold    = lipgloss.NewStyle().Bold(true)
)

// Init picks the color profile for w. Output that is not a terminal, or a
// NO_COLOR environment, gets plain text.
func Init(w io.Writer) {
	f, ok := w.(*os.File)
	if !ok || !IsTerminal(f) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	output := termenv.NewOutput(f)
	lipgloss.SetColorProfile(output.EnvColorProfile())
	lipgloss.SetHasDarkBackground(output.HasDarkBackground())
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RenderPass styles s as a success marker.
func RenderPass(s string) string {
	return StyleSuccess.Render(s)
}

// RenderWarn styles s as a warning marker.
func RenderWarn(s string) string {
	return StyleWarning.Render(s)
}

// RenderFail styles s as a failure marker.
func RenderFail(s string) string {
	return StyleError.Render(s)
}

// RenderAccent styles s with the primary color.
func RenderAccent(s string) string {
	return StyleHeader.Render(s)
}

// RenderMuted styles s as secondary text.
func RenderMuted(s string) string {
	return StyleMuted.Render(s)
}

// Table renders rows as left-aligned columns under a styled header.
// Cells may already carry styles; widths are measured without them.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		b.WriteString("\n")
	}
	writeRow(header, &StyleHeader)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}
