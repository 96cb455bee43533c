package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestInit_NonTerminalIsPlain(t *testing.T) {
	Init(&bytes.Buffer{})
	if got := StyleError.Render("boom"); got != "boom" {
		t.Errorf("Render() = %q, want plain text", got)
	}
}

func TestTable(t *testing.T) {
	Init(&bytes.Buffer{})
	out := Table(
		[]string{"NAME", "PORT"},
		[][]string{
			{"Arduino Uno", "COM3"},
			{"Nano", StyleMuted.Render("-")},
		},
	)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Table() produced %d lines, want 3:\n%s", len(lines), out)
	}
	// Second column starts at the same offset on every line.
	col := strings.Index(lines[0], "PORT")
	for _, line := range lines[1:] {
		if lipgloss.Width(line) <= col {
			t.Errorf("line %q is shorter than the header offset %d", line, col)
		}
	}
	if !strings.HasPrefix(lines[1][col:], "COM3") {
		t.Errorf("PORT column misaligned: %q", lines[1])
	}
}

func TestRenderHelpers_Plain(t *testing.T) {
	Init(&bytes.Buffer{})
	for name, fn := range map[string]func(string) string{
		"RenderPass":   RenderPass,
		"RenderWarn":   RenderWarn,
		"RenderFail":   RenderFail,
		"RenderAccent": RenderAccent,
		"RenderMuted":  RenderMuted,
	} {
		if got := fn(IconOK); got != IconOK {
			t.Errorf("%s() = %q, want %q", name, got, IconOK)
		}
	}
}
