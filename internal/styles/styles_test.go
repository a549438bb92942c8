package styles

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateANSI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxWidth int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact width unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"tiny width returns ellipsis", "hello", 3, "..."},
		{"empty string unchanged", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateANSI(tt.input, tt.maxWidth); got != tt.expected {
				t.Errorf("TruncateANSI(%q, %d) = %q, want %q", tt.input, tt.maxWidth, got, tt.expected)
			}
		})
	}
}

func TestTruncateANSI_StyledInput(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("node-1.lyon.grid5000.fr")
	got := TruncateANSI(styled, 10)
	if w := lipgloss.Width(got); w > 10 {
		t.Errorf("visual width = %d, want <= 10", w)
	}
}

func TestPrinter_StripsWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	if p.Color() {
		t.Fatal("a buffer is not a terminal")
	}

	p.Println("\x1b[1mdeployed:\x1b[0m a b")
	p.Printf("%d hosts\n", 2)

	if got, want := buf.String(), "deployed: a b\n2 hosts\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if strings.Contains(buf.String(), "\x1b") {
		t.Error("escape sequences were written to a non-terminal")
	}
}

func TestTerminalWidth_NotTerminal(t *testing.T) {
	if got := TerminalWidth(^uintptr(0), 80); got != 80 {
		t.Errorf("TerminalWidth() = %d, want default 80", got)
	}
}
