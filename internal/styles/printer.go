package styles

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// Printer writes styled text, stripping escape sequences when the
// destination is not a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer for w. Color is kept only when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, color: color}
}

// Color reports whether escape sequences are kept.
func (p *Printer) Color() bool { return p.color }

// Print writes s.
func (p *Printer) Print(s string) {
	if !p.color {
		s = ansi.Strip(s)
	}
	_, _ = io.WriteString(p.w, s)
}

// Printf formats and writes.
func (p *Printer) Printf(format string, args ...any) {
	p.Print(fmt.Sprintf(format, args...))
}

// Println writes s and a newline.
func (p *Printer) Println(s string) {
	p.Print(s + "\n")
}

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if truncated.
// This function properly handles ANSI escape codes and wide characters, making it
// suitable for terminal output with styling.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// TerminalWidth returns the width of the terminal on fd, or def when fd is
// not a terminal.
func TerminalWidth(fd uintptr, def int) int {
	w, _, err := term.GetSize(int(fd))
	if err != nil || w <= 0 {
		return def
	}
	return w
}
