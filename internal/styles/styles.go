// Package styles holds the terminal styles of convoy's command output.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple (violet-400)
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red (red-400)
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BorderColor    = lipgloss.Color("#6B7280") // Gray (gray-500)

	// Process state colors
	StatePending = lipgloss.Color("#9CA3AF") // Gray
	StateRunning = lipgloss.Color("#60A5FA") // Blue
	StateOk      = lipgloss.Color("#10B981") // Green
	StateFailed  = lipgloss.Color("#F87171") // Red
	StateTimeout = lipgloss.Color("#FB923C") // Orange

	Primary = lipgloss.NewStyle().Foreground(PrimaryColor)
	Success = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(MutedColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor)

	// HostLabel prefixes each output line of a host.
	HostLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)
)

// Badge renders a short status word in the color of its state.
func Badge(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(text)
}
