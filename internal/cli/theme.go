package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Prompt    lipgloss.Style
	Thread    lipgloss.Style
	Reasoning lipgloss.Style
	Answer    lipgloss.Style
	System    lipgloss.Style
	Error     lipgloss.Style
	Header    lipgloss.Style
	Card      lipgloss.Style
}

// NewTheme builds styles bound to w, so color is dropped when w is not a
// terminal.
func NewTheme(w io.Writer) Theme {
	r := lipgloss.NewRenderer(w)
	return Theme{
		Prompt: r.NewStyle().
			Foreground(lipgloss.Color("39")). // Blue
			Bold(true),

		Thread: r.NewStyle().
			Foreground(lipgloss.Color("13")). // Bright magenta
			Bold(true),

		Reasoning: r.NewStyle().
			Foreground(lipgloss.Color("241")). // Gray
			Italic(true),

		Answer: r.NewStyle().
			Foreground(lipgloss.Color("252")), // Light gray

		System: r.NewStyle().
			Foreground(lipgloss.Color("76")), // Green

		Error: r.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true),

		Header: r.NewStyle().
			Foreground(lipgloss.Color("12")). // Bright blue
			Bold(true),

		Card: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
	}
}
