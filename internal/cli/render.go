package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/mlexpertio/neuromind/internal/transport"
)

// streamPrinter writes the new suffix of each buffer as a turn streams in.
type streamPrinter struct {
	out   io.Writer
	theme Theme

	reasoningLen int
	contentLen   int
	inContent    bool
}

func (p *streamPrinter) update(reasoning, content string) {
	if len(reasoning) > p.reasoningLen {
		if p.reasoningLen == 0 {
			fmt.Fprintln(p.out, p.theme.Header.Render("Thinking"))
		}
		fmt.Fprint(p.out, p.theme.Reasoning.Render(reasoning[p.reasoningLen:]))
		p.reasoningLen = len(reasoning)
	}
	if len(content) > p.contentLen {
		if !p.inContent {
			if p.reasoningLen > 0 {
				fmt.Fprint(p.out, "\n\n")
			}
			fmt.Fprintln(p.out, p.theme.Header.Render("Answer"))
			p.inContent = true
		}
		fmt.Fprint(p.out, p.theme.Answer.Render(content[p.contentLen:]))
		p.contentLen = len(content)
	}
}

func (p *streamPrinter) finish() {
	if p.reasoningLen > 0 || p.contentLen > 0 {
		fmt.Fprintln(p.out)
	}
}

// HistoryMarkdown formats a thread's messages as a markdown transcript.
func HistoryMarkdown(thread string, msgs []transport.MessageInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", thread)
	if len(msgs) == 0 {
		b.WriteString("_No messages yet._\n")
		return b.String()
	}
	for _, m := range msgs {
		who := "NeuroMind"
		if m.Role == "human" {
			who = "You"
		}
		fmt.Fprintf(&b, "**%s:**\n\n%s\n\n---\n\n", who, m.Content)
	}
	return b.String()
}

// RenderMarkdown renders md for the terminal. Plain styles are used when
// color is off. The raw markdown is returned if rendering fails.
func RenderMarkdown(md string, width int, color bool) string {
	if width <= 0 {
		width = 80
	}
	style := glamour.WithStylePath("notty")
	if color {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
