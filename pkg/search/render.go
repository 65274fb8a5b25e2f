package search

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/paulschiretz/rager/pkg/entry"
)

// Renderer prints matches, styled when the writer is a color terminal.
type Renderer struct {
	w       io.Writer
	id      lipgloss.Style
	reason  lipgloss.Style
	detail  lipgloss.Style
	os      lipgloss.Style
	file    lipgloss.Style
	preview lipgloss.Style
}

// NewRenderer returns a Renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:       w,
		id:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		reason:  r.NewStyle().Bold(true),
		detail:  r.NewStyle().Foreground(lipgloss.Color("6")),
		os:      r.NewStyle().Foreground(lipgloss.Color("5")),
		file:    r.NewStyle().Foreground(lipgloss.Color("3")),
		preview: r.NewStyle().Faint(true),
	}
}

// Match prints one line for m and, with preview, its matching lines.
func (r *Renderer) Match(m Match, preview bool) {
	e := m.Entry
	user := e.User
	if user == "" {
		user = "unknown user"
	}
	reason := e.Reason
	if reason == "" {
		reason = "(no reason)"
	}
	parts := []string{
		r.id.Render(e.ID),
		r.reason.Render(reason),
		r.detail.Render(user),
	}
	if e.Version != "" {
		parts = append(parts, r.detail.Render(e.Version))
	}
	if e.OS != entry.OSUnresolved {
		parts = append(parts, r.os.Render(e.OS.String()))
	}
	if !m.Complete {
		parts = append(parts, r.preview.Render("[details only]"))
	}
	fmt.Fprintln(r.w, strings.Join(parts, "  "))

	if !preview {
		return
	}
	for _, h := range m.Hits {
		fmt.Fprintf(r.w, "    %s %s\n", r.file.Render(fmt.Sprintf("%s:%d", h.File, h.LineNo)), r.preview.Render(h.Line))
	}
}

// Files prints the file list of an entry.
func (r *Renderer) Files(files []string) {
	for _, f := range files {
		fmt.Fprintln(r.w, "  "+r.file.Render(f))
	}
}
