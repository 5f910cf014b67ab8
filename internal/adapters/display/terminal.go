package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Палитра панели.
var (
	colorBorder  = lipgloss.Color("#4b5563")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorBright  = lipgloss.Color("#f9fafb")
	colorHealthy = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#d97706")
	colorDanger  = lipgloss.Color("#dc2626")
)

const panelWidth = 32

// Terminal рисует кадр рамкой lipgloss в writer (обычно — stdout консоли readline).
type Terminal struct {
	w io.Writer
}

// NewTerminal создаёт панель.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

// Render реализует Sink.
func (t *Terminal) Render(f Frame) error {
	_, err := fmt.Fprintln(t.w, View(f))
	return err
}

// View собирает текст панели.
func View(f Frame) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(colorBright).Render(f.Title)

	var body []string
	switch {
	case f.Update != "":
		body = append(body, lipgloss.NewStyle().Foreground(colorWarning).Render(f.Update))
	case len(f.Entries) == 0:
		body = append(body, lipgloss.NewStyle().Foreground(colorDimmed).Render(f.Status))
	default:
		confirmed := lipgloss.NewStyle().Bold(true)
		pending := lipgloss.NewStyle().Faint(true)
		for _, e := range f.Entries {
			if e.Confirmed {
				body = append(body, confirmed.Render(e.Name))
			} else {
				body = append(body, pending.Render(e.Name+" …"))
			}
		}
	}

	footer := []string{sessionBadge(f.Session)}
	if f.Update == "" && len(f.Entries) > 0 && f.Status != "" {
		footer = append(footer, f.Status)
	}
	if c := countLine(f); c != "" {
		footer = append(footer, c)
	}
	if f.Footer != "" {
		footer = append(footer, lipgloss.NewStyle().Foreground(colorDimmed).Render(f.Footer))
	}

	sep := lipgloss.NewStyle().Foreground(colorBorder).Render(strings.Repeat("─", panelWidth-4))
	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		sep,
		strings.Join(body, "\n"),
		sep,
		strings.Join(footer, "\n"),
	)

	return lipgloss.NewStyle().
		Width(panelWidth).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Render(content)
}

func sessionBadge(state string) string {
	switch state {
	case "Connected":
		return lipgloss.NewStyle().Foreground(colorHealthy).Render("● " + state)
	case "Connecting":
		return lipgloss.NewStyle().Foreground(colorWarning).Render("◌ " + state)
	default:
		return lipgloss.NewStyle().Foreground(colorDanger).Render("○ " + state)
	}
}

// countLine — «Online: N», с пометкой stale, если последний опрос не удался.
func countLine(f Frame) string {
	if !f.Count.Valid {
		if f.Count.Err {
			return lipgloss.NewStyle().Foreground(colorDanger).Render("Online: ?")
		}
		return ""
	}
	line := fmt.Sprintf("Online: %d", f.Count.Count)
	if f.Count.Err {
		return lipgloss.NewStyle().Foreground(colorWarning).Render(line + " (stale)")
	}
	return line
}
