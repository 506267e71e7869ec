// Package render formats the conversation for the terminal.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/satriahrh/arunika/client/domain/entities"
	"github.com/satriahrh/arunika/client/internal/playback"
)

// Instruction is shown while the conversation is empty
const Instruction = "💡 Press the record button, or type a message, to start talking with the bot."

// Theme defines the color scheme.
type Theme struct {
	User  lipgloss.Color
	Bot   lipgloss.Color
	Dim   lipgloss.Color
	Error lipgloss.Color
}

// DefaultTheme matches the mobile client colors.
var DefaultTheme = Theme{
	User:  lipgloss.Color("#0a7ea4"),
	Bot:   lipgloss.Color("#00ff9f"),
	Dim:   lipgloss.Color("#6e7681"),
	Error: lipgloss.Color("#ff5f56"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	Body      lipgloss.Style
	Meta      lipgloss.Style
	Error     lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		UserLabel: lipgloss.NewStyle().Bold(true).Foreground(t.User),
		BotLabel:  lipgloss.NewStyle().Bold(true).Foreground(t.Bot),
		Body:      lipgloss.NewStyle().PaddingLeft(2),
		Meta:      lipgloss.NewStyle().Foreground(t.Dim),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(t.Error),
	}
}

// Renderer turns messages and player state into terminal text.
type Renderer struct {
	Styles Styles
	// Width wraps message bodies; zero disables wrapping.
	Width int
}

// NewRenderer creates a renderer with the default theme
func NewRenderer(width int) *Renderer {
	return &Renderer{Styles: NewStyles(DefaultTheme), Width: width}
}

// Message renders a single message: a header line with the author, time and
// audio marker, then the indented body.
func (r *Renderer) Message(m entities.Message) string {
	label := r.Styles.UserLabel.Render("You")
	if m.Type == entities.MessageTypeBot {
		label = r.Styles.BotLabel.Render("Bot")
	}

	meta := []string{m.Timestamp.Format("15:04")}
	if m.InputType == entities.InputTypeAudio && m.Type == entities.MessageTypeUser {
		meta = append(meta, "🎤")
	}
	if m.HasAudio() {
		meta = append(meta, "♪ audio")
	}

	body := r.Styles.Body
	if r.Width > 4 {
		body = body.Width(r.Width)
	}
	return label + " " + r.Styles.Meta.Render(strings.Join(meta, " · ")) + "\n" + body.Render(m.Content)
}

// Transcript renders the whole log, or the instruction when it is empty
func (r *Renderer) Transcript(messages []entities.Message) string {
	if len(messages) == 0 {
		return r.Styles.Meta.Render(Instruction)
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, r.Message(m))
	}
	return strings.Join(parts, "\n\n")
}

// Playback renders a one line player status
func (r *Renderer) Playback(s playback.Status) string {
	switch s.State {
	case playback.StateUnloaded:
		if s.Error != "" {
			return r.Styles.Error.Render("audio unavailable: " + s.Error)
		}
		return r.Styles.Meta.Render("no audio")
	case playback.StateLoading:
		return r.Styles.Meta.Render("loading…")
	}

	icon := "▶"
	if s.Playing {
		icon = "⏸"
	}
	return fmt.Sprintf("%s %s / %s", icon, FormatClock(s.Position), FormatClock(s.Duration))
}

// Error renders a failure line
func (r *Renderer) Error(err error) string {
	return r.Styles.Error.Render("✗ " + err.Error())
}

// FormatClock formats d as m:ss, truncating to whole seconds
func FormatClock(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
