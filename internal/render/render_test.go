package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/satriahrh/arunika/client/domain/entities"
	"github.com/satriahrh/arunika/client/internal/playback"
)

func TestFormatClock(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{999 * time.Millisecond, "0:00"},
		{time.Second, "0:01"},
		{59 * time.Second, "0:59"},
		{60 * time.Second, "1:00"},
		{75*time.Second + 500*time.Millisecond, "1:15"},
		{61 * time.Minute, "61:00"},
	}

	for _, tt := range tests {
		if got := FormatClock(tt.in); got != tt.want {
			t.Errorf("FormatClock(%s): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestRenderer_Transcript(t *testing.T) {
	r := NewRenderer(0)

	if got := r.Transcript(nil); !strings.Contains(got, "start talking") {
		t.Errorf("Expected instruction for an empty log, got %q", got)
	}

	user := entities.NewUserMessage("What time is it?", entities.InputTypeAudio)
	bot := entities.NewBotMessage("It is noon.", "file:///a.mp3", entities.InputTypeAudio)
	got := r.Transcript([]entities.Message{user, bot})

	for _, want := range []string{"You", "Bot", "What time is it?", "It is noon.", "♪ audio", "🎤"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected transcript to contain %q, got %q", want, got)
		}
	}
	if strings.Index(got, "What time is it?") > strings.Index(got, "It is noon.") {
		t.Error("Expected messages in log order")
	}
}

func TestRenderer_TextMessageHasNoMarkers(t *testing.T) {
	r := NewRenderer(0)
	got := r.Message(entities.NewUserMessage("hi", entities.InputTypeText))

	if strings.Contains(got, "🎤") || strings.Contains(got, "♪") {
		t.Errorf("Expected no markers on a typed message, got %q", got)
	}
}

func TestRenderer_Playback(t *testing.T) {
	r := NewRenderer(0)

	tests := []struct {
		name   string
		status playback.Status
		want   string
	}{
		{name: "unloaded", status: playback.Status{State: playback.StateUnloaded}, want: "no audio"},
		{name: "failed", status: playback.Status{State: playback.StateUnloaded, Error: "404"}, want: "audio unavailable: 404"},
		{name: "loading", status: playback.Status{State: playback.StateLoading}, want: "loading"},
		{
			name:   "paused",
			status: playback.Status{State: playback.StateLoaded, Position: 3 * time.Second, Duration: 12 * time.Second},
			want:   "▶ 0:03 / 0:12",
		},
		{
			name:   "playing",
			status: playback.Status{State: playback.StateLoaded, Playing: true, Position: 61 * time.Second, Duration: 90 * time.Second},
			want:   "⏸ 1:01 / 1:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Playback(tt.status); !strings.Contains(got, tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRenderer_Error(t *testing.T) {
	got := NewRenderer(0).Error(errors.New("could not send message: boom"))
	if !strings.Contains(got, "could not send message: boom") {
		t.Errorf("Unexpected error line %q", got)
	}
}
