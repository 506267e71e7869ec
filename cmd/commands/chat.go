package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain"
	"github.com/satriahrh/arunika/client/internal/app"
	"github.com/satriahrh/arunika/client/internal/recording"
	"github.com/satriahrh/arunika/client/internal/render"
)

const chatHelp = `Commands:
  /record    start recording, run again to stop and send
  /play      play or pause the latest reply
  /stop      stop playback
  /history   print the whole conversation
  /quit      leave the chat
Anything else is sent as a text message.`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk with the assistant interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Recording.Init(cmd.Context()); err != nil {
			logger.Warn("Microphone unavailable", zap.Error(err))
		}
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a)
	},
}

// chatSession is the state of one interactive chat
type chatSession struct {
	app      *app.App
	renderer *render.Renderer
	out      io.Writer
}

// runChat reads lines from in until EOF or /quit
func runChat(ctx context.Context, in io.Reader, out io.Writer, a *app.App) error {
	s := &chatSession{app: a, renderer: render.NewRenderer(0), out: out}

	if a.Conversation.ShowInstruction() {
		fmt.Fprintln(out, render.Instruction)
	}
	fmt.Fprintln(out, chatHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := s.handle(ctx, line); err != nil {
			fmt.Fprintln(out, s.renderer.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *chatSession) handle(ctx context.Context, line string) error {
	switch line {
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
		return nil
	case "/history":
		fmt.Fprintln(s.out, s.renderer.Transcript(s.app.Conversation.Messages()))
		return nil
	case "/record":
		return s.toggleRecording(ctx)
	case "/play":
		if err := s.playLatest(ctx); err != nil {
			return err
		}
	case "/stop":
		if err := s.app.Playback.Stop(); err != nil {
			return err
		}
	default:
		if strings.HasPrefix(line, "/") {
			return fmt.Errorf("unknown command %s, try /help", line)
		}
		if _, err := s.app.SubmitText(ctx, line); err != nil {
			return err
		}
		s.printLastInteraction()
		return nil
	}

	fmt.Fprintln(s.out, s.renderer.Playback(s.app.Playback.Status()))
	return nil
}

func (s *chatSession) toggleRecording(ctx context.Context) error {
	status := s.app.Recording.Status()
	if !status.Permission {
		return domain.ErrPermissionDenied
	}
	if status.State != recording.StateRecording {
		if err := s.app.Recording.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "🎤 recording, type /record again to send")
		return nil
	}

	if err := s.app.Recording.Stop(ctx); err != nil {
		return err
	}
	s.printLastInteraction()
	return nil
}

// playLatest toggles playback of the newest reply that has audio
func (s *chatSession) playLatest(ctx context.Context) error {
	messages := s.app.Conversation.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if !m.HasAudio() {
			continue
		}
		if s.app.Playback.Status().Source == m.AudioURI {
			return s.app.Playback.PlayPause()
		}
		return s.app.Playback.SetSource(ctx, m.AudioURI, true)
	}
	return errors.New("no reply to play yet")
}

func (s *chatSession) printLastInteraction() {
	last := s.app.Conversation.LastInteraction()
	if len(last) > 0 {
		fmt.Fprintln(s.out, s.renderer.Transcript(last))
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
